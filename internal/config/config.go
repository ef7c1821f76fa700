package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string `yaml:"addr"`
	StorageDriver string `yaml:"storage_driver"`
	DBDSN         string `yaml:"db_dsn"`
	RedisAddr     string `yaml:"redis_addr"`

	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`

	MediaDir             string `yaml:"media_dir"`
	ProfileMediaMaxBytes int64  `yaml:"profile_media_max_bytes"`
	ChatMediaMaxBytes    int64  `yaml:"chat_media_max_bytes"`

	PushTimeout       time.Duration `yaml:"push_timeout"`
	FanoutConcurrency int           `yaml:"fanout_concurrency"`
	ClientSendBuffer  int           `yaml:"client_send_buffer"`
	FrameRate         float64       `yaml:"frame_rate"`
	FrameBurst        int           `yaml:"frame_burst"`
	PresenceTTL       time.Duration `yaml:"presence_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

func Default() Config {
	return Config{
		Addr:                 ":8080",
		StorageDriver:        "postgres",
		ProfileMediaMaxBytes: 5 << 20,
		ChatMediaMaxBytes:    25 << 20,
		PushTimeout:          2 * time.Second,
		FanoutConcurrency:    8,
		ClientSendBuffer:     256,
		FrameRate:            10,
		FrameBurst:           20,
		PresenceTTL:          90 * time.Second,
		LogLevel:             "info",
	}
}

// Load layers defaults, a .env file, the YAML file named by CONFIG_FILE and
// the process environment, later sources winning.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("STORAGE_DRIVER", &c.StorageDriver)
	str("DB_DSN", &c.DBDSN)
	str("REDIS_ADDR", &c.RedisAddr)
	str("JWT_SECRET", &c.JWTSecret)
	str("JWT_ISSUER", &c.JWTIssuer)
	str("MEDIA_DIR", &c.MediaDir)
	str("LOG_LEVEL", &c.LogLevel)

	var errs []error
	bytes := func(key string, dst *int64) {
		if v, ok := lookup(key); ok {
			n, err := humanize.ParseBytes(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = int64(n)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	bytes("PROFILE_MEDIA_MAX_BYTES", &c.ProfileMediaMaxBytes)
	bytes("CHAT_MEDIA_MAX_BYTES", &c.ChatMediaMaxBytes)
	duration("PUSH_TIMEOUT", &c.PushTimeout)
	duration("PRESENCE_TTL", &c.PresenceTTL)
	integer("FANOUT_CONCURRENCY", &c.FanoutConcurrency)
	integer("CLIENT_SEND_BUFFER", &c.ClientSendBuffer)
	integer("FRAME_BURST", &c.FrameBurst)

	if v, ok := lookup("FRAME_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FRAME_RATE: %w", err))
		} else {
			c.FrameRate = f
		}
	}
	if v, ok := lookup("LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_PRETTY: %w", err))
		} else {
			c.LogPretty = b
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	switch c.StorageDriver {
	case "postgres":
		if c.DBDSN == "" {
			errs = append(errs, errors.New("DB_DSN is not set"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	if c.ProfileMediaMaxBytes <= 0 || c.ChatMediaMaxBytes <= 0 {
		errs = append(errs, errors.New("media size limits must be positive"))
	}
	if c.PushTimeout <= 0 || c.PresenceTTL <= 0 {
		errs = append(errs, errors.New("PUSH_TIMEOUT and PRESENCE_TTL must be positive"))
	}
	if c.FanoutConcurrency <= 0 || c.ClientSendBuffer <= 0 || c.FrameBurst <= 0 || c.FrameRate <= 0 {
		errs = append(errs, errors.New("concurrency, buffer and frame limits must be positive"))
	}
	return errors.Join(errs...)
}
