// Command loadtest opens pairs of websocket sessions and has each side send
// direct messages to the other through the live frame gateway.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"campus-chat/internal/identity"
	"campus-chat/internal/logger"
)

type options struct {
	wsURL    string
	secret   string
	issuer   string
	pairs    int
	messages int
	interval time.Duration
	drain    time.Duration
}

type counters struct {
	sent, received, failed atomic.Int64
}

func main() {
	var opts options
	flag.StringVar(&opts.wsURL, "ws", "ws://localhost:8080/ws", "websocket endpoint")
	flag.StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "HS256 secret shared with the server")
	flag.StringVar(&opts.issuer, "issuer", os.Getenv("JWT_ISSUER"), "token issuer")
	flag.IntVar(&opts.pairs, "pairs", 50, "number of user pairs")
	flag.IntVar(&opts.messages, "messages", 20, "messages per user")
	flag.DurationVar(&opts.interval, "interval", 10*time.Millisecond, "delay between sends")
	flag.DurationVar(&opts.drain, "drain", 2*time.Second, "time to keep reading after the last send")
	flag.Parse()

	log := logger.New("info", true)
	if opts.secret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}

	log.Info().Int("users", opts.pairs*2).Int("messages", opts.messages).Msg("starting load test")
	start := time.Now()

	var (
		wg sync.WaitGroup
		c  counters
	)
	for i := 0; i < opts.pairs; i++ {
		wg.Add(1)
		go func(pair int) {
			defer wg.Done()
			runPair(log, opts, &c, pair)
		}(i)
	}
	wg.Wait()

	log.Info().
		Int64("sent", c.sent.Load()).
		Int64("received", c.received.Load()).
		Int64("failed", c.failed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

func runPair(log zerolog.Logger, opts options, c *counters, pair int) {
	a := fmt.Sprintf("u_%d_a@loadtest.local", pair)
	b := fmt.Sprintf("u_%d_b@loadtest.local", pair)

	var wg sync.WaitGroup
	wg.Add(2)
	go chatter(&wg, log, opts, c, a, b)
	go chatter(&wg, log, opts, c, b, a)
	wg.Wait()
}

func token(opts options, subject string) (string, error) {
	claims := identity.Claims{
		Name:  subject,
		Roles: []string{identity.RoleStudent},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    opts.issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.secret))
}

func chatter(wg *sync.WaitGroup, log zerolog.Logger, opts options, c *counters, user, peer string) {
	defer wg.Done()
	log = log.With().Str("user", user).Logger()

	tok, err := token(opts, user)
	if err != nil {
		log.Error().Err(err).Msg("could not sign token")
		c.failed.Add(1)
		return
	}
	conn, _, err := websocket.DefaultDialer.Dial(opts.wsURL+"?token="+tok, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket connect failed")
		c.failed.Add(1)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// the server may coalesce queued events into one frame
			c.received.Add(int64(len(bytes.Split(bytes.TrimSpace(data), []byte("\n")))))
		}
	}()

	for i := 0; i < opts.messages; i++ {
		frame := map[string]any{
			"type": "direct.send",
			"data": map[string]string{
				"recipientId": peer,
				"content":     fmt.Sprintf("load test message %d from %s", i, user),
			},
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Warn().Err(err).Msg("send failed")
			c.failed.Add(1)
			break
		}
		c.sent.Add(1)
		time.Sleep(opts.interval)
	}

	time.Sleep(opts.drain)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}
