package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/hlog"

	"campus-chat/internal/chat"
	"campus-chat/internal/config"
	"campus-chat/internal/db"
	"campus-chat/internal/gateway"
	"campus-chat/internal/group"
	"campus-chat/internal/identity"
	"campus-chat/internal/logger"
	"campus-chat/internal/media"
	myMiddleware "campus-chat/internal/middleware"
	"campus-chat/internal/notification"
	"campus-chat/internal/presence"
	"campus-chat/internal/push"
	"campus-chat/internal/receipt"
	"campus-chat/internal/storage"
	"campus-chat/internal/storage/memory"
	"campus-chat/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", true)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	var (
		store     storage.Store
		directory identity.Directory
	)
	switch cfg.StorageDriver {
	case "postgres":
		database, err := db.NewDatabase(cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer database.Close()
		if err := database.AutoMigrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("connected to postgres")
		store = postgres.NewStore(database.Conn)
		directory = identity.NewSQLDirectory(database.Conn)
	default:
		log.Warn().Msg("using in-memory storage; nothing survives a restart")
		store = memory.New()
		directory = identity.StaticDirectory{}
	}

	blobs, err := media.OpenPebble(cfg.MediaDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open media store")
	}
	defer blobs.Close()

	// 2. Redis is optional; without it the instance runs alone.
	var rdb *redis.Client
	var registry presence.Registry = presence.NewMemoryRegistry()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		registry = presence.NewRedisRegistry(rdb, cfg.PresenceTTL)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	}

	// 3. Push and presence
	fanout := push.FanoutOptions{Concurrency: cfg.FanoutConcurrency, Timeout: cfg.PushTimeout}
	hub := push.NewHub(rdb, log)
	bus := presence.NewBus(registry, hub, store, fanout, log)
	hub.OnPresence(
		func(id string) { bus.SetOnline(context.WithoutCancel(ctx), id) },
		func(id string) { bus.SetOffline(context.WithoutCancel(ctx), id) },
	)
	go hub.Run(ctx)
	if rdb != nil {
		go hub.SubscribeToRedis(ctx)
	}
	go bus.KeepAlive(ctx, cfg.PresenceTTL/3, hub.Users)

	// 4. Features
	notifier := notification.NewDispatcher(store, hub, directory, log)
	tracker := receipt.NewTracker(store, hub, log)
	chatSvc := chat.NewService(store, hub, tracker, notifier, log)
	groupSvc := group.NewService(store, hub, notifier, tracker, fanout, log)
	mediaSvc := media.NewService(blobs, media.Limits{
		ProfileMaxBytes: cfg.ProfileMediaMaxBytes,
		ChatMaxBytes:    cfg.ChatMediaMaxBytes,
	}, log)
	chatSvc.SetBlobRemover(mediaSvc)

	chatHandler := chat.NewHandler(chatSvc)
	mediaHandler := media.NewHandler(mediaSvc, chatSvc, groupSvc)
	groupHandler := group.NewHandler(groupSvc).WithUpload(mediaHandler.UploadGroup)
	notificationHandler := notification.NewHandler(notifier)
	presenceHandler := presence.NewHandler(bus)
	frames := gateway.NewRouter(chatSvc, groupSvc, bus, log)

	authMiddleware := myMiddleware.NewAuthMiddleware(identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer))

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", push.ServeWs(hub, frames, push.ClientOptions{
			SendBuffer: cfg.ClientSendBuffer,
			FrameRate:  cfg.FrameRate,
			FrameBurst: cfg.FrameBurst,
		}))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(accessLog)
		r.Use(authMiddleware.Handle)
		r.Route("/chat", func(r chi.Router) {
			chatHandler.Routes(r)
			mediaHandler.ChatRoutes(r)
		})
		r.Route("/media", mediaHandler.AssetRoutes)
		r.Route("/groups", groupHandler.Routes)
		r.Route("/notifications", notificationHandler.Routes)
		r.Route("/presence", presenceHandler.Routes)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// accessLog records one line per API request. The websocket route is kept
// out of it because the upgrade needs the raw connection.
var accessLog = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Msg("request")
})
