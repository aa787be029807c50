package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/auth"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/config"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/feed"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/httpapi"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/hub"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/notify"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/queue"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/realtime"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store/boltstore"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store/postgres"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/telemetry"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracer := telemetry.Setup("queue-service", logger)

	ticketStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend))

	changes, err := openFeed(cfg, logger)
	if err != nil {
		logger.Fatal("open change feed", zap.String("backend", cfg.FeedBackend), zap.Error(err))
	}
	logger.Info("change feed ready", zap.String("backend", cfg.FeedBackend))

	svc := queue.NewService(queue.Dependencies{
		Store:     ticketStore,
		Feed:      changes,
		Announcer: notify.NewAnnouncer(notify.NewProvider(cfg.AnnounceProvider, notify.ChannelAnnounce, logger)),
		Notifier:  notify.NewNotifier(notify.NewProvider(cfg.NotifyProvider, notify.ChannelNotification, logger)),
		Logger:    logger.Named("queue"),
	}, queue.Options{
		Floor:             cfg.TicketFloor,
		MinutesPerTicket:  cfg.MinutesPerTicket,
		AllowCancelCalled: cfg.AllowCancelCalled,
		Catalog:           cfg.Catalog,
	})

	tokens := auth.NewTokenManager(cfg.StaffTokenSecret, cfg.StaffTokenTTLMinutes)
	gate := auth.NewGate(cfg.StaffPassword, cfg.StaffPasswordHash)

	relay := realtime.NewRelay(hub.New(logger.Named("hub")), svc, tokens, cfg.JoinURL(), logger.Named("realtime"))
	subCtx, cancelSubs := context.WithCancel(context.Background())
	unsubscribe, err := changes.Subscribe(subCtx, relay.HandleEvent)
	if err != nil {
		logger.Fatal("subscribe change feed", zap.Error(err))
	}

	refresher := worker.NewRefresher(changes, cfg.RefreshInterval, logger.Named("refresh"))
	if err := refresher.Start(); err != nil {
		logger.Fatal("start refresh job", zap.Error(err))
	}

	api := httpapi.NewHandler(svc, gate, tokens, logger.Named("http"), httpapi.Options{
		JoinURL: cfg.JoinURL(),
		RateLimit: httpapi.RateLimitConfig{
			PerMinute:  cfg.RateLimitPerMinute,
			Burst:      cfg.RateLimitBurst,
			TrustProxy: cfg.TrustProxy,
		},
		SecureCookies: strings.HasPrefix(cfg.PublicURL, "https://"),
	})

	mux := http.NewServeMux()
	mux.Handle("/realtime/", relay.Handler("/realtime"))
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", api.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, mux), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("queue-service listening", zap.String("addr", server.Addr), zap.String("join_url", cfg.JoinURL()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	refresher.Stop()
	unsubscribe()
	cancelSubs()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if err := shutdownTracer(ctx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}
	if closer, ok := changes.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("close change feed", zap.Error(err))
		}
	}
	if err := ticketStore.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
}

func openStore(cfg config.Config) (store.TicketStore, error) {
	if cfg.StoreBackend == config.StoreBackendPostgres {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.Open(ctx, cfg.DatabaseURL)
	}
	return boltstore.Open(cfg.BoltPath)
}

func openFeed(cfg config.Config, logger *zap.Logger) (feed.Feed, error) {
	if cfg.FeedBackend != config.FeedBackendRedis {
		return feed.NewMemory(), nil
	}
	r := feed.NewRedis(feed.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisChannel,
	}, logger.Named("feed"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}
