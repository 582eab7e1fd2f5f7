package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/syncforge/chatbridge/internal/adapter/googlechat"
	cbhttp "github.com/syncforge/chatbridge/internal/adapter/http"
	cbnats "github.com/syncforge/chatbridge/internal/adapter/nats"
	cbotel "github.com/syncforge/chatbridge/internal/adapter/otel"
	"github.com/syncforge/chatbridge/internal/adapter/postgres"
	"github.com/syncforge/chatbridge/internal/adapter/ristretto"
	"github.com/syncforge/chatbridge/internal/adapter/ws"
	"github.com/syncforge/chatbridge/internal/config"
	"github.com/syncforge/chatbridge/internal/logger"
	"github.com/syncforge/chatbridge/internal/middleware"
	"github.com/syncforge/chatbridge/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workers", cfg.Worker.Count,
		"max_attempts", cfg.Retry.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := cbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	shutdownMetrics, err := cbotel.InitMetrics(ctx, cfg.Metrics, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	metrics, err := cbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metric instruments: %w", err)
	}

	mappingCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer mappingCache.Close()

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	chat := googlechat.NewClient(cfg.Chat)

	mapper := service.NewMapperService(store, mappingCache, cfg.Cache.TTL, hub)
	notifier := service.NewNotifierService(store, mapper, queue, metrics)
	ingest := service.NewIngestService(store, queue, metrics, log)
	router := service.NewRouterService(store, mapper, log)
	workers := service.NewWorkerService(store, router, queue, cfg, metrics, hub, log)
	dispatcher := service.NewDispatcherService(store, chat, queue, mapper, cfg, metrics, hub, log)
	audit := service.NewAuditService(store, queue, log)
	members := service.NewMemberService(store, chat, log)

	cancelConsume, err := ingest.ConsumeQueue(ctx)
	if err != nil {
		return fmt.Errorf("event consumer: %w", err)
	}
	defer cancelConsume()

	// --- HTTP ---

	handlers := &cbhttp.Handlers{
		Mapper:   mapper,
		Notifier: notifier,
		Ingest:   ingest,
		Audit:    audit,
		Members:  members,
		Store:    store,
		Pool:     pool,
		Queue:    queue,
		Hub:      hub,
	}

	r := chi.NewRouter()
	r.Use(cbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cbhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cbotel.HTTPMiddleware(cfg.Logging.Service))

	cbhttp.MountRoutes(r, handlers, cfg.Chat.WebhookTokenHash)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
