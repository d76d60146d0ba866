// Package main is the entry point for the fleet API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/fleetcore/internal/bus"
	"github.com/pkordes/fleetcore/internal/config"
	"github.com/pkordes/fleetcore/internal/escalation"
	"github.com/pkordes/fleetcore/internal/handler"
	"github.com/pkordes/fleetcore/internal/keylock"
	"github.com/pkordes/fleetcore/internal/middleware"
	"github.com/pkordes/fleetcore/internal/repo"
	"github.com/pkordes/fleetcore/internal/service"
	"github.com/pkordes/fleetcore/migrations"
	"github.com/pkordes/fleetcore/spec"
)

func main() {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		// Use plain stderr before the logger is configured.
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("instance", cfg.InstanceID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// --- Storage ----------------------------------------------------------
	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	// --- Event bus --------------------------------------------------------
	events := bus.New(
		bus.NewRegistry(cfg.EventQueueSize, logger),
		bus.Options{CriticalTimeout: cfg.EmergencyDeliveryTimeout},
		logger,
	)

	var relay *bus.RedisRelay
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		relay = bus.NewRedisRelay(client, cfg.RedisChannel, cfg.InstanceID, events, logger)
		events.SetRelay(relay)
		logger.Info("event relay enabled", "channel", cfg.RedisChannel)
	}

	// --- Services ---------------------------------------------------------
	var escalator service.Escalator = escalation.NewLogEscalator(logger)
	if cfg.EscalationWebhookURL != "" {
		escalator = escalation.NewWebhookEscalator(cfg.EscalationWebhookURL, nil)
	}

	deps := service.Deps{Bus: events, Locks: keylock.New(), Logger: logger}
	trips := service.NewTripService(stores.trips, stores.boardings, deps)
	srv := handler.NewServer(handler.Services{
		Trips:     trips,
		Boardings: service.NewBoardingLedger(stores.trips, stores.boardings, deps),
		Locations: service.NewLocationTracker(stores.positions, deps),
		Alerts:    service.NewAlertManager(stores.alerts, trips, escalator, deps),
		Observers: events.Registry(),
	}, cfg.CORSOrigins, logger)

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → Logger → Recoverer
	// → CORS → rate limit → body limit.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewRateLimiter(cfg.RateLimitPerMinute))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))

	srv.Routes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(spec.OpenAPI)
	})

	// --- HTTP Server ------------------------------------------------------
	// WriteTimeout is left unset: /ws connections are long-lived and manage
	// their own write deadlines.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Request contexts, including hijacked websocket ones, end on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Give in-flight requests up to 15 seconds to complete.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

type stores struct {
	trips     repo.TripRepo
	boardings repo.BoardingRepo
	alerts    repo.AlertRepo
	positions repo.PositionRepo
}

// openStores connects to Postgres when DATABASE_URL is set and applies the
// migrations. Without it the in-memory stores are used, which only suits a
// single instance.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return stores{
			trips:     repo.NewMemoryTripRepo(),
			boardings: repo.NewMemoryBoardingRepo(),
			alerts:    repo.NewMemoryAlertRepo(),
			positions: repo.NewMemoryPositionRepo(),
		}, func() {}, nil
	}

	// pgxpool manages a pool of Postgres connections.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, fmt.Errorf("create database pool: %w", err)
	}
	// Verify the DB is reachable before accepting traffic.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return stores{}, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connection established")

	if cfg.AutoMigrate {
		if err := migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return stores{}, nil, err
		}
	}

	return stores{
		trips:     repo.NewTripRepo(pool),
		boardings: repo.NewBoardingRepo(pool),
		alerts:    repo.NewAlertRepo(pool),
		positions: repo.NewPositionRepo(pool),
	}, pool.Close, nil
}

// migrate applies pending goose migrations. goose needs a *sql.DB, so a
// short-lived one is opened with the pool's connection config.
func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, res := range results {
		logger.Info("migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}
