/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (YAML file + flags)
  2. Build the logger
  3. Open the store (SQLite or Postgres)
  4. Connect Redis for a shared idempotency cache, if configured
  5. Build service, reporter, reward recorder, metrics
  6. Start the code expiry sweeper
  7. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional; see config.example.yaml)
  -port    HTTP server port (default: 8080)
  -db      SQLite path or Postgres DSN (default: ledger.db)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper
  4. Close Redis and the database
  5. Exit

EXAMPLES:
  ./server -db="./data/ledger.db"
  ./server -db=":memory:" -port=3000
  ./server -config=config.yaml

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/audit"
	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/logging"
	"github.com/warp/points-ledger/metrics"
	"github.com/warp/points-ledger/rewards"
	"github.com/warp/points-ledger/store/postgres"
	"github.com/warp/points-ledger/store/rediscache"
	"github.com/warp/points-ledger/store/sqlite"
	"github.com/warp/points-ledger/store/sqlstore"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log, os.Stdout)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()
	checks := map[string]api.Pinger{"database": store}

	// Idempotency cache: shared via Redis, or per-process
	var cache ledger.IdempotencyCache = ledger.NewLRUCache(cfg.Ledger.CacheSize)
	if cfg.Redis.Enabled() {
		client, err := rediscache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		rc := rediscache.New(client, cfg.Redis.TTL)
		defer rc.Close()
		cache = rc
		checks["redis"] = rc
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis idempotency cache")
	}

	catalog, err := rewards.LoadCatalog(cfg.Rewards.Catalog)
	if err != nil {
		return fmt.Errorf("load rewards catalog: %w", err)
	}

	m := metrics.New()
	m.SetBuildInfo(version)

	svc := ledger.NewService(store,
		ledger.WithConfig(ledger.Config{
			MinRedemption: cfg.Ledger.MinRedemption,
			MaxAttempts:   cfg.Ledger.MaxAttempts,
			CodeTTL:       cfg.Ledger.CodeTTL,
		}),
		ledger.WithIdempotencyCache(cache),
		ledger.WithObserver(m),
		ledger.WithLogger(logging.Component(log, "ledger")),
	)
	reporter := audit.NewReporter(store, audit.WithLogger(logging.Component(log, "audit")))
	recorder := rewards.NewRecorder(svc, catalog)

	sweeper := api.NewExpirySweeper(svc, cfg.Sweeper.Interval, log)
	sweeper.Observer = m
	sweeper.Start()
	defer sweeper.Stop()

	handler := api.NewHandler(api.Deps{
		Ledger:   svc,
		Reporter: reporter,
		Rewards:  recorder,
		Logger:   logging.Component(log, "api"),
		Checks:   checks,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateRPS:     cfg.Server.RateLimit.RPS,
		RateBurst:   cfg.Server.RateLimit.Burst,
		TrustProxy:  cfg.Server.TrustProxy,
		Metrics:     m,
		Logger:      logging.Component(log, "http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // CSV exports stream
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("driver", cfg.Database.Driver).
			Int64("min_redemption", cfg.Ledger.MinRedemption).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

func openStore(ctx context.Context, db config.DatabaseConfig) (*sqlstore.Store, error) {
	switch db.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, db.DSN, postgres.Options{})
	default:
		return sqlite.New(db.Path)
	}
}
