package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rajasatyajit/EstateHub/config"
	"github.com/rajasatyajit/EstateHub/internal/api"
	"github.com/rajasatyajit/EstateHub/internal/billing"
	"github.com/rajasatyajit/EstateHub/internal/database"
	"github.com/rajasatyajit/EstateHub/internal/ledger"
	"github.com/rajasatyajit/EstateHub/internal/logger"
	"github.com/rajasatyajit/EstateHub/internal/metrics"
	middlewares "github.com/rajasatyajit/EstateHub/internal/middleware"
	"github.com/rajasatyajit/EstateHub/internal/ratelimit"
	"github.com/rajasatyajit/EstateHub/internal/store"
	"github.com/rajasatyajit/EstateHub/internal/upgrade"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// A missing .env is fine; the environment wins either way
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting EstateHub payment service",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Service stopped with error", "error", err)
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate && db.IsConfigured() {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := database.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("initialize redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	stores := store.New(db, rdb, cfg.Checkout.DraftTTL)
	paymentLedger := ledger.New(db)
	sweeper := ledger.NewSweeper(paymentLedger, cfg.Ledger.PendingTimeout, cfg.Ledger.SweepInterval)

	apiHandler := api.NewHandler(api.Deps{
		Processor: upgrade.New(paymentLedger, stores, cfg.Ledger),
		Providers: billing.NewRegistry(billing.NewVNPay(cfg.VNPay), billing.NewMoMo(cfg.MoMo)),
		Ledger:    paymentLedger,
		Users:     stores.Users,
		Drafts:    stores.Drafts,
		Limiter:   ratelimit.NewManager(rdb, cfg.Checkout.RequestsPerMinute),
		Checks:    healthChecks(db, rdb),
	}, cfg, Version, BuildTime, GitCommit)

	router, err := newRouter(cfg, apiHandler)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRouter(cfg *config.Config, h *api.Handler) (*chi.Mux, error) {
	proxies, err := middlewares.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middlewares.RealIP(proxies))
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))
	r.Use(middlewares.Security)

	h.RegisterRoutes(r)
	return r, nil
}

// healthChecks lists the dependencies readiness depends on. An unconfigured
// database is left out so the service can run on the in-memory ledger.
func healthChecks(db *database.DB, rdb *redis.Client) map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{}
	if db.IsConfigured() {
		checks["database"] = db
	}
	if rdb != nil {
		checks["redis"] = api.HealthFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return checks
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", "address", addr, "path", path)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
