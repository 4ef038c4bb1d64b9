package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/fairmind/internal/analysis"
	"github.com/fractal-lba/fairmind/internal/auth"
	"github.com/fractal-lba/fairmind/internal/cache"
	"github.com/fractal-lba/fairmind/internal/journal"
	"github.com/fractal-lba/fairmind/internal/metrics"
	"github.com/fractal-lba/fairmind/internal/server"
	"github.com/fractal-lba/fairmind/internal/store"
	"github.com/fractal-lba/fairmind/internal/tenant"
	"github.com/fractal-lba/fairmind/pkg/otel"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Tracing is opt-in
	if endpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""); endpoint != "" {
		cfg := otel.DefaultConfig("fairmind")
		cfg.CollectorEndpoint = endpoint
		cfg.CollectorInsecure = getEnv("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true"
		cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
		tp, err := otel.InitTracer(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to init tracer", zap.Error(err))
		}
		defer otel.Shutdown(context.Background(), tp)
	}

	backend := getEnv("STORE_BACKEND", "memory")
	dsn := getEnv("STORE_DSN", "")
	if backend == "memory" && dsn == "" {
		dsn = "data/analyses.json"
	}
	results, err := store.Open(ctx, backend, dsn)
	if err != nil {
		logger.Fatal("failed to open result store", zap.String("backend", backend), zap.Error(err))
	}
	if pg, ok := results.(*store.PostgresStore); ok {
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate result store", zap.Error(err))
		}
	}

	jrnl, err := journal.Open(getEnv("JOURNAL_DIR", "data/journal"))
	if err != nil {
		logger.Fatal("failed to open journal", zap.Error(err))
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	tokenRate := getEnvInt("TOKEN_RATE", 20)
	limiter := rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2)

	// Per-tenant quotas are opt-in; without a tenants file only the global
	// limiter applies.
	var tenants *tenant.Manager
	if path := getEnv("TENANTS_FILE", ""); path != "" {
		tenants = tenant.NewManager()
		if err := tenants.LoadFile(path); err != nil {
			logger.Fatal("failed to load tenants", zap.Error(err))
		}
		if _, err := tenants.Get(tenant.DefaultID); errors.Is(err, tenant.ErrTenantNotFound) {
			tenants.Register(tenant.DefaultTenant(float64(tokenRate), tokenRate*2))
		}
		logger.Info("tenants loaded", zap.Int("count", tenants.Len()))
	}

	var authConfig *auth.Config
	if getEnv("AUTH_ENABLED", "false") == "true" {
		authConfig = auth.DefaultConfig()
	}

	engine := analysis.New(analysis.WithLogger(logger), analysis.WithMetrics(m))
	srv := server.New(server.Deps{
		Engine:  engine,
		Store:   results,
		Cache:   cache.NewResults(getEnvInt("CACHE_SIZE", 1024), time.Duration(getEnvInt("CACHE_TTL_SECONDS", 900))*time.Second),
		Journal: jrnl,
		Metrics: m,
		Limiter: limiter,
		Tenants: tenants,
		Logger:  logger,
	}, server.Config{
		MaxBodyBytes: int64(getEnvInt("MAX_BODY_MB", 32)) << 20,
		ResultTTL:    time.Duration(getEnvInt("RESULT_TTL_HOURS", 24)) * time.Hour,
		SigningKey:   []byte(getEnv("SIGNING_KEY", "")),
		MetricsUser:  getEnv("METRICS_USER", ""),
		MetricsPass:  getEnv("METRICS_PASS", ""),
		Auth:         authConfig,
	})

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(getEnvInt("WRITE_TIMEOUT_SECONDS", 300)) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", zap.String("port", port), zap.String("store", backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := jrnl.Close(); err != nil {
		logger.Error("error closing journal", zap.Error(err))
	}
	if err := results.Close(); err != nil {
		logger.Error("error closing result store", zap.Error(err))
	}
	logger.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
