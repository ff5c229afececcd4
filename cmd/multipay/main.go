package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/multipay/internal/app"
	"github.com/odyssey-erp/multipay/internal/fx"
	"github.com/odyssey-erp/multipay/internal/ledger"
	"github.com/odyssey-erp/multipay/internal/multipay"
	"github.com/odyssey-erp/multipay/internal/observability"
	"github.com/odyssey-erp/multipay/internal/platform/cache"
	"github.com/odyssey-erp/multipay/internal/platform/db"
	"github.com/odyssey-erp/multipay/internal/shared"
	"github.com/odyssey-erp/multipay/jobs"
)

var version = "dev"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := app.LoadDotEnv(".env"); err != nil {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueOpts, err := cache.QueueOptions(cfg.RedisAddr)
	if err != nil {
		logger.Error("queue options", slog.Any("error", err))
		os.Exit(1)
	}
	jobClient, err := jobs.NewClient(queueOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics(version)

	rates := fx.NewCachedRates(fx.NewRateRepository(dbpool), redisClient, cfg.FXCacheTTL)
	converter := fx.NewConverter(rates)

	ledgerRepo := ledger.NewRepository(dbpool)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	service := multipay.NewService(ledgerRepo, multipay.NewRedisStore(redisClient, cfg.WizardTTL), converter, auditLogger)
	service.SetLogger(logger)
	service.SetEDIFormat(cfg.EDIExpectedFormat)
	service.SetCalculator(multipay.NewCalculator(converter, multipay.StandardWriteOff{}, multipay.NewLabels(cfg.LabelLocale)))
	service.SetLocker(shared.NewRedisLocker(redisClient))
	service.SetNotifier(jobClient)
	service.SetMetrics(multipay.NewMetrics(metrics.Registerer()))

	multipayHandler := multipay.NewHandler(logger, service, idempotencyStore)
	jobHandler := jobs.NewHandler(asynq.NewInspector(queueOpts), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		MultipayHandler: multipayHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("version", version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
