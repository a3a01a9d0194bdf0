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

	"github.com/odyssey-erp/audithub/internal/app"
	audittrailhttp "github.com/odyssey-erp/audithub/internal/audittrail/http"
	exporthttp "github.com/odyssey-erp/audithub/internal/export/http"
	"github.com/odyssey-erp/audithub/internal/observability"
	periodshttp "github.com/odyssey-erp/audithub/internal/periods/http"
	signoffhttp "github.com/odyssey-erp/audithub/internal/signoff/http"
	snapshothttp "github.com/odyssey-erp/audithub/internal/snapshot/http"
	"github.com/odyssey-erp/audithub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "audithub")
	metrics := observability.NewMetrics()

	services, err := app.NewServices(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()

	if services.Gotenberg != nil {
		if err := services.Gotenberg.Ping(ctx); err != nil {
			logger.Warn("gotenberg ping", slog.Any("error", err))
		}
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              services.Pool,
		PeriodsHandler:    periodshttp.NewHandler(logger, services.Periods),
		SnapshotHandler:   snapshothttp.NewHandler(logger, services.Snapshots),
		SignOffHandler:    signoffhttp.NewHandler(logger, services.SignOffs),
		ExportHandler:     exporthttp.NewHandler(logger, services.Exports),
		AuditTrailHandler: audittrailhttp.NewHandler(logger, services.Audit),
		JobHandler:        jobs.NewHandler(inspector, jobsClient, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
