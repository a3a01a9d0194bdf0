package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/audithub/internal/app"
	jobmetrics "github.com/odyssey-erp/audithub/internal/jobs"
	"github.com/odyssey-erp/audithub/internal/observability"
	"github.com/odyssey-erp/audithub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "audithub-worker")
	metrics := observability.NewMetrics()

	services, err := app.NewServices(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()

	sweep := jobs.NewIntegritySweepJob(services.Exports, logger, jobmetrics.NewMetrics(metrics.Registerer()))
	sweepTask, err := jobs.NewIntegritySweepTask(jobs.IntegritySweepPayload{BatchSize: cfg.IntegritySweepBatch})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if cfg.IntegritySweepCron != "" {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.IntegritySweepCron, Task: sweepTask})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIntegritySweep, Handler: sweep.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
