package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/praxis-legal/praxis/internal/app"
	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/billing/quotations"
	"github.com/praxis-legal/praxis/internal/billing/sequence"
	"github.com/praxis-legal/praxis/internal/clients"
	"github.com/praxis-legal/praxis/internal/observability"
	"github.com/praxis-legal/praxis/internal/platform/cache"
	"github.com/praxis-legal/praxis/internal/platform/db"
	"github.com/praxis-legal/praxis/internal/shared"
	"github.com/praxis-legal/praxis/jobs"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	metrics := observability.NewMetrics()
	directory := clients.NewRepository(pool)
	allocator := sequence.NewAllocator(sequence.NewRepository(pool)).Instrument(metrics)

	quotationService := quotations.NewService(quotations.NewRepository(pool), directory, allocator, billing.NopPublisher{}, logger)
	invoiceService := invoices.NewService(invoices.NewRepository(pool), directory, allocator, logger)

	sweeps := jobs.NewSweeps(quotationService, invoiceService, metrics, logger)
	recorder := jobs.NewEventRecorder(shared.NewAuditLogger(pool), logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotationExpiry, Handler: sweeps.HandleQuotationExpiry},
			{Type: jobs.TaskInvoiceOverdue, Handler: sweeps.HandleInvoiceOverdue},
			{Type: jobs.TaskBillingEvent, Handler: recorder.HandleBillingEvent},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.QuotationExpirySchedule, Task: jobs.NewQuotationExpiryTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.InvoiceOverdueSchedule, Task: jobs.NewInvoiceOverdueTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
