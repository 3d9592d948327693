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

	"github.com/praxis-legal/praxis/internal/app"
	"github.com/praxis-legal/praxis/internal/billing/conversion"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/billing/ledger"
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

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
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

	tokens := shared.NewTokenStore(redisClient, cfg.TokenTTL)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	publisher := jobs.NewQueuePublisher(queueClient, logger)

	directory := clients.NewRepository(dbpool)
	allocator := sequence.NewAllocator(sequence.NewRepository(dbpool)).Instrument(metrics)

	quotationService := quotations.NewService(quotations.NewRepository(dbpool), directory, allocator, publisher, logger)
	invoiceService := invoices.NewService(invoices.NewRepository(dbpool), directory, allocator, logger)
	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), idempotencyStore, publisher, metrics, logger)
	conversionService := conversion.NewService(conversion.NewRepository(dbpool), publisher, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Tokens:            tokens,
		QuotationHandler:  quotations.NewHandler(logger, quotationService),
		InvoiceHandler:    invoices.NewHandler(logger, invoiceService),
		PaymentHandler:    ledger.NewHandler(logger, ledgerService),
		ConversionHandler: conversion.NewHandler(logger, conversionService),
		JobsHandler:       jobs.NewHandler(inspector, logger),
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
