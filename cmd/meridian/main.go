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
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/gateway/finance"
	"github.com/meridian-erp/meridian-erp/internal/gateway/pg"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// batchEnqueuer adapts the jobs client to the invoicing handler.
type batchEnqueuer struct {
	client *jobs.Client
}

func (e batchEnqueuer) EnqueueBatch(ctx context.Context, poNumber string, positions []int, header invoicing.SubmitHeader) (string, error) {
	info, err := e.client.EnqueueBatchSubmit(ctx, jobs.BatchSubmitPayload{
		PONumber:      poNumber,
		Positions:     positions,
		InvoiceNumber: header.InvoiceNumber,
		InvoiceDate:   header.InvoiceDate.Format("2006-01-02"),
		Notes:         header.Notes,
	})
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func main() {
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	memo := cache.New(metrics)

	var financePort invoicing.FinancePort
	switch cfg.FinanceMode {
	case "postgres":
		financePort = pg.NewRepository(dbpool)
	default:
		financePort = finance.NewClient(cfg.FinanceBaseURL, cfg.FinanceToken, nil, logger)
	}

	sequencer := shared.NewInvoiceNumberSequence(redisClient, cfg.SequencePrefix)
	guard := shared.NewSubmissionKeys(dbpool)

	service := invoicing.NewService(logger, financePort, memo, invoicing.ServiceConfig{
		ShortTTL:  cfg.CacheShortTTL,
		LongTTL:   cfg.CacheLongTTL,
		Sequencer: sequencer,
		Guard:     guard,
		Recorder:  metrics,
	})

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	invoicingHandler := invoicing.NewHandler(logger, service, batchEnqueuer{client: jobClient})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InvoicingHandler: invoicingHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
