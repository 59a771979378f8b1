package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

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

func main() {
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()
	memo := cache.New(metrics)

	var financePort invoicing.FinancePort
	switch cfg.FinanceMode {
	case "postgres":
		financePort = pg.NewRepository(pool)
	default:
		financePort = finance.NewClient(cfg.FinanceBaseURL, cfg.FinanceToken, nil, logger)
	}

	guard := shared.NewSubmissionKeys(pool)
	service := invoicing.NewService(logger, financePort, memo, invoicing.ServiceConfig{
		ShortTTL:  cfg.CacheShortTTL,
		LongTTL:   cfg.CacheLongTTL,
		Sequencer: shared.NewInvoiceNumberSequence(redisClient, cfg.SequencePrefix),
		Guard:     guard,
		Recorder:  metrics,
	})

	worker := jobs.NewWorker(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
	worker.Handle(jobs.TaskBatchSubmit, jobs.NewBatchSubmitHandler(service, logger))
	worker.Handle(jobs.TaskGuardCleanup, jobs.NewGuardCleanupHandler(guard, logger))
	worker.Cron("45 1 * * *", jobs.NewGuardCleanupTask(), asynq.MaxRetry(3))

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
