package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/tenantguard/internal/app"
	"github.com/odyssey-erp/tenantguard/internal/audit"
	"github.com/odyssey-erp/tenantguard/internal/authz"
	"github.com/odyssey-erp/tenantguard/internal/platform/cache"
	"github.com/odyssey-erp/tenantguard/internal/platform/db"
	"github.com/odyssey-erp/tenantguard/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: 30 * time.Minute})
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

	authzRepo := authz.NewRepository(pool)
	grants := authz.NewGrants(authzRepo, authz.NewRedisGrantCache(redisClient, cfg.GrantCacheTTL, logger, nil), logger)

	recordJob := jobs.NewAuditRecordJob(audit.NewPGRepository(pool), logger, nil)
	warmupJob := jobs.NewGrantsWarmupJob(grants, logger, nil)

	warmupTask, err := jobs.NewGrantsWarmupTask(false)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			cfg.AuditQueue:    6,
			jobs.QueueDefault: 1,
		},
		Handlers: []jobs.TaskHandler{
			{Type: audit.TaskRecord, Handler: recordJob.Handle},
			{Type: jobs.TaskGrantsWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.GrantsWarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("audit_queue", cfg.AuditQueue), slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
