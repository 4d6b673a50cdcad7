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

	"github.com/odyssey-erp/tenantguard/internal/app"
	"github.com/odyssey-erp/tenantguard/internal/audit"
	audithttp "github.com/odyssey-erp/tenantguard/internal/audit/http"
	"github.com/odyssey-erp/tenantguard/internal/authz"
	authzhttp "github.com/odyssey-erp/tenantguard/internal/authz/http"
	"github.com/odyssey-erp/tenantguard/internal/observability"
	"github.com/odyssey-erp/tenantguard/internal/platform/cache"
	"github.com/odyssey-erp/tenantguard/internal/platform/db"
	"github.com/odyssey-erp/tenantguard/internal/principal"
	"github.com/odyssey-erp/tenantguard/jobs"
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

	policies, err := cfg.Policies()
	if err != nil {
		logger.Error("parse authz policies", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: 30 * time.Minute})
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

	metrics := observability.NewMetrics()
	reporter := observability.NewReporter(logger, metrics.Registerer())
	authzMetrics := authz.NewMetrics(metrics.Registerer())

	authzRepo := authz.NewRepository(dbpool)
	grantCache := authz.NewRedisGrantCache(redisClient, cfg.GrantCacheTTL, logger, authzMetrics)
	grants := authz.NewGrants(authzRepo, grantCache, logger)

	auditRepo := audit.NewPGRepository(dbpool)
	var sink audit.Sink = auditRepo
	if cfg.AuditMode == app.AuditModeQueue {
		queueClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		sink = audit.NewQueueSink(queueClient, cfg.AuditQueue)
	}
	auditLogger := audit.NewLogger(sink, reporter, logger)
	logger.Info("audit sink configured", slog.String("mode", cfg.AuditMode))

	engine := authz.NewEngine(authz.EngineConfig{
		Scopes:   authz.NewScopeChecker(authzRepo),
		Grants:   grants,
		Policies: policies,
		Denials:  auditLogger,
		Logger:   logger,
		Metrics:  authzMetrics,
	})
	checker := authz.NewChecker(engine)
	if narrowed := policies.Narrowed(); len(narrowed) > 0 {
		logger.Info("company admin rights narrowed", slog.Any("resource_types", narrowed))
	}

	sessions := principal.NewSessionStore(redisClient, cfg.SessionTTL)
	resolver := principal.NewResolver(sessions, cfg.SessionCookie, logger)

	checkHandler := authzhttp.NewCheckHandler(logger, checker)
	grantsHandler := authzhttp.NewHandler(logger, grants, auditLogger)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(auditRepo), checker)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger, cfg.AuditQueue, jobs.QueueDefault)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Resolver:      resolver,
		CheckHandler:  checkHandler,
		GrantsHandler: grantsHandler,
		AuditHandler:  auditHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
		Readiness: map[string]app.Pinger{
			"postgres": app.PingFunc(dbpool.Ping),
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
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
