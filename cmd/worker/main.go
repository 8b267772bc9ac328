package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/haven-crm/haven/internal/app"
	jobmetrics "github.com/haven-crm/haven/internal/jobs"
	"github.com/haven-crm/haven/internal/platform/cache"
	"github.com/haven-crm/haven/internal/platform/db"
	"github.com/haven-crm/haven/internal/realtime"
	"github.com/haven-crm/haven/jobs"
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
	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4, ApplicationName: "haven-worker"})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)

	relayJob := jobs.NewEventRelayJob(realtime.NewRedisPublisher(redisClient, cfg.EventsChannelPrefix), logger, metrics)
	expiryJob := jobs.NewInvitationExpiryJob(pool, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeRelayEvent, Handler: relayJob.Handle},
			{Type: jobs.TaskTypeExpireInvitations, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: jobs.NewExpireInvitationsTask(), Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(10 * time.Minute)}},
		},
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownGrace)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
