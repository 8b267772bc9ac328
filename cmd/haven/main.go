package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/app"
	"github.com/haven-crm/haven/internal/auth"
	"github.com/haven-crm/haven/internal/billing"
	"github.com/haven-crm/haven/internal/members"
	"github.com/haven-crm/haven/internal/observability"
	"github.com/haven-crm/haven/internal/platform/cache"
	"github.com/haven-crm/haven/internal/platform/db"
	"github.com/haven-crm/haven/internal/properties"
	"github.com/haven-crm/haven/internal/ratelimit"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/realtime"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/internal/tenant"
	"github.com/haven-crm/haven/jobs"
	"github.com/haven-crm/haven/migrations"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "haven"})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.PGMigrate {
		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", slog.Any("versions", applied))
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	strict := ratelimit.New(ratelimit.Config{
		Name:          ratelimit.Strict,
		Interval:      cfg.RateLimitStrictInterval,
		MaxTracked:    cfg.RateLimitMaxTracked,
		SweepInterval: cfg.RateLimitSweepInterval,
	})
	standard := ratelimit.New(ratelimit.Config{
		Name:          ratelimit.Standard,
		Interval:      cfg.RateLimitStandardInterval,
		MaxTracked:    cfg.RateLimitMaxTracked,
		SweepInterval: cfg.RateLimitSweepInterval,
	})
	registry := ratelimit.NewRegistry(strict, standard)
	strictChecker := checkerFor(cfg, redisClient, strict)
	standardChecker := checkerFor(cfg, redisClient, standard)

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	authService := auth.NewService(auth.NewRepository(pool))
	authenticator := auth.NewSessionAuthenticator(authService)

	var publisher action.Publisher = realtime.NewRedisPublisher(redisClient, cfg.EventsChannelPrefix)
	if cfg.EventsAsync {
		publisher = jobs.NewQueuedPublisher(jobClient)
	}

	pipeline := action.New(action.Config{
		Authenticator: authenticator,
		Tenants:       tenant.New(pool),
		Publisher:     publisher,
		Observer:      metrics,
		Logger:        logger,
	})

	auditLogger := shared.NewAuditLogger()
	membersService := members.NewService(members.Config{
		Repo:          members.NewRepository(pool),
		Mailer:        members.NewJobMailer(jobClient, cfg.AppBaseURL),
		Audit:         auditLogger,
		InvitationTTL: cfg.InvitationTTL,
	})
	propertiesService := properties.NewService(properties.NewRepository(), auditLogger, nil)

	credentials := app.RateLimitMiddleware(ratelimit.Strict, strictChecker, cfg.RateLimitStrictLimit, ratelimit.KeyByIP, metrics, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		Metrics:           metrics,
		RBACMiddleware:    rbac.Middleware{Resolve: authenticator.ResolveRole, Logger: logger},
		StandardLimiter:   standardChecker,
		StandardLimit:     cfg.RateLimitStandardLimit,
		AuthHandler:       auth.NewHandler(logger, authService, authenticator, sessionManager, credentials),
		MembersHandler:    members.NewHandler(logger, membersService, pipeline),
		PropertiesHandler: properties.NewHandler(propertiesService, pipeline),
		BillingHandler:    billing.NewHandler(billing.NewService(), pipeline),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	registry.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("rate_limit_backend", cfg.RateLimitBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownGrace)
		defer cancel()
		defer registry.Shutdown()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// checkerFor returns the shared Redis counter when configured, keeping the
// in-memory limiter as its fallback so the sweep still bounds memory.
func checkerFor(cfg *app.Config, client *redis.Client, limiter *ratelimit.Limiter) ratelimit.Checker {
	if cfg.RateLimitBackend != app.RateLimitBackendRedis {
		return limiter
	}
	rl := ratelimit.NewRedis(client, limiter.Name(), limiter.Interval())
	rl.Fallback = limiter
	return rl
}
