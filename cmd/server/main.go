package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verdict/internal/approval"
	approvalhandler "verdict/internal/approval/handler"
	"verdict/internal/audit"
	"verdict/internal/events"
	"verdict/internal/idempotency"
	"verdict/internal/platform/config"
	"verdict/internal/platform/httpserver"
	"verdict/internal/platform/logger"
	"verdict/internal/platform/postgres"
	platformredis "verdict/internal/platform/redis"
	"verdict/internal/policy"
	policyhandler "verdict/internal/policy/handler"
	"verdict/internal/ratelimit"
	httptransport "verdict/internal/transport/http"
)

// main wires dependencies and owns the server lifecycle. Business logic lives
// in the internal service packages. Postgres, Redis, and Kafka are all
// optional: an unconfigured dependency falls back to the in-memory
// equivalent so the engine runs standalone in development.
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := newPublisher(cfg, log)
	defer publisher.Close()

	engineCfg, err := approval.LoadConfig(cfg.PolicyConfigPath)
	if err != nil {
		return err
	}

	requestStore, policyStore, auditStore, err := newStores(db, cfg.StoreTimeout, log)
	if err != nil {
		return err
	}

	metrics := policy.NewMetrics()
	evaluator := policy.NewEvaluator(log, policy.WithEvaluatorMetrics(metrics))
	matcher := policy.NewMatcher(evaluator, policy.WithMatcherMetrics(metrics))
	auditor := audit.NewRecorder(auditStore, log)

	policyService, err := policy.NewService(policyStore, matcher, auditor, log,
		policy.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	approvalService, err := approval.NewService(requestStore, policyStore, matcher, engineCfg, auditor, log,
		approval.WithMetrics(approval.NewMetrics()),
		approval.WithPublisher(publisher),
	)
	if err != nil {
		return err
	}

	limiter, guard, err := newGuards(cfg, redisClient, log)
	if err != nil {
		return err
	}

	checks := map[string]httptransport.HealthCheck{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Approval: approvalhandler.New(approvalService, limiter, guard, log),
		Policy:   policyhandler.New(policyService, log),
		Logger:   log,
		Checks:   checks,
	})

	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// newStores builds the persistence layer, on Postgres when configured and in
// memory otherwise. Every Postgres store call is bounded by storeTimeout.
func newStores(db *sql.DB, storeTimeout time.Duration, log *slog.Logger) (approval.RequestStore, policy.Store, audit.Store, error) {
	if db == nil {
		log.Warn("postgres not configured, using in-memory stores")
		return approval.NewMemoryStore(), policy.NewMemoryStore(), audit.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	requests := approval.NewPostgres(db).WithTimeout(storeTimeout)
	if err := requests.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, err
	}
	policies := policy.NewPostgres(db).WithTimeout(storeTimeout)
	if err := policies.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, err
	}
	audits := audit.NewPostgres(db).WithTimeout(storeTimeout)
	if err := audits.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, err
	}
	return requests, policies, audits, nil
}

// newGuards builds the rate limiter and idempotency guard, on Redis when
// configured and in memory otherwise.
func newGuards(cfg config.Config, redisClient *platformredis.Client, log *slog.Logger) (*ratelimit.Limiter, *idempotency.Guard, error) {
	var windowStore ratelimit.WindowStore = ratelimit.NewMemoryStore()
	var idemStore idempotency.Store = idempotency.NewMemoryStore()
	if redisClient != nil {
		windowStore = ratelimit.NewRedisStore(redisClient.Client)
		idemStore = idempotency.NewRedisStore(redisClient.Client)
	} else {
		log.Warn("redis not configured, rate limiting and idempotency are process-local")
	}

	limiter, err := ratelimit.NewLimiter(windowStore, cfg.RateLimitMax, cfg.RateLimitWindow, log,
		ratelimit.WithMetrics(ratelimit.NewMetrics()),
	)
	if err != nil {
		return nil, nil, err
	}
	guard, err := idempotency.NewGuard(idemStore, cfg.IdempotencyTTL, log,
		idempotency.WithMetrics(idempotency.NewMetrics()),
	)
	if err != nil {
		return nil, nil, err
	}
	return limiter, guard, nil
}

func newPublisher(cfg config.Config, log *slog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}
	}
	publisher, err := events.NewKafka(cfg.KafkaBrokers, cfg.EventTopic, log)
	if err != nil {
		log.Error("kafka unavailable, events disabled", "error", err)
		return events.Nop{}
	}
	return publisher
}
