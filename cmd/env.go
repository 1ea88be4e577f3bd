package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prospect-labs/leadgen-cli/internal/breaker"
	"github.com/prospect-labs/leadgen-cli/internal/dedup"
	"github.com/prospect-labs/leadgen-cli/internal/executor"
	"github.com/prospect-labs/leadgen-cli/internal/queue"
	"github.com/prospect-labs/leadgen-cli/internal/ratelimit"
	"github.com/prospect-labs/leadgen-cli/internal/store"
	"github.com/prospect-labs/leadgen-cli/pkg/apify"
)

// appEnv holds the initialized store, redis collaborators, provider client,
// and executor shared by the serve/worker/fetch commands.
type appEnv struct {
	Store   store.Store
	Redis   *redis.Client
	Queue   *queue.Queue
	Breaker *breaker.Breaker
	Limiter *ratelimit.Limiter // nil when rate limiting is disabled
	Apify   apify.Client
	Engine  *dedup.Engine
	Exec    *executor.Executor
}

// Close releases resources held by the environment.
func (env *appEnv) Close() {
	if env.Redis != nil {
		_ = env.Redis.Close()
	}
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, redis-backed collaborators, the provider client,
// and the executor. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "ping redis")
	}

	q := queue.New(rdb, time.Duration(cfg.Worker.ProgressTTLSecs)*time.Second)
	brk := breaker.New(rdb, breaker.Config{FailureThreshold: cfg.Breaker.FailureThreshold})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(rdb, cfg.RateLimit.Requests,
			time.Duration(cfg.RateLimit.WindowSecs)*time.Second)
		zap.L().Info("provider rate limiter enabled",
			zap.Int("requests", cfg.RateLimit.Requests),
			zap.Int("window_secs", cfg.RateLimit.WindowSecs),
		)
	}

	apifyClient := apify.NewClient(cfg.Apify.Token,
		apify.WithBaseURL(cfg.Apify.BaseURL),
		apify.WithRateLimit(cfg.Apify.RequestsPerS),
	)

	engine := dedup.New(st)

	execCfg := executor.Config{
		Store:    st,
		Breaker:  brk,
		Provider: apifyClient,
		Engine:   engine,
		Progress: q,
		Revoker:  q,
		ActorID:  cfg.Apify.ActorID,
		PageSize: cfg.Apify.PageSize,
	}
	if limiter != nil {
		// Assign only when enabled so the executor sees a true nil interface.
		execCfg.Limiter = limiter
	}
	exec := executor.New(execCfg)

	return &appEnv{
		Store:   st,
		Redis:   rdb,
		Queue:   q,
		Breaker: brk,
		Limiter: limiter,
		Apify:   apifyClient,
		Engine:  engine,
		Exec:    exec,
	}, nil
}
