// Package bootstrap wires the shared runtime of the api and worker binaries
// from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genforge/internal/adapter/repo"
	"genforge/internal/billing"
	"genforge/internal/domain"
	"genforge/internal/infra"
	"genforge/internal/infra/credentials"
	"genforge/internal/keypool"
	"genforge/internal/notify"
	"genforge/internal/providers/genai"
	"genforge/internal/providers/image"
	"genforge/internal/queue"
	"genforge/internal/storage"
	"genforge/internal/worker"
)

// Runtime holds the long-lived dependencies of a process.
type Runtime struct {
	Config *infra.Config
	Logger zerolog.Logger

	Pool   *pgxpool.Pool
	SQL    *infra.SQLRunner
	Store  domain.Store
	Ledger *billing.Ledger

	Keys      *keypool.Pool
	Generator image.Generator
	Blobs     storage.BlobStore
	// StaticDir is the filesystem blob root, empty for S3.
	StaticDir string

	Redis      *redis.Client
	Publisher  notify.Publisher
	Subscriber notify.Subscriber

	closers []func()
}

// Open connects the database, the blob store, the push channel and the
// generation backend. The in-process hub replaces Redis when REDIS_URL is
// unset; it only reaches subscribers in the same process.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, pool.Close)
	rt.SQL = infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
	rt.Store = repo.NewStore(rt.SQL)
	rt.Ledger = billing.NewLedger(rt.Store, infra.Component(logger, "billing"))

	if err := rt.openBlobs(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.openNotify(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.openGenerator(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openBlobs(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.StorageBackend {
	case infra.StorageBackendS3:
		client, err := infra.NewMinioClient(ctx, cfg)
		if err != nil {
			return err
		}
		blobs, err := storage.NewMinioStore(client, cfg.S3Bucket, cfg.S3PublicBaseURL)
		if err != nil {
			return err
		}
		rt.Blobs = blobs
	default:
		path := cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		blobs, err := storage.NewFileStore(path, cfg.StorageBaseURL)
		if err != nil {
			return err
		}
		rt.Blobs = blobs
		rt.StaticDir = blobs.BasePath()
	}
	return nil
}

func (rt *Runtime) openNotify(ctx context.Context) error {
	if rt.Config.RedisURL == "" {
		hub := notify.NewHub()
		rt.Publisher, rt.Subscriber = hub, hub
		rt.Logger.Warn().Msg("bootstrap: REDIS_URL not set, push events stay in process")
		return nil
	}
	client, err := infra.NewRedisClient(ctx, rt.Config)
	if err != nil {
		return err
	}
	rt.Redis = client
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	events := notify.NewRedis(client, rt.Config.PushChannelPrefix, infra.Component(rt.Logger, "notify"))
	rt.Publisher, rt.Subscriber = events, events
	return nil
}

func (rt *Runtime) openGenerator(ctx context.Context) error {
	keys, err := keypool.Load(ctx, credentials.NewStore(rt.SQL), credentials.ProviderGemini, rt.Config.GeminiAPIKeys)
	if err != nil {
		// stored keys are optional; configured ones still work
		rt.Logger.Warn().Err(err).Msg("bootstrap: stored api keys unavailable")
		keys = keypool.FromValues(rt.Config.GeminiAPIKeys)
	}
	rt.Keys = keys
	rt.closers = append(rt.closers, func() {
		for _, st := range keys.Stats() {
			rt.Logger.Info().Str("label", st.Label).Int64("uses", st.Uses).Int64("failures", st.Failures).Msg("bootstrap: api key usage")
		}
	})

	client, err := genai.NewClient(genai.Options{
		Keys:       keys,
		BaseURL:    rt.Config.GeminiBaseURL,
		Model:      rt.Config.GeminiModel,
		HTTPClient: &http.Client{Timeout: rt.Config.StageTimeout + 10*time.Second},
		Logger:     infra.Component(rt.Logger, "genai"),
	})
	if err != nil {
		return err
	}
	if client.Synthetic() {
		rt.Logger.Warn().Str("model", client.Model()).Msg("bootstrap: no api keys, using synthetic image generation")
	} else {
		rt.Logger.Info().Str("model", client.Model()).Int("keys", keys.Len()).Msg("bootstrap: generation backend ready")
	}
	rt.Generator = image.NewGeminiGenerator(client)
	return nil
}

// Executor builds a worker executor identified by workerID.
func (rt *Runtime) Executor(workerID string) *worker.Executor {
	cfg := rt.Config
	return worker.NewExecutor(rt.Store, rt.Ledger, rt.Generator, rt.Blobs, rt.Publisher, worker.Config{
		WorkerID:     workerID,
		LeaseTTL:     cfg.WorkerLeaseTTL,
		MaxAttempts:  cfg.WorkerMaxAttempts,
		StageTimeout: cfg.StageTimeout,
		Parallel:     cfg.ParallelRenders,
	}, infra.Component(rt.Logger, "worker"))
}

func (rt *Runtime) Sweeper(trigger queue.Trigger) *worker.Sweeper {
	return worker.NewSweeper(rt.Store.Jobs(), trigger, rt.Config.SweepInterval, rt.Config.SweepGrace, infra.Component(rt.Logger, "sweeper"))
}

// Ping checks the database and, when configured, Redis.
func (rt *Runtime) Ping(ctx context.Context) error {
	if err := rt.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// AMQPConfig maps configuration onto the queue topology.
func AMQPConfig(cfg *infra.Config) queue.AMQPConfig {
	return queue.AMQPConfig{
		Exchange:   cfg.AMQPExchange,
		Queue:      cfg.AMQPQueue,
		RoutingKey: cfg.AMQPRoutingKey,
		Prefetch:   cfg.AMQPPrefetch,
	}
}

// WorkerID names a lease holder: the host plus a random suffix, so restarts
// never reuse a lease that is still live.
func WorkerID(role string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = role
	}
	return host + "-" + uuid.NewString()[:8]
}
