package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/mochivi/dataset-curator/internal/cache"
	"github.com/mochivi/dataset-curator/internal/classify"
	"github.com/mochivi/dataset-curator/internal/config"
	"github.com/mochivi/dataset-curator/internal/credentials"
	"github.com/mochivi/dataset-curator/internal/image"
	"github.com/mochivi/dataset-curator/internal/ingest"
	"github.com/mochivi/dataset-curator/internal/launcher"
	"github.com/mochivi/dataset-curator/internal/storage/remote"
	"github.com/mochivi/dataset-curator/internal/storage/shard"
	"github.com/mochivi/dataset-curator/internal/uploader"
	"github.com/mochivi/dataset-curator/internal/vote"
)

// app builds the components a command needs from configuration, each at most once
type app struct {
	cfg    *config.CuratorAppConfig
	logger *slog.Logger
	fs     afero.Fs

	uploader    *uploader.Uploader
	ledger      *vote.Ledger
	redisClient *redis.Client

	sweepers []cache.Sweeper
	workers  []launcher.WorkerFunc
	closers  []func() error
}

func newApp(cfg *config.CuratorAppConfig, logger *slog.Logger) *app {
	return &app{cfg: cfg, logger: logger, fs: afero.NewOsFs()}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) store() (remote.Store, error) {
	storage := a.cfg.Storage
	switch storage.Backend {
	case "local":
		return remote.NewLocalStore(a.fs, storage.LocalRoot, a.logger)
	case "oss":
		return remote.NewOSSStore(remote.OSSConfig{
			Endpoint:        storage.OSS.Endpoint,
			Bucket:          storage.OSS.Bucket,
			AccessKeyID:     storage.OSS.AccessKeyID,
			AccessKeySecret: storage.OSS.AccessKeySecret,
		}, credentials.Process(), a.logger), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", storage.Backend)
}

func (a *app) getUploader() (*uploader.Uploader, error) {
	if a.uploader != nil {
		return a.uploader, nil
	}
	// Fail before any work is queued when the token is missing
	if _, err := credentials.Token(); err != nil {
		return nil, err
	}
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg.Uploader
	a.uploader = uploader.NewUploader(store, credentials.Process(), uploader.UploaderConfig{
		RetryLimit:        cfg.RetryLimit,
		BaseDelay:         cfg.BaseDelay,
		JitterFactor:      cfg.JitterFactor,
		RateLimitWait:     cfg.RateLimitWait,
		MaxRateLimitWaits: cfg.MaxRateLimitWaits,
	}, a.logger)
	return a.uploader, nil
}

func (a *app) pipeline(ctx context.Context) (*ingest.Pipeline, error) {
	up, err := a.getUploader()
	if err != nil {
		return nil, err
	}

	validation := a.cfg.Validation
	var exclusions *image.ExclusionSet
	if validation.ExclusionDir != "" {
		exclusions, err = image.LoadExclusionSet(ctx, a.fs, validation.ExclusionDir)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Loaded exclusion set", slog.Int("images", exclusions.Len()))
	}

	hasher, err := image.NewHasher(validation.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	fetcher := image.NewFetcher(&http.Client{Timeout: validation.FetchTimeout})
	validator := image.NewValidator(image.ValidatorConfig{MaxPixels: validation.MaxPixels}, exclusions, fetcher, a.logger)

	queue := ingest.NewQueue(validator, hasher, ingest.QueueConfig{Window: int64(a.cfg.Queue.Window)}, a.logger)
	allocator := shard.NewAllocator(shard.AllocatorConfig{
		DataPath: a.cfg.Storage.DataPath,
		Capacity: a.cfg.Shards.Capacity,
	}, up, a.logger)

	return ingest.NewPipeline(queue, allocator, up, ingest.PipelineConfig{
		DataPath:  a.cfg.Storage.DataPath,
		BatchSize: a.cfg.Queue.BatchSize,
	}, a.logger), nil
}

func (a *app) getLedger(ctx context.Context) (*vote.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	store, err := vote.OpenSQLStore(ctx, a.cfg.Votes.Driver, a.cfg.Votes.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	consensus, err := newCache[vote.Consensus](a, "consensus:", a.cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	a.ledger = vote.NewLedger(store, consensus, vote.LedgerConfig{MinVoteCount: a.cfg.Votes.MinVoteCount}, a.logger)
	return a.ledger, nil
}

func (a *app) resolver(ctx context.Context) (*classify.Resolver, error) {
	ledger, err := a.getLedger(ctx)
	if err != nil {
		return nil, err
	}
	scores, err := newCache[float64](a, "score:", a.cfg.Classify.ScoreTTL)
	if err != nil {
		return nil, err
	}
	scorer := classify.NewHTTPScorer(&http.Client{Timeout: a.cfg.Validation.FetchTimeout}, a.cfg.Classify.ScorerURL, a.cfg.Classify.ScorerToken)
	return classify.NewResolver(ledger, scorer, scores, classify.ResolverConfig{
		Models:    a.cfg.Classify.Models,
		Threshold: a.cfg.Classify.Threshold,
	}, a.logger), nil
}

// newCache picks the configured backend. In-memory caches are swept by a janitor worker.
func newCache[V any](a *app, namespace string, ttl time.Duration) (cache.Cache[V], error) {
	switch a.cfg.Cache.Backend {
	case "redis":
		if a.redisClient == nil {
			a.redisClient = redis.NewClient(&redis.Options{Addr: a.cfg.Cache.RedisAddr})
			a.closers = append(a.closers, a.redisClient.Close)
		}
		return cache.NewRedisCache[V](a.redisClient, a.cfg.Cache.RedisPrefix+namespace, ttl), nil
	case "memory":
		c := cache.NewTTLCache[V](ttl)
		a.sweepers = append(a.sweepers, c)
		return c, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
}

func (a *app) startJanitor() {
	if len(a.sweepers) == 0 {
		return
	}
	sweepers := a.sweepers
	a.workers = append(a.workers, func(ctx context.Context) error {
		return cache.NewJanitor(ctx, a.cfg.Cache.SweepInterval, a.logger, sweepers...).Run()
	})
}
