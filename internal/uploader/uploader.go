package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/internal/credentials"
	"github.com/mochivi/dataset-curator/internal/storage/remote"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

type UploaderConfig struct {
	RetryLimit        int
	BaseDelay         time.Duration
	JitterFactor      float64
	RateLimitWait     time.Duration
	MaxRateLimitWaits int // 0 retries rate limited calls forever
}

func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		RetryLimit:    10,
		BaseDelay:     time.Second,
		JitterFactor:  0.15,
		RateLimitWait: 10 * time.Minute,
	}
}

// Uploader runs every remote store call through the retry loop.
// Retry state is scoped to a single call, nothing is persisted between calls.
type Uploader struct {
	store  remote.Store
	tokens credentials.TokenSource
	config UploaderConfig
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

func NewUploader(store remote.Store, tokens credentials.TokenSource, config UploaderConfig, logger *slog.Logger) *Uploader {
	return &Uploader{
		store:  store,
		tokens: tokens,
		config: config,
		logger: logging.ServiceLogger(logger, common.ComponentUploader),
		sleep:  sleepContext,
	}
}

// Upload writes one batch. Failures are returned once the retry budget is spent.
func (u *Uploader) Upload(ctx context.Context, files []remote.File) error {
	if len(files) == 0 {
		return nil
	}
	logger := logging.OperationLogger(u.logger, "upload", slog.Int(common.LogBatchSize, len(files)))
	return u.do(ctx, logger, func(ctx context.Context) error {
		return u.store.UploadBatch(ctx, files)
	})
}

// Replace overwrites an existing object. It returns remote.ErrNotFound when there is nothing
// to overwrite, the caller then falls back to Upload. Identical content is not rewritten.
func (u *Uploader) Replace(ctx context.Context, file remote.File) (bool, error) {
	current, err := u.Download(ctx, file.Path)
	if err != nil {
		return false, err
	}
	if bytes.Equal(current, file.Content) {
		u.logger.Debug("Skipping identical replace", slog.String(common.LogPath, file.Path))
		return false, nil
	}
	if err := u.Upload(ctx, []remote.File{file}); err != nil {
		return false, err
	}
	return true, nil
}

func (u *Uploader) Download(ctx context.Context, path string) ([]byte, error) {
	logger := logging.OperationLogger(u.logger, "download", slog.String(common.LogPath, path))
	var data []byte
	err := u.do(ctx, logger, func(ctx context.Context) error {
		var err error
		data, err = u.store.Download(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes an object. Deleting a missing object succeeds.
func (u *Uploader) Delete(ctx context.Context, path string) error {
	logger := logging.OperationLogger(u.logger, "delete", slog.String(common.LogPath, path))
	err := u.do(ctx, logger, func(ctx context.Context) error {
		return u.store.Delete(ctx, path)
	})
	if errors.Is(err, remote.ErrNotFound) {
		logger.Debug("Object already deleted")
		return nil
	}
	return err
}

// List satisfies shard.Lister so the allocator's preload shares the retry policy
func (u *Uploader) List(ctx context.Context, prefix string, recursive bool) ([]remote.Object, error) {
	logger := logging.OperationLogger(u.logger, "list", slog.String(common.LogPath, prefix))
	var objects []remote.Object
	err := u.do(ctx, logger, func(ctx context.Context) error {
		var err error
		objects, err = u.store.List(ctx, prefix, recursive)
		return err
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// do runs attempt until it succeeds or fails fatally.
// Rate limited attempts wait RateLimitWait and are not charged to the retry budget.
func (u *Uploader) do(ctx context.Context, logger *slog.Logger, attempt func(context.Context) error) error {
	if _, err := u.tokens.Token(); err != nil {
		logger.Error("Refusing remote call without credentials")
		return err
	}

	retries := newLinearBackOff(u.config.BaseDelay, u.config.JitterFactor, u.config.RetryLimit)
	if u.rand != nil {
		retries.rand = u.rand
	}
	rateLimit := backoff.NewConstantBackOff(u.config.RateLimitWait)
	rateLimitWaits := 0

	for {
		err := attempt(ctx)
		var wait time.Duration

		switch Classify(err) {
		case OutcomeSuccess:
			return nil

		case OutcomeFatal:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err

		case OutcomeRateLimited:
			rateLimitWaits++
			if u.config.MaxRateLimitWaits > 0 && rateLimitWaits > u.config.MaxRateLimitWaits {
				logger.Error("Giving up after repeated rate limiting", slog.Int("rate_limit_waits", rateLimitWaits-1))
				return fmt.Errorf("%w: %w", ErrRateLimitCeiling, err)
			}
			wait = rateLimit.NextBackOff()
			logger.Warn("Rate limited by remote store, waiting", slog.Duration(common.LogWait, wait))

		case OutcomeRetryable:
			wait = retries.NextBackOff()
			if wait == backoff.Stop {
				logger.Error("Remote call failed after retries",
					slog.Int(common.LogRetryCount, retries.Retries()), slog.String(common.LoggingParamError, err.Error()))
				return fmt.Errorf("%w after %d retries: %w", ErrRetryLimitExceeded, retries.Retries(), err)
			}
			logger.Info("Retrying remote call",
				slog.Int(common.LogRetryCount, retries.Retries()), slog.Duration(common.LogWait, wait),
				slog.String(common.LoggingParamError, err.Error()))
		}

		if err := u.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
