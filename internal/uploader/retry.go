package uploader

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/mochivi/dataset-curator/internal/credentials"
	"github.com/mochivi/dataset-curator/internal/storage/remote"
)

// Outcome is the classification of a single remote attempt
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Classify decides what the retry loop does with the result of an attempt.
// Errors without a status code are transport failures and are retried.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var configErr *credentials.ConfigurationError
	if errors.As(err, &configErr) {
		return OutcomeFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeFatal
	}

	switch remote.StatusCode(err) {
	case http.StatusTooManyRequests:
		return OutcomeRateLimited
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusConflict, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return OutcomeFatal
	}
	return OutcomeRetryable
}

// linearBackOff waits base*retry, stretched by a random factor in [1, 1+jitter).
// It stops once limit retries have been handed out.
type linearBackOff struct {
	base   time.Duration
	jitter float64
	limit  int
	retry  int
	rand   func() float64
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(base time.Duration, jitter float64, limit int) *linearBackOff {
	return &linearBackOff{base: base, jitter: jitter, limit: limit, rand: rand.Float64}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.retry++
	if b.retry > b.limit {
		return backoff.Stop
	}
	wait := b.base * time.Duration(b.retry)
	return time.Duration(float64(wait) * (1 + b.jitter*b.rand()))
}

func (b *linearBackOff) Reset() { b.retry = 0 }

// Retries reports how many waits have been handed out so far
func (b *linearBackOff) Retries() int { return min(b.retry, b.limit) }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
