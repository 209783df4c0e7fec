package ingest

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/internal/image"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

const DefaultWindow = 16

// Item is a raw image waiting to be validated, together with where it should be stored
type Item struct {
	Source image.Source
	Split  common.Split
	Label  common.Label
}

// Validated is an item that passed validation and has been content addressed
type Validated struct {
	Item  Item
	Image *image.Normalized
	Hash  string
}

func (v Validated) FileName() string { return image.FileName(v.Hash, v.Image.Ext) }

// Batch is what a consumer takes out of the queue
type Batch struct {
	Items  []Validated
	Failed int
}

type normalizer interface {
	Normalize(ctx context.Context, src image.Source) (*image.Normalized, error)
}

type hasher interface {
	Hash(data []byte) string
}

type QueueConfig struct {
	Window int64
}

// Queue validates and hashes items concurrently, at most Window at a time.
// Items that fail validation are logged and dropped.
type Queue struct {
	validator normalizer
	hasher    hasher
	window    *semaphore.Weighted

	mu        sync.Mutex
	validated []Validated
	inFlight  map[uint64]chan struct{}
	nextID    uint64
	failed    int

	logger *slog.Logger
}

func NewQueue(validator normalizer, hasher hasher, config QueueConfig, logger *slog.Logger) *Queue {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	return &Queue{
		validator: validator,
		hasher:    hasher,
		window:    semaphore.NewWeighted(config.Window),
		inFlight:  make(map[uint64]chan struct{}),
		logger:    logging.ServiceLogger(logger, common.ComponentQueue),
	}
}

// Enqueue starts validating item in the background. The returned channel receives
// the outcome once and is then closed.
func (q *Queue) Enqueue(ctx context.Context, item Item) <-chan bool {
	result := make(chan bool, 1)
	done := make(chan struct{})

	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.inFlight[id] = done
	q.mu.Unlock()

	go func() {
		defer close(result)
		validated, err := q.process(ctx, item)

		q.mu.Lock()
		delete(q.inFlight, id)
		if err == nil {
			q.validated = append(q.validated, validated)
		} else {
			q.failed++
		}
		q.mu.Unlock()
		close(done)

		if err != nil {
			q.logger.Warn("Dropping image that failed validation",
				slog.String(common.LogSource, item.Source.Identity()), slog.String(common.LoggingParamError, err.Error()))
		}
		result <- err == nil
	}()

	return result
}

func (q *Queue) process(ctx context.Context, item Item) (Validated, error) {
	if !item.Split.Valid() || !item.Label.Valid() {
		return Validated{}, ErrInvalidItem
	}
	if err := q.window.Acquire(ctx, 1); err != nil {
		return Validated{}, err
	}
	defer q.window.Release(1)

	normalized, err := q.validator.Normalize(ctx, item.Source)
	if err != nil {
		return Validated{}, err
	}
	return Validated{Item: item, Image: normalized, Hash: q.hasher.Hash(normalized.Data)}, nil
}

// Drain waits for the items in flight when it was called and returns a copy of every validated item.
// Items enqueued after the call are not waited for.
func (q *Queue) Drain(ctx context.Context) ([]Validated, error) {
	if err := q.wait(ctx); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Validated, len(q.validated))
	copy(out, q.validated)
	return out, nil
}

// Consume is Drain followed by Reset, taking the validated items out in one step
func (q *Queue) Consume(ctx context.Context) (Batch, error) {
	if err := q.wait(ctx); err != nil {
		return Batch{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := Batch{Items: q.validated, Failed: q.failed}
	q.validated = nil
	q.failed = 0
	return batch, nil
}

func (q *Queue) wait(ctx context.Context) error {
	q.mu.Lock()
	snapshot := make([]chan struct{}, 0, len(q.inFlight))
	for _, done := range q.inFlight {
		snapshot = append(snapshot, done)
	}
	q.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, done := range snapshot {
		done := done
		g.Go(func() error {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// Size counts validated and in flight items
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.validated) + len(q.inFlight)
}

// Reset drops the validated items, in flight work is unaffected
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.validated = nil
	q.failed = 0
}
