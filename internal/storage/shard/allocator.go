package shard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/internal/storage/remote"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

const DefaultCapacity = 10_000

// Lister is the subset of the remote store the allocator needs to rebuild its counters
type Lister interface {
	List(ctx context.Context, prefix string, recursive bool) ([]remote.Object, error)
}

type AllocatorConfig struct {
	DataPath string
	Capacity int
}

type counterKey struct {
	split common.Split
	label common.Label
}

// Allocator hands out storage paths from capacity-bounded shards.
// Counters are a conservative upper bound of each shard's occupancy: capacity is claimed
// before the upload is attempted and handed back with Release if the upload never happens.
// It also indexes every stored image by content hash so a re-ingest can be recognized.
type Allocator struct {
	config AllocatorConfig
	lister Lister

	mu        sync.Mutex
	counts    map[counterKey][]int
	stored    map[string]Path
	preloaded bool

	preload singleflight.Group
	logger  *slog.Logger
}

func NewAllocator(config AllocatorConfig, lister Lister, logger *slog.Logger) *Allocator {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.DataPath == "" {
		config.DataPath = "data"
	}
	return &Allocator{
		config: config,
		lister: lister,
		counts: make(map[counterKey][]int),
		stored: make(map[string]Path),
		logger: logging.ServiceLogger(logger, common.ComponentAllocator),
	}
}

// Preload lists the store once and seeds the counters from the existing layout.
// Concurrent callers share one in-flight listing that outlives any single caller's
// cancellation, each caller stops waiting on its own ctx. A failed listing is not memoized.
func (a *Allocator) Preload(ctx context.Context) error {
	a.mu.Lock()
	done := a.preloaded
	a.mu.Unlock()
	if done {
		return nil
	}

	ch := a.preload.DoChan("preload", func() (any, error) {
		return nil, a.runPreload(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-ch:
		return result.Err
	}
}

func (a *Allocator) runPreload(ctx context.Context) error {
	a.mu.Lock()
	done := a.preloaded
	a.mu.Unlock()
	if done {
		return nil
	}

	logger := logging.OperationLogger(a.logger, "preload")
	objects, err := a.lister.List(ctx, a.config.DataPath, true)
	if err != nil {
		logger.Error("Failed to list existing objects", slog.String(common.LoggingParamError, err.Error()))
		return fmt.Errorf("failed to preload shard counters: %w", err)
	}

	listed := make(map[counterKey][]int)
	stored := make(map[string]Path)
	var skipped int
	for _, object := range objects {
		if object.Type != remote.ObjectFile {
			continue
		}
		path, err := ParsePath(a.config.DataPath, object.Path)
		if err != nil {
			skipped++
			logger.Debug("Skipping object outside the shard layout", slog.String(common.LogPath, object.Path))
			continue
		}
		key := counterKey{path.Split, path.Label}
		listed[key] = grow(listed[key], path.Shard)
		listed[key][path.Shard]++

		hash := contentHash(path.FileName)
		if existing, ok := stored[hash]; ok {
			logger.Warn("Image stored more than once", slog.String(common.LogPath, object.Path),
				slog.String("kept_path", existing.String()))
			continue
		}
		stored[hash] = path
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Keep whichever is larger so releases issued before the preload cannot undercount a shard
	for key, seq := range listed {
		current := grow(a.counts[key], len(seq)-1)
		for i, n := range seq {
			current[i] = max(current[i], n)
		}
		a.counts[key] = current
	}
	// Commits issued before the preload finished are newer than the listing
	for hash, path := range stored {
		if _, ok := a.stored[hash]; !ok {
			a.stored[hash] = path
		}
	}
	a.preloaded = true

	logger.Info("Preloaded shard counters", slog.Int("objects", len(objects)), slog.Int("skipped", skipped))
	return nil
}

// AssignPath reserves one slot in the lowest shard with free capacity and returns its path.
// The counter is incremented before returning, callers that end up not uploading must Release.
func (a *Allocator) AssignPath(ctx context.Context, split common.Split, label common.Label, fileName string) (Path, error) {
	if !split.Valid() {
		return Path{}, fmt.Errorf("%w: unknown split %q", ErrInvalidPath, split)
	}
	if !label.Valid() {
		return Path{}, fmt.Errorf("%w: unknown label %q", ErrInvalidPath, label)
	}
	if fileName == "" {
		return Path{}, fmt.Errorf("%w: empty file name", ErrInvalidPath)
	}
	if err := a.Preload(ctx); err != nil {
		return Path{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := counterKey{split, label}
	seq := a.counts[key]
	shard := len(seq)
	for i, n := range seq {
		if n < a.config.Capacity {
			shard = i
			break
		}
	}
	seq = grow(seq, shard)
	seq[shard]++
	a.counts[key] = seq

	return Path{DataPath: a.config.DataPath, Split: split, Shard: shard, Label: label, FileName: fileName}, nil
}

// Lookup returns where the image with the given content hash is stored, if anywhere
func (a *Allocator) Lookup(ctx context.Context, hash string) (Path, bool, error) {
	if err := a.Preload(ctx); err != nil {
		return Path{}, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	path, ok := a.stored[hash]
	return path, ok, nil
}

// Release hands back the slot held by path and forgets the image stored there.
// Counters never go below zero, so releasing an already released path is a no-op.
func (a *Allocator) Release(path string) error {
	parsed, err := ParsePath(a.config.DataPath, path)
	if err != nil {
		return err
	}
	a.release(parsed)

	a.mu.Lock()
	defer a.mu.Unlock()
	hash := contentHash(parsed.FileName)
	if stored, ok := a.stored[hash]; ok && stored == parsed {
		delete(a.stored, hash)
	}
	return nil
}

func (a *Allocator) record(path Path) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stored[contentHash(path.FileName)] = path
}

func (a *Allocator) release(path Path) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := counterKey{path.Split, path.Label}
	seq := a.counts[key]
	if path.Shard < len(seq) && seq[path.Shard] > 0 {
		seq[path.Shard]--
	}
}

// Counts returns a snapshot of the per-shard counters of (split, label)
func (a *Allocator) Counts(split common.Split, label common.Label) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq := a.counts[counterKey{split, label}]
	out := make([]int, len(seq))
	copy(out, seq)
	return out
}

// Reserve is AssignPath with a scoped handle. Release the handle on every exit path,
// Commit once the upload is confirmed.
func (a *Allocator) Reserve(ctx context.Context, split common.Split, label common.Label, fileName string) (*Reservation, error) {
	path, err := a.AssignPath(ctx, split, label, fileName)
	if err != nil {
		return nil, err
	}
	return &Reservation{allocator: a, path: path}, nil
}

// Reservation is claimed shard capacity that has not been confirmed yet
type Reservation struct {
	allocator *Allocator
	path      Path

	mu       sync.Mutex
	resolved bool
}

func (r *Reservation) Path() Path { return r.path }

// Commit keeps the slot and records the image as stored, later Release calls become no-ops
func (r *Reservation) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return
	}
	r.resolved = true
	r.allocator.record(r.path)
}

// Release gives the slot back unless the reservation was committed. Safe to call many times.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return
	}
	r.resolved = true
	r.allocator.release(r.path)
}

// contentHash strips the extension, file names are the content hash plus the image format
func contentHash(fileName string) string {
	if i := strings.LastIndexByte(fileName, '.'); i > 0 {
		return fileName[:i]
	}
	return fileName
}

// grow extends seq with zeroes so that index is addressable
func grow(seq []int, index int) []int {
	for len(seq) <= index {
		seq = append(seq, 0)
	}
	return seq
}
