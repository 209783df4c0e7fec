package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/internal/storage/remote"
	"github.com/mochivi/dataset-curator/internal/storage/shard"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

const DefaultBatchSize = 100

type uploader interface {
	Upload(ctx context.Context, files []remote.File) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

type allocator interface {
	Lookup(ctx context.Context, hash string) (shard.Path, bool, error)
	Reserve(ctx context.Context, split common.Split, label common.Label, fileName string) (*shard.Reservation, error)
	Release(path string) error
}

type PipelineConfig struct {
	DataPath  string
	BatchSize int
}

// BatchResult reports one flush. Failed counts items dropped by validation,
// Duplicates counts items whose content hash appeared earlier in the batch or is already stored.
type BatchResult struct {
	Uploaded   []string
	Failed     int
	Duplicates int
}

// Pipeline moves validated images into their shards. A flush either uploads the whole batch and
// keeps every reserved slot, or gives every slot back.
type Pipeline struct {
	queue     *Queue
	allocator allocator
	uploader  uploader
	config    PipelineConfig

	flushMu sync.Mutex
	logger  *slog.Logger
}

func NewPipeline(queue *Queue, allocator allocator, uploader uploader, config PipelineConfig, logger *slog.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.DataPath == "" {
		config.DataPath = "data"
	}
	return &Pipeline{
		queue:     queue,
		allocator: allocator,
		uploader:  uploader,
		config:    config,
		logger:    logging.ServiceLogger(logger, common.ComponentPipeline),
	}
}

// Submit enqueues item and flushes once the queue holds a full batch. The result is nil when no flush ran.
func (p *Pipeline) Submit(ctx context.Context, item Item) (<-chan bool, *BatchResult, error) {
	validated := p.queue.Enqueue(ctx, item)
	if p.queue.Size() < p.config.BatchSize {
		return validated, nil, nil
	}
	result, err := p.Flush(ctx)
	if err != nil {
		return validated, nil, err
	}
	return validated, &result, nil
}

func (p *Pipeline) Flush(ctx context.Context) (BatchResult, error) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	logger := logging.OperationLogger(p.logger, "flush")

	batch, err := p.queue.Consume(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("drain validation queue: %w", err)
	}
	items, duplicates := dedupe(batch.Items)
	result := BatchResult{Failed: batch.Failed, Duplicates: duplicates}

	fresh := items[:0]
	for _, item := range items {
		existing, ok, err := p.allocator.Lookup(ctx, item.Hash)
		if err != nil {
			return result, fmt.Errorf("look up %s: %w", item.Hash, err)
		}
		if ok {
			logger.Debug("Image already stored", slog.String(common.LogImageHash, item.Hash),
				slog.String(common.LogPath, existing.String()))
			result.Duplicates++
			continue
		}
		fresh = append(fresh, item)
	}
	items = fresh
	if len(items) == 0 {
		logger.Debug("Nothing to upload", slog.Int("failed", result.Failed))
		return result, nil
	}

	reservations := make([]*shard.Reservation, 0, len(items))
	defer func() {
		// no-op for committed reservations
		for _, r := range reservations {
			r.Release()
		}
	}()

	files := make([]remote.File, 0, len(items))
	var total uint64
	for _, item := range items {
		r, err := p.allocator.Reserve(ctx, item.Item.Split, item.Item.Label, item.FileName())
		if err != nil {
			return result, fmt.Errorf("reserve path for %s: %w", item.Hash, err)
		}
		reservations = append(reservations, r)
		files = append(files, remote.File{Path: r.Path().String(), Content: item.Image.Data})
		total += uint64(len(item.Image.Data))
	}

	if err := p.uploader.Upload(ctx, files); err != nil {
		logger.Error("Batch upload failed, releasing reserved paths",
			slog.Int(common.LogBatchSize, len(files)), slog.String(common.LoggingParamError, err.Error()))
		return result, err
	}

	for i, r := range reservations {
		r.Commit()
		result.Uploaded = append(result.Uploaded, files[i].Path)
	}
	logger.Info("Uploaded batch", slog.Int(common.LogBatchSize, len(files)), slog.String(common.LogSize, humanize.Bytes(total)),
		slog.Int("failed", result.Failed), slog.Int("duplicates", result.Duplicates))
	return result, nil
}

// dedupe keeps the first item per content hash
func dedupe(items []Validated) ([]Validated, int) {
	seen := make(map[string]struct{}, len(items))
	out := make([]Validated, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Hash]; ok {
			continue
		}
		seen[item.Hash] = struct{}{}
		out = append(out, item)
	}
	return out, len(items) - len(out)
}

// Relabel moves the stored image at oldPath under newLabel and returns its new path.
// When content is nil the current object is downloaded first.
func (p *Pipeline) Relabel(ctx context.Context, oldPath string, newLabel common.Label, content []byte) (string, error) {
	logger := logging.OperationLogger(p.logger, "relabel", slog.String(common.LogPath, oldPath), slog.String(common.LogLabel, string(newLabel)))

	old, err := shard.ParsePath(p.config.DataPath, oldPath)
	if err != nil {
		return "", err
	}
	if old.Label == newLabel {
		return oldPath, nil
	}

	if content == nil {
		if content, err = p.uploader.Download(ctx, oldPath); err != nil {
			return "", fmt.Errorf("download %s: %w", oldPath, err)
		}
	}

	r, err := p.allocator.Reserve(ctx, old.Split, newLabel, old.FileName)
	if err != nil {
		return "", err
	}
	defer r.Release()
	newPath := r.Path().String()

	if err := p.uploader.Upload(ctx, []remote.File{{Path: newPath, Content: content}}); err != nil {
		return "", err
	}
	if err := p.uploader.Delete(ctx, oldPath); err != nil {
		logger.Error("Failed to delete relabeled image, rolling back", slog.String(common.LoggingParamError, err.Error()))
		if rollbackErr := p.uploader.Delete(context.WithoutCancel(ctx), newPath); rollbackErr != nil {
			err = errors.Join(err, fmt.Errorf("roll back %s: %w", newPath, rollbackErr))
		}
		return "", err
	}

	r.Commit()
	if err := p.allocator.Release(oldPath); err != nil {
		return newPath, err
	}
	logger.Info("Relabeled image", slog.String("new_path", newPath))
	return newPath, nil
}

// Remove deletes a stored image and frees its slot
func (p *Pipeline) Remove(ctx context.Context, path string) error {
	if _, err := shard.ParsePath(p.config.DataPath, path); err != nil {
		return err
	}
	if err := p.uploader.Delete(ctx, path); err != nil {
		return err
	}
	return p.allocator.Release(path)
}
