package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

type pixelDigest [sha256.Size]byte

type dimensions struct {
	width, height int
}

// ExclusionSet holds the decoded-pixel digests of images that must never enter the dataset.
// It is built once at startup and only read afterwards.
type ExclusionSet struct {
	digests map[pixelDigest]struct{}
	sizes   map[dimensions]struct{}
}

func NewExclusionSet(images ...[]byte) (*ExclusionSet, error) {
	set := &ExclusionSet{
		digests: make(map[pixelDigest]struct{}, len(images)),
		sizes:   make(map[dimensions]struct{}, len(images)),
	}
	for i, data := range images {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode exclusion image %d: %w", i, err)
		}
		set.add(img)
	}
	return set, nil
}

// LoadExclusionSet decodes every file of dir concurrently. An empty dir yields an empty set.
func LoadExclusionSet(ctx context.Context, fsys afero.Fs, dir string) (*ExclusionSet, error) {
	set := &ExclusionSet{
		digests: make(map[pixelDigest]struct{}),
		sizes:   make(map[dimensions]struct{}),
	}
	if dir == "" {
		return set, nil
	}

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read exclusion dir %s: %w", dir, err)
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := filepath.Join(dir, entry.Name())
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := afero.ReadFile(fsys, name)
			if err != nil {
				return fmt.Errorf("failed to read exclusion image %s: %w", name, err)
			}
			img, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("failed to decode exclusion image %s: %w", name, err)
			}

			mu.Lock()
			defer mu.Unlock()
			set.add(img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *ExclusionSet) add(img image.Image) {
	bounds := img.Bounds()
	s.sizes[dimensions{bounds.Dx(), bounds.Dy()}] = struct{}{}
	s.digests[digestPixels(img)] = struct{}{}
}

func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.digests)
}

// mayContain is a cheap pre-check on dimensions so candidates only get decoded when they could match
func (s *ExclusionSet) mayContain(width, height int) bool {
	if s.Len() == 0 {
		return false
	}
	_, ok := s.sizes[dimensions{width, height}]
	return ok
}

func (s *ExclusionSet) Contains(img image.Image) bool {
	if s.Len() == 0 {
		return false
	}
	_, ok := s.digests[digestPixels(img)]
	return ok
}

// digestPixels hashes the dimensions and canonical NRGBA pixels, so two encodings of
// the same pixels share a digest
func digestPixels(img image.Image) pixelDigest {
	bounds := img.Bounds()
	canonical := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canonical, canonical.Bounds(), img, bounds.Min, draw.Src)

	h := sha256.New()
	var header [16]byte
	binary.BigEndian.PutUint64(header[:8], uint64(bounds.Dx()))
	binary.BigEndian.PutUint64(header[8:], uint64(bounds.Dy()))
	h.Write(header[:])
	h.Write(canonical.Pix)

	var digest pixelDigest
	copy(digest[:], h.Sum(nil))
	return digest
}
