package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

// DefaultMaxPixels is the largest pixel count kept as-is, larger images are downscaled
const DefaultMaxPixels = 178_956_970

const jpegQuality = 95

// Source is a single raw input: either a URL to fetch or bytes supplied by the caller
type Source struct {
	URL  string
	Data []byte
	Name string // caller supplied identity for byte sources, used in logs and errors
}

func (s Source) Identity() string {
	if s.URL != "" {
		return s.URL
	}
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("<%d bytes>", len(s.Data))
}

// Normalized is the canonical content of an image
type Normalized struct {
	Data       []byte
	Ext        string
	Width      int
	Height     int
	Downscaled bool
	Source     string
}

type ValidatorConfig struct {
	MaxPixels int64
}

type fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Validator normalizes raw inputs. Given identical bytes and exclusion set the output is identical,
// and normalizing an already normalized image returns it unchanged.
type Validator struct {
	config     ValidatorConfig
	exclusions *ExclusionSet
	fetcher    fetcher
	logger     *slog.Logger
}

func NewValidator(config ValidatorConfig, exclusions *ExclusionSet, fetcher fetcher, logger *slog.Logger) *Validator {
	if config.MaxPixels <= 0 {
		config.MaxPixels = DefaultMaxPixels
	}
	return &Validator{
		config:     config,
		exclusions: exclusions,
		fetcher:    fetcher,
		logger:     logging.ServiceLogger(logger, common.ComponentValidator),
	}
}

func (v *Validator) Normalize(ctx context.Context, src Source) (*Normalized, error) {
	identity := src.Identity()
	logger := logging.OperationLogger(v.logger, "normalize", slog.String(common.LogSource, identity))

	data := src.Data
	if src.URL != "" {
		if v.fetcher == nil {
			return nil, newValidationError(identity, ErrFetch, fmt.Errorf("no fetcher configured"))
		}
		fetched, err := v.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		data = fetched
	}
	if len(data) == 0 {
		return nil, newValidationError(identity, ErrInvalidContentType, fmt.Errorf("empty content"))
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, newValidationError(identity, ErrInvalidContentType, fmt.Errorf("detected %s", mime.String()))
	}
	ext := strings.TrimPrefix(mime.Extension(), ".")

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, newValidationError(identity, ErrInvalidContentType, err)
	}
	pixels := int64(cfg.Width) * int64(cfg.Height)
	oversize := pixels > v.config.MaxPixels

	// Full decode is only needed for a possible exclusion match or a downscale
	var img image.Image
	if v.exclusions.mayContain(cfg.Width, cfg.Height) || oversize {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			if oversize {
				return nil, newValidationError(identity, ErrOversize, err)
			}
			return nil, newValidationError(identity, ErrInvalidContentType, err)
		}
		if v.exclusions.Contains(img) {
			logger.Info("Rejected excluded image")
			return nil, newValidationError(identity, ErrExcluded, nil)
		}
	}

	if !oversize {
		return &Normalized{Data: data, Ext: ext, Width: cfg.Width, Height: cfg.Height, Source: identity}, nil
	}

	width, height := FitDimensions(cfg.Width, cfg.Height, v.config.MaxPixels)
	resized, newExt, err := downscale(img, format, width, height)
	if err != nil {
		return nil, newValidationError(identity, ErrOversize, err)
	}
	if newExt != "" {
		ext = newExt
	}

	logger.Info("Downscaled oversized image",
		slog.Int64("pixels", pixels), slog.Int("width", width), slog.Int("height", height),
		slog.String(common.LogSize, humanize.Bytes(uint64(len(resized)))))

	return &Normalized{Data: resized, Ext: ext, Width: width, Height: height, Downscaled: true, Source: identity}, nil
}

// FitDimensions scales (width, height) so that width*height <= maxPixels, keeping the
// aspect ratio and flooring both sides. Sides never go below 1.
func FitDimensions(width, height int, maxPixels int64) (int, int) {
	if int64(width)*int64(height) <= maxPixels {
		return width, height
	}
	scale := math.Sqrt(float64(maxPixels) / (float64(width) * float64(height)))
	w := max(int(math.Floor(float64(width)*scale)), 1)
	h := max(int(math.Floor(float64(height)*scale)), 1)

	// Float rounding can leave the product one row or column over the limit
	for int64(w)*int64(h) > maxPixels {
		if w >= h && w > 1 {
			w--
		} else if h > 1 {
			h--
		} else {
			break
		}
	}
	return w, h
}

// downscale resamples img and re-encodes it. Formats we cannot encode are written as png,
// in which case the new extension is returned.
func downscale(img image.Image, format string, width, height int) ([]byte, string, error) {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
		return buf.Bytes(), "", nil
	case "png":
		if err := png.Encode(&buf, dst); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), "", nil
	default:
		if err := png.Encode(&buf, dst); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), "png", nil
	}
}
