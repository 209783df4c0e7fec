package image

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/mochivi/dataset-curator/internal/apperr"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

func newTestValidator(t *testing.T, maxPixels int64, exclusions *ExclusionSet) *Validator {
	t.Helper()
	logger := logging.NewTestLogger(slog.LevelError, true)
	return NewValidator(ValidatorConfig{MaxPixels: maxPixels}, exclusions, NewFetcher(nil), logger)
}

func TestValidator_Normalize(t *testing.T) {
	smallPNG := makePNG(t, 20, 10, 1)
	otherPNG := makePNG(t, 20, 10, 2)

	// Same pixels as smallPNG, different encoding
	var reencoded bytes.Buffer
	decoded, err := png.Decode(bytes.NewReader(smallPNG))
	require.NoError(t, err)
	require.NoError(t, (&png.Encoder{CompressionLevel: png.BestCompression}).Encode(&reencoded, decoded))

	exclusions, err := NewExclusionSet(smallPNG)
	require.NoError(t, err)

	testCases := []struct {
		name        string
		exclusions  *ExclusionSet
		maxPixels   int64
		source      Source
		expectedExt string
		expectedErr error
		unchanged   bool
	}{
		{
			name:        "success: small png is returned unchanged",
			maxPixels:   DefaultMaxPixels,
			source:      Source{Data: smallPNG, Name: "small.png"},
			expectedExt: "png",
			unchanged:   true,
		},
		{
			name:        "success: jpeg extension",
			maxPixels:   DefaultMaxPixels,
			source:      Source{Data: makeJPEG(t, 16, 16, 3), Name: "photo.jpg"},
			expectedExt: "jpg",
			unchanged:   true,
		},
		{
			name:        "success: same size but different pixels passes exclusion",
			exclusions:  exclusions,
			maxPixels:   DefaultMaxPixels,
			source:      Source{Data: otherPNG},
			expectedExt: "png",
			unchanged:   true,
		},
		{
			name:        "error: excluded image",
			exclusions:  exclusions,
			maxPixels:   DefaultMaxPixels,
			source:      Source{Data: smallPNG},
			expectedErr: ErrExcluded,
		},
		{
			name:        "error: re-encoded excluded image",
			exclusions:  exclusions,
			maxPixels:   DefaultMaxPixels,
			source:      Source{Data: reencoded.Bytes()},
			expectedErr: ErrExcluded,
		},
		{
			name:        "error: not an image",
			maxPixels:   DefaultMaxPixels,
			source:      Source{Data: []byte("<html>hello</html>"), Name: "page"},
			expectedErr: ErrInvalidContentType,
		},
		{
			name:        "error: empty content",
			maxPixels:   DefaultMaxPixels,
			source:      Source{Name: "empty"},
			expectedErr: ErrInvalidContentType,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestValidator(t, tc.maxPixels, tc.exclusions)
			normalized, err := v.Normalize(context.Background(), tc.source)

			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				var validationErr *ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Equal(t, tc.source.Identity(), validationErr.Source)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectedExt, normalized.Ext)
			if tc.unchanged {
				assert.Equal(t, tc.source.Data, normalized.Data)
				assert.False(t, normalized.Downscaled)
			}
		})
	}
}

func TestValidator_Downscale(t *testing.T) {
	const maxPixels = 1000
	v := newTestValidator(t, maxPixels, nil)
	ctx := context.Background()

	testCases := []struct {
		name        string
		data        []byte
		width       int
		height      int
		expectedExt string
	}{
		{name: "png", data: makePNG(t, 100, 50, 4), width: 100, height: 50, expectedExt: "png"},
		{name: "jpeg keeps its format", data: makeJPEG(t, 64, 48, 5), width: 64, height: 48, expectedExt: "jpg"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, err := v.Normalize(ctx, Source{Data: tc.data})
			require.NoError(t, err)
			assert.True(t, normalized.Downscaled)
			assert.Equal(t, tc.expectedExt, normalized.Ext)

			cfg, _, err := image.DecodeConfig(bytes.NewReader(normalized.Data))
			require.NoError(t, err)
			assert.Equal(t, normalized.Width, cfg.Width)
			assert.Equal(t, normalized.Height, cfg.Height)
			assert.LessOrEqual(t, int64(cfg.Width)*int64(cfg.Height), int64(maxPixels))
			assertAspectRatio(t, tc.width, tc.height, cfg.Width, cfg.Height)

			// Normalizing the normalized output is a no-op
			again, err := v.Normalize(ctx, Source{Data: normalized.Data})
			require.NoError(t, err)
			assert.Equal(t, normalized.Data, again.Data)
			assert.False(t, again.Downscaled)
		})
	}
}

func TestFitDimensions(t *testing.T) {
	testCases := []struct {
		name      string
		width     int
		height    int
		maxPixels int64
	}{
		{name: "200 megapixel landscape", width: 20_000, height: 10_000, maxPixels: DefaultMaxPixels},
		{name: "200 megapixel portrait", width: 8_000, height: 25_000, maxPixels: DefaultMaxPixels},
		{name: "square just over the limit", width: 13_378, height: 13_378, maxPixels: DefaultMaxPixels},
		{name: "extreme strip", width: 1_000_000, height: 1, maxPixels: 1000},
		{name: "small", width: 100, height: 50, maxPixels: 1000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := FitDimensions(tc.width, tc.height, tc.maxPixels)
			assert.LessOrEqual(t, int64(w)*int64(h), tc.maxPixels)
			assert.GreaterOrEqual(t, w, 1)
			assert.GreaterOrEqual(t, h, 1)
			assertAspectRatio(t, tc.width, tc.height, w, h)
		})
	}

	w, h := FitDimensions(640, 480, DefaultMaxPixels)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)
}

// assertAspectRatio allows one pixel of floor error. The floored side is measured against
// the other, since projecting through the longer side scales its error by the ratio.
func assertAspectRatio(t *testing.T, origW, origH, w, h int) {
	t.Helper()
	expectedH := float64(w) * float64(origH) / float64(origW)
	expectedW := float64(h) * float64(origW) / float64(origH)
	assert.True(t, math.Abs(expectedH-float64(h)) <= 1 || math.Abs(expectedW-float64(w)) <= 1,
		"%dx%d does not keep the aspect ratio of %dx%d", w, h, origW, origH)
}

func TestValidator_NormalizeURL(t *testing.T) {
	pngData := makePNG(t, 8, 8, 6)
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	v := newTestValidator(t, DefaultMaxPixels, nil)
	ctx := context.Background()

	normalized, err := v.Normalize(ctx, Source{URL: server.URL + "/ok.png"})
	require.NoError(t, err)
	assert.Equal(t, pngData, normalized.Data)
	assert.Equal(t, server.URL+"/ok.png", normalized.Source)

	_, err = v.Normalize(ctx, Source{URL: server.URL + "/page"})
	assert.ErrorIs(t, err, ErrInvalidContentType)
	assert.Equal(t, codes.InvalidArgument, apperr.From(err).Code)

	_, err = v.Normalize(ctx, Source{URL: server.URL + "/missing"})
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, codes.Unavailable, apperr.From(err).Code)
}

func TestLoadExclusionSet(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/exclusions/a.png", makePNG(t, 10, 10, 7), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/exclusions/b.png", makePNG(t, 12, 6, 8), 0o644))

	set, err := LoadExclusionSet(context.Background(), fsys, "/exclusions")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	v := newTestValidator(t, DefaultMaxPixels, set)
	_, err = v.Normalize(context.Background(), Source{Data: makePNG(t, 12, 6, 8)})
	assert.ErrorIs(t, err, ErrExcluded)
	assert.Equal(t, codes.FailedPrecondition, apperr.From(err).Code)

	empty, err := LoadExclusionSet(context.Background(), fsys, "")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	require.NoError(t, afero.WriteFile(fsys, "/broken/x.png", []byte("not an image"), 0o644))
	_, err = LoadExclusionSet(context.Background(), fsys, "/broken")
	assert.Error(t, err)
}
