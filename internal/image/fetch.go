package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
)

// Largest body accepted from a URL source
const maxFetchBytes = 512 << 20

// Fetcher downloads URL sources, it only accepts image/* responses
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, maxBytes: maxFetchBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newValidationError(url, ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newValidationError(url, ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newValidationError(url, ErrFetch, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, newValidationError(url, ErrInvalidContentType, fmt.Errorf("content type %q", contentType))
	}

	if resp.ContentLength > f.maxBytes {
		return nil, f.tooLarge(url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, newValidationError(url, ErrFetch, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, f.tooLarge(url)
	}
	return data, nil
}

func (f *Fetcher) tooLarge(url string) error {
	return newValidationError(url, ErrOversize, fmt.Errorf("body exceeds %s", humanize.IBytes(uint64(f.maxBytes))))
}
