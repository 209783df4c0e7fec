package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mochivi/dataset-curator/internal/credentials"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", &credentials.ConfigurationError{Err: credentials.ErrTokenUnset}
	}
	return string(s), nil
}

func newTestOSSStore(endpoint string, token staticToken) *OSSStore {
	return NewOSSStore(OSSConfig{
		Endpoint:        endpoint,
		Bucket:          "dataset",
		AccessKeyID:     "id",
		AccessKeySecret: "secret",
	}, token, logging.NewTestLogger(slog.LevelError, true))
}

func TestOSSStore_MissingToken(t *testing.T) {
	store := newTestOSSStore("http://127.0.0.1:1", "")
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{name: "list", call: func() error { _, err := store.List(ctx, "data/", true); return err }},
		{name: "upload", call: func() error { return store.UploadBatch(ctx, []File{{Path: "a.png", Content: []byte("x")}}) }},
		{name: "download", call: func() error { _, err := store.Download(ctx, "a.png"); return err }},
		{name: "delete", call: func() error { return store.Delete(ctx, "a.png") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var configErr *credentials.ConfigurationError
			require.ErrorAs(t, err, &configErr)
			assert.ErrorIs(t, err, credentials.ErrTokenUnset)
		})
	}
}

func TestOSSStore_EmptyBatch(t *testing.T) {
	store := newTestOSSStore("http://127.0.0.1:1", "token")

	err := store.UploadBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestOSSStore_CancelledContext(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newTestOSSStore(server.URL, "token")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.List(ctx, "data/", true)
	assert.ErrorIs(t, err, context.Canceled)
	err = store.UploadBatch(ctx, []File{{Path: "a.png", Content: []byte("x")}})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Download(ctx, "a.png")
	assert.ErrorIs(t, err, context.Canceled)
	err = store.Delete(ctx, "a.png")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, requests)
}

func TestOSSStore_DownloadServiceError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		sentinel error
	}{
		{name: "missing object", status: http.StatusNotFound, code: "NoSuchKey", sentinel: ErrNotFound},
		{name: "throttled", status: http.StatusTooManyRequests, code: "Throttling", sentinel: ErrRateLimited},
		{name: "forbidden", status: http.StatusForbidden, code: "AccessDenied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>` + tt.code +
					`</Code><Message>rejected</Message><RequestId>req-1</RequestId><HostId>127.0.0.1</HostId></Error>`))
			}))
			defer server.Close()

			store := newTestOSSStore(server.URL, "token")
			_, err := store.Download(context.Background(), "data/train/set-000/real/a.png")

			require.Error(t, err)
			assert.Equal(t, tt.status, StatusCode(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestTranslateOSSError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		sentinel   error
	}{
		{name: "service error value", err: oss.ServiceError{StatusCode: http.StatusNotFound}, wantStatus: http.StatusNotFound, sentinel: ErrNotFound},
		{name: "service error pointer", err: &oss.ServiceError{StatusCode: http.StatusTooManyRequests}, wantStatus: http.StatusTooManyRequests, sentinel: ErrRateLimited},
		{name: "transport failure", err: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable},
		{name: "cancelled", err: context.Canceled, sentinel: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateOSSError("download", "a.png", tt.err)
			assert.Equal(t, tt.wantStatus, StatusCode(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}
