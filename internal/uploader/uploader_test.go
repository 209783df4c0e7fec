package uploader

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mochivi/dataset-curator/internal/credentials"
	"github.com/mochivi/dataset-curator/internal/storage/remote"
	"github.com/mochivi/dataset-curator/pkg/logging"
)

type staticToken struct {
	token string
}

func (s staticToken) Token() (string, error) {
	if s.token == "" {
		return "", &credentials.ConfigurationError{Err: credentials.ErrTokenUnset}
	}
	return s.token, nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func statusErr(code int) error {
	return &remote.StatusError{StatusCode: code, Op: "test", Path: "p", Err: errors.New(http.StatusText(code))}
}

func newTestUploader(store remote.Store, config UploaderConfig) (*Uploader, *sleepRecorder) {
	recorder := &sleepRecorder{}
	u := NewUploader(store, staticToken{token: "token"}, config, logging.NewTestLogger(slog.LevelError, true))
	u.sleep = recorder.sleep
	u.rand = func() float64 { return 0.5 }
	return u, recorder
}

func testConfig() UploaderConfig {
	config := DefaultUploaderConfig()
	config.RetryLimit = 3
	return config
}

var testFiles = []remote.File{{Path: "data/train/set-000/real/a.png", Content: []byte("a")}}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nil", err: nil, want: OutcomeSuccess},
		{name: "rate limited", err: statusErr(http.StatusTooManyRequests), want: OutcomeRateLimited},
		{name: "server error", err: statusErr(http.StatusInternalServerError), want: OutcomeRetryable},
		{name: "unavailable", err: statusErr(http.StatusServiceUnavailable), want: OutcomeRetryable},
		{name: "transport error", err: errors.New("connection reset"), want: OutcomeRetryable},
		{name: "bad request", err: statusErr(http.StatusBadRequest), want: OutcomeFatal},
		{name: "unauthorized", err: statusErr(http.StatusUnauthorized), want: OutcomeFatal},
		{name: "forbidden", err: statusErr(http.StatusForbidden), want: OutcomeFatal},
		{name: "not found", err: statusErr(http.StatusNotFound), want: OutcomeFatal},
		{name: "configuration", err: &credentials.ConfigurationError{Err: credentials.ErrTokenUnset}, want: OutcomeFatal},
		{name: "canceled", err: context.Canceled, want: OutcomeFatal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestLinearBackOff(t *testing.T) {
	b := newLinearBackOff(time.Second, 0.15, 3)
	b.rand = func() float64 { return 0 }

	assert.Equal(t, 1*time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, time.Duration(-1), b.NextBackOff())

	b.Reset()
	b.rand = func() float64 { return 0.999 }
	wait := b.NextBackOff()
	assert.GreaterOrEqual(t, wait, time.Second)
	assert.Less(t, wait, time.Duration(1.15*float64(time.Second)))
}

func TestUploader_Upload(t *testing.T) {
	testCases := []struct {
		name            string
		setupMocks      func(*remote.MockStore)
		expectErr       error
		expectErrAny    bool
		expectWaits     int
		expectLongWaits int
	}{
		{
			name: "success: first attempt",
			setupMocks: func(store *remote.MockStore) {
				store.On("UploadBatch", mock.Anything, testFiles).Return(nil).Once()
			},
		},
		{
			name: "success: rate limited twice does not consume the budget",
			setupMocks: func(store *remote.MockStore) {
				store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusTooManyRequests)).Twice()
				store.On("UploadBatch", mock.Anything, testFiles).Return(nil).Once()
			},
			expectWaits:     2,
			expectLongWaits: 2,
		},
		{
			name: "success: rate limits beyond the retry limit",
			setupMocks: func(store *remote.MockStore) {
				store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusTooManyRequests)).Times(5)
				store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusInternalServerError)).Times(3)
				store.On("UploadBatch", mock.Anything, testFiles).Return(nil).Once()
			},
			expectWaits:     8,
			expectLongWaits: 5,
		},
		{
			name: "success: recovers on the last retry",
			setupMocks: func(store *remote.MockStore) {
				store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusBadGateway)).Times(3)
				store.On("UploadBatch", mock.Anything, testFiles).Return(nil).Once()
			},
			expectWaits: 3,
		},
		{
			name: "error: retry limit exceeded",
			setupMocks: func(store *remote.MockStore) {
				store.On("UploadBatch", mock.Anything, testFiles).Return(errors.New("connection reset")).Times(4)
			},
			expectErr:   ErrRetryLimitExceeded,
			expectWaits: 3,
		},
		{
			name: "error: fatal status is not retried",
			setupMocks: func(store *remote.MockStore) {
				store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusForbidden)).Once()
			},
			expectErrAny: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &remote.MockStore{}
			tc.setupMocks(store)
			u, recorder := newTestUploader(store, testConfig())

			err := u.Upload(context.Background(), testFiles)

			switch {
			case tc.expectErr != nil:
				assert.ErrorIs(t, err, tc.expectErr)
			case tc.expectErrAny:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}

			assert.Len(t, recorder.waits, tc.expectWaits)
			longWaits := 0
			for _, wait := range recorder.waits {
				if wait == u.config.RateLimitWait {
					longWaits++
				}
			}
			assert.Equal(t, tc.expectLongWaits, longWaits)
			store.AssertExpectations(t)
		})
	}
}

func TestUploader_RetryLimitPlusOneFailures(t *testing.T) {
	store := &remote.MockStore{}
	config := DefaultUploaderConfig()
	store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusInternalServerError)).Times(config.RetryLimit + 1)

	u, recorder := newTestUploader(store, config)
	err := u.Upload(context.Background(), testFiles)

	require.ErrorIs(t, err, ErrRetryLimitExceeded)
	assert.Len(t, recorder.waits, config.RetryLimit)
	for i, wait := range recorder.waits {
		base := config.BaseDelay * time.Duration(i+1)
		assert.GreaterOrEqual(t, wait, base)
		assert.Less(t, wait, time.Duration(float64(base)*(1+config.JitterFactor)))
	}
	store.AssertExpectations(t)
}

func TestUploader_RateLimitCeiling(t *testing.T) {
	store := &remote.MockStore{}
	store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusTooManyRequests)).Times(3)

	config := testConfig()
	config.MaxRateLimitWaits = 2
	u, recorder := newTestUploader(store, config)

	err := u.Upload(context.Background(), testFiles)
	assert.ErrorIs(t, err, ErrRateLimitCeiling)
	assert.ErrorIs(t, err, remote.ErrRateLimited)
	assert.Len(t, recorder.waits, 2)
	store.AssertExpectations(t)
}

func TestUploader_MissingToken(t *testing.T) {
	store := &remote.MockStore{}
	u := NewUploader(store, staticToken{}, testConfig(), logging.NewTestLogger(slog.LevelError, true))

	err := u.Upload(context.Background(), testFiles)

	var configErr *credentials.ConfigurationError
	assert.ErrorAs(t, err, &configErr)
	assert.ErrorIs(t, err, credentials.ErrTokenUnset)
	store.AssertNotCalled(t, "UploadBatch", mock.Anything, mock.Anything)
}

func TestUploader_Cancellation(t *testing.T) {
	store := &remote.MockStore{}
	ctx, cancel := context.WithCancel(context.Background())
	store.On("UploadBatch", mock.Anything, testFiles).Return(statusErr(http.StatusTooManyRequests)).Run(func(mock.Arguments) {
		cancel()
	}).Once()

	u := NewUploader(store, staticToken{token: "token"}, testConfig(), logging.NewTestLogger(slog.LevelError, true))
	err := u.Upload(ctx, testFiles)

	assert.ErrorIs(t, err, context.Canceled)
	store.AssertExpectations(t)
}

func TestUploader_EmptyBatch(t *testing.T) {
	store := &remote.MockStore{}
	u, _ := newTestUploader(store, testConfig())
	assert.NoError(t, u.Upload(context.Background(), nil))
	store.AssertNotCalled(t, "UploadBatch", mock.Anything, mock.Anything)
}

func TestUploader_Replace(t *testing.T) {
	file := remote.File{Path: "data/train/set-000/real/a.png", Content: []byte("new")}

	testCases := []struct {
		name          string
		setupMocks    func(*remote.MockStore)
		expectChanged bool
		expectErr     error
	}{
		{
			name: "success: content changed",
			setupMocks: func(store *remote.MockStore) {
				store.On("Download", mock.Anything, file.Path).Return([]byte("old"), nil).Once()
				store.On("UploadBatch", mock.Anything, []remote.File{file}).Return(nil).Once()
			},
			expectChanged: true,
		},
		{
			name: "success: identical content is skipped",
			setupMocks: func(store *remote.MockStore) {
				store.On("Download", mock.Anything, file.Path).Return([]byte("new"), nil).Once()
			},
		},
		{
			name: "error: nothing to replace",
			setupMocks: func(store *remote.MockStore) {
				store.On("Download", mock.Anything, file.Path).Return(nil, statusErr(http.StatusNotFound)).Once()
			},
			expectErr: remote.ErrNotFound,
		},
		{
			name: "success: transient download failure is retried",
			setupMocks: func(store *remote.MockStore) {
				store.On("Download", mock.Anything, file.Path).Return(nil, statusErr(http.StatusServiceUnavailable)).Once()
				store.On("Download", mock.Anything, file.Path).Return([]byte("old"), nil).Once()
				store.On("UploadBatch", mock.Anything, []remote.File{file}).Return(nil).Once()
			},
			expectChanged: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &remote.MockStore{}
			tc.setupMocks(store)
			u, _ := newTestUploader(store, testConfig())

			changed, err := u.Replace(context.Background(), file)
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expectChanged, changed)
			store.AssertExpectations(t)
		})
	}
}

func TestUploader_Delete(t *testing.T) {
	testCases := []struct {
		name      string
		storeErr  error
		expectErr bool
	}{
		{name: "success", storeErr: nil},
		{name: "success: already missing", storeErr: statusErr(http.StatusNotFound)},
		{name: "error: forbidden", storeErr: statusErr(http.StatusForbidden), expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &remote.MockStore{}
			store.On("Delete", mock.Anything, "data/x").Return(tc.storeErr).Once()
			u, _ := newTestUploader(store, testConfig())

			err := u.Delete(context.Background(), "data/x")
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestUploader_List(t *testing.T) {
	store := &remote.MockStore{}
	objects := []remote.Object{{Path: "data/train/set-000/real/a.png", Type: remote.ObjectFile}}
	store.On("List", mock.Anything, "data", true).Return(nil, statusErr(http.StatusInternalServerError)).Once()
	store.On("List", mock.Anything, "data", true).Return(objects, nil).Once()

	u, recorder := newTestUploader(store, testConfig())
	got, err := u.List(context.Background(), "data", true)

	require.NoError(t, err)
	assert.Equal(t, objects, got)
	assert.Len(t, recorder.waits, 1)
	store.AssertExpectations(t)
}
