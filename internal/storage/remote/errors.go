package remote

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidPath = errors.New("invalid object path")
	ErrRateLimited = errors.New("rate limited")
	ErrEmptyBatch  = errors.New("empty upload batch")
)

// StatusError is the error shape every backend reports failures with.
// StatusCode follows HTTP semantics: 404 not found, 429 rate limited.
type StatusError struct {
	StatusCode int
	Op         string
	Path       string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Path, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Is lets callers match on the sentinel for a status code
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// StatusCode extracts the status code of err, 0 if it carries none
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// Filesystem errors are translated into status codes so the local backend
// fails with the same shape as the remote ones.
func handleFsError(op, path string, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, os.ErrNotExist):
		code = http.StatusNotFound
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		code = http.StatusForbidden
	case errors.Is(err, syscall.ENOSPC):
		code = http.StatusInsufficientStorage
	case errors.Is(err, syscall.EIO):
		code = http.StatusServiceUnavailable
	}
	return &StatusError{StatusCode: code, Op: op, Path: path, Err: err}
}
