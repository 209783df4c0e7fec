// Package credentials holds the single access token shared by every remote store call.
// The token is set once during startup and is never rotated while the process runs.
package credentials

import (
	"errors"
	"sync"

	"github.com/mochivi/dataset-curator/internal/apperr"
)

var (
	ErrTokenUnset      = errors.New("access token is not set")
	ErrTokenAlreadySet = errors.New("access token is already set")
	ErrEmptyToken      = errors.New("access token is empty")
)

// ConfigurationError marks failures that must abort startup and are never retried.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Err.Error() }

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) ToAppError() *apperr.AppError {
	return apperr.FailedPrecondition("server is missing credentials", e.Err)
}

// TokenSource is satisfied by Holder, tests may provide a stub
type TokenSource interface {
	Token() (string, error)
}

type Holder struct {
	mu    sync.RWMutex
	token string
}

func (h *Holder) Set(token string) error {
	if token == "" {
		return &ConfigurationError{Err: ErrEmptyToken}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token != "" {
		return &ConfigurationError{Err: ErrTokenAlreadySet}
	}
	h.token = token
	return nil
}

func (h *Holder) Token() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return "", &ConfigurationError{Err: ErrTokenUnset}
	}
	return h.token, nil
}

var process Holder

// Set installs the process-wide token
func Set(token string) error { return process.Set(token) }

// Token returns the process-wide token or a ConfigurationError if it was never set
func Token() (string, error) { return process.Token() }

// Process exposes the process-wide holder as a TokenSource
func Process() TokenSource { return &process }
