package image

import (
	"errors"
	"fmt"

	"github.com/mochivi/dataset-curator/internal/apperr"
)

var (
	ErrExcluded           = errors.New("image is in the exclusion set")
	ErrOversize           = errors.New("oversized image could not be downscaled")
	ErrInvalidContentType = errors.New("content is not a supported image")
	ErrFetch              = errors.New("failed to fetch image")
	ErrUnknownAlgorithm   = errors.New("unknown hash algorithm")
)

// ValidationError is returned for every rejected item, it is never retried.
type ValidationError struct {
	Source string // identity of the rejected item, URL or caller supplied name
	Err    error  // one of the sentinels above, possibly wrapping the cause
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Source, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) ToAppError() *apperr.AppError {
	switch {
	case errors.Is(e.Err, ErrExcluded):
		return apperr.FailedPrecondition("image is excluded from the dataset", e)
	case errors.Is(e.Err, ErrFetch):
		return apperr.Unavailable("image could not be fetched", e)
	default:
		return apperr.InvalidArgument("invalid image", e)
	}
}

func newValidationError(source string, sentinel error, cause error) *ValidationError {
	if cause == nil {
		return &ValidationError{Source: source, Err: sentinel}
	}
	return &ValidationError{Source: source, Err: fmt.Errorf("%w: %v", sentinel, cause)}
}
