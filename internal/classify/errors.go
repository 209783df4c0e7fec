package classify

import (
	"errors"
	"fmt"

	"github.com/mochivi/dataset-curator/internal/apperr"
)

var (
	ErrNoModels        = errors.New("no detector models configured")
	ErrNoImage         = errors.New("image bytes required for detector scoring")
	ErrMissingPositive = errors.New("model output has no artificial score")
	ErrScorerStatus    = errors.New("scorer returned an error status")
)

// ScorerError is the terminal failure of a detector lookup
type ScorerError struct {
	Model string
	Err   error
}

func (e *ScorerError) Error() string { return fmt.Sprintf("score with %s: %v", e.Model, e.Err) }

func (e *ScorerError) Unwrap() error { return e.Err }

func (e *ScorerError) ToAppError() *apperr.AppError {
	return apperr.Unavailable("image detector is unavailable", e)
}
