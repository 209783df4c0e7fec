package vote

import (
	"errors"

	"github.com/mochivi/dataset-curator/internal/apperr"
)

var (
	ErrUnknownLabel   = errors.New("unknown label")
	ErrInvalidVote    = errors.New("vote requires an image hash and a user id")
	ErrVoteNotFound   = errors.New("vote not found")
	ErrUnknownDialect = errors.New("unknown vote store driver")
)

// LedgerError carries the ledger operation that failed and the vote or image it targeted
type LedgerError struct {
	Op  string
	Key string
	Err error
}

func (e *LedgerError) Error() string { return e.Op + " " + e.Key + ": " + e.Err.Error() }

func (e *LedgerError) Unwrap() error { return e.Err }

func (e *LedgerError) ToAppError() *apperr.AppError {
	switch {
	case errors.Is(e.Err, ErrUnknownLabel), errors.Is(e.Err, ErrInvalidVote):
		return apperr.InvalidArgument(e.Op, e.Err)
	case errors.Is(e.Err, ErrVoteNotFound):
		return apperr.NotFound("vote", e.Key, e.Err)
	}
	return apperr.Internal(e.Err)
}
