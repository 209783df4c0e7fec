package uploader

import "errors"

var (
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	ErrRateLimitCeiling   = errors.New("rate limit wait ceiling reached")
)
