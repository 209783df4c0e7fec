package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type translatable struct{}

func (translatable) Error() string { return "translatable" }

func (translatable) ToAppError() *AppError {
	return InvalidArgument("bad input", nil)
}

func TestFrom(t *testing.T) {
	testCases := []struct {
		name         string
		err          error
		expectedCode codes.Code
	}{
		{name: "app error is kept", err: NotFound("vote", "v1", nil), expectedCode: codes.NotFound},
		{name: "wrapped app error is kept", err: fmt.Errorf("outer: %w", Unavailable("down", nil)), expectedCode: codes.Unavailable},
		{name: "translator", err: fmt.Errorf("outer: %w", translatable{}), expectedCode: codes.InvalidArgument},
		{name: "cancelled", err: fmt.Errorf("wait: %w", context.Canceled), expectedCode: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, expectedCode: codes.DeadlineExceeded},
		{name: "unknown", err: errors.New("boom"), expectedCode: codes.Internal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			appErr := From(tc.err)
			assert.Equal(t, tc.expectedCode, appErr.Code)
			assert.Equal(t, tc.expectedCode, status.Code(appErr))
		})
	}

	assert.Nil(t, From(nil))
}

func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Wrap(codes.Internal, "outer", inner)

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "outer: inner", err.Error())
}
