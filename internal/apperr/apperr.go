package apperr

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError is the standard error type returned at the edge of the application.
type AppError struct {
	// Code is the canonical gRPC code for this error.
	Code codes.Code

	// Message is a user-facing error message.
	Message string

	// Err is the underlying wrapped error, for internal logging.
	Err error
}

// AppErrorTranslator is an interface that errors can implement to translate
// themselves into an AppError. This allows for decentralized error translation.
type AppErrorTranslator interface {
	ToAppError() *AppError
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// GRPCStatus lets grpc-aware callers return an AppError directly from a handler.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// New creates a new AppError without a wrapped error.
func New(code codes.Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Wrap creates a new AppError that wraps an existing error.
func Wrap(code codes.Code, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, Err: err}
}

// From translates any error into an AppError. Errors already carrying an AppError,
// or implementing AppErrorTranslator anywhere in their chain, keep their own code.
func From(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var translator AppErrorTranslator
	if errors.As(err, &translator) {
		return translator.ToAppError()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(codes.Canceled, "operation cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(codes.DeadlineExceeded, "operation timed out", err)
	}
	return Internal(err)
}

// --- Pre-defined application Level errors  ---

func NotFound(resource, id string, err error) *AppError {
	return Wrap(codes.NotFound, fmt.Sprintf("%s with id '%s' not found", resource, id), err)
}

func InvalidArgument(msg string, err error) *AppError {
	return Wrap(codes.InvalidArgument, msg, err)
}

func FailedPrecondition(msg string, err error) *AppError {
	return Wrap(codes.FailedPrecondition, msg, err)
}

func ResourceExhausted(msg string, err error) *AppError {
	return Wrap(codes.ResourceExhausted, msg, err)
}

func Unavailable(msg string, err error) *AppError {
	return Wrap(codes.Unavailable, msg, err)
}

func Internal(err error) *AppError {
	// The public message for an internal error should always be generic.
	// The original error `err` is for internal logging.
	return Wrap(codes.Internal, "an unexpected internal error occurred", err)
}
