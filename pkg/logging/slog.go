package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/mochivi/dataset-curator/internal/common"
	"github.com/mochivi/dataset-curator/pkg/utils"
)

type contextKey string

const loggerKey contextKey = "logger"

// TextLogger can be used during development for more readable logs
func SetupTextLogger(w io.Writer, logLevel slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "time",
					Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05.000")),
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewTestLogger is a test logger that is used for testing
func NewTestLogger(logLevel slog.Level, discard bool) *slog.Logger {
	if discard {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return SetupTextLogger(os.Stdout, logLevel)
}

func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.New("invalid log level")
	}
}

// InitLogger builds the root logger from LOG_LEVEL and installs it as the slog default.
// Logs go to stderr so that command output on stdout stays machine readable.
func InitLogger() (*slog.Logger, error) {
	logLevel, err := ParseLevel(utils.GetEnvString("LOG_LEVEL", "warn"))
	if err != nil {
		return nil, err
	}
	logger := SetupTextLogger(os.Stderr, logLevel)
	slog.SetDefault(logger)
	return logger, nil
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func FromContextWithOperation(ctx context.Context, operation string, kvs ...any) (context.Context, *slog.Logger) {
	logger := OperationLogger(FromContext(ctx), operation, kvs...)
	return WithLogger(ctx, logger), logger
}

// Extend logger with additional attributes
func ExtendLogger(logger *slog.Logger, kvs ...any) *slog.Logger {
	return logger.With(kvs...)
}

// Add some operation specific attributes to the logger
func OperationLogger(logger *slog.Logger, operation string, kvs ...any) *slog.Logger {
	attrs := append(kvs, slog.String(common.LogOperation, operation))
	return ExtendLogger(logger, attrs...)
}

func ServiceLogger(logger *slog.Logger, service string, kvs ...any) *slog.Logger {
	attrs := append(kvs, slog.String(common.LogService, service))
	return ExtendLogger(logger, attrs...)
}
