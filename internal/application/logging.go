package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/room-tracker/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// logFailure logs err at the level its kind deserves. Caller mistakes are
// warnings; integrity failures are critical.
func logFailure(ctx context.Context, logger *slog.Logger, msg string, err error) {
	kind := ErrorKind(err)
	switch kind {
	case "validation", "conflict", "state", "not_found", "already_exists", "invalid_credentials", "verification_failed":
		logger.WarnContext(ctx, msg, "error", err, "error_kind", kind)
	case "integrity":
		logger.ErrorContext(ctx, msg, "error", err, "error_kind", kind, "severity", "critical")
	default:
		logger.ErrorContext(ctx, msg, "error", err, "error_kind", kind)
	}
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var (
		vErr *ValidationError
		cErr *ConflictError
		sErr *StateError
		iErr *IntegrityError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &iErr):
		return "integrity"
	case errors.As(err, &cErr):
		return "conflict"
	case errors.As(err, &sErr):
		return "state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	}

	return "unexpected"
}
