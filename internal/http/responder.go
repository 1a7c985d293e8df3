package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/room-tracker/internal/application"
)

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errInvalidTime    = errors.New("time values must be RFC 3339")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps the application error taxonomy onto status codes.
// Services already logged the failure.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := application.ErrorKind(err)
	resp := errorResponse{ErrorCode: kind, Message: err.Error()}
	status := http.StatusInternalServerError

	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusUnprocessableEntity
		resp.Message = "validation failed"
		resp.Errors = vErr.FieldErrors
	case kind == "conflict", kind == "state", kind == "already_exists":
		status = http.StatusConflict
	case kind == "not_found":
		status = http.StatusNotFound
	case kind == "invalid_credentials":
		status = http.StatusUnauthorized
	case kind == "verification_failed":
		status = http.StatusBadRequest
	default:
		resp.Message = http.StatusText(http.StatusInternalServerError)
	}

	r.writeJSON(ctx, w, status, resp)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// decodeJSON reads a request body; an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var perr *time.ParseError
		if errors.As(err, &perr) {
			return errInvalidTime
		}
		return errBadRequestBody
	}
	return nil
}
