package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/platform/requestctx"
)

// Error is the JSON error envelope returned by the machine-readable endpoints.
type Error struct {
	Code    string
	Message string
	Status  int
	Fields  map[string]string
}

// NewError constructs an Error, defaulting the status to 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithFields attaches per-field validation messages.
func (e Error) WithFields(fields map[string]string) Error {
	if len(fields) == 0 {
		return e
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = sanitize(v, 256)
	}
	e.Fields = copied
	return e
}

// FromError maps a domain error kind onto an HTTP error envelope.
func FromError(err error) Error {
	switch {
	case err == nil:
		return NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
	case errors.Is(err, domain.ErrValidationFailure):
		return NewError("validation_failed", "the submitted values are invalid", http.StatusUnprocessableEntity).
			WithFields(domain.FieldErrors(err))
	case errors.Is(err, domain.ErrSessionNotFound):
		return NewError("session_not_found", "no survey session is active", http.StatusNotFound)
	case errors.Is(err, domain.ErrStaleSubmission):
		return NewError("stale_submission", "the rating was submitted for an ad that is no longer current", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidTransition):
		return NewError("invalid_transition", "the survey is not at that step", http.StatusConflict)
	case errors.Is(err, domain.ErrGenerationFailure),
		errors.Is(err, domain.ErrMalformedBatch),
		errors.Is(err, domain.ErrIncompleteBatch),
		errors.Is(err, domain.ErrEmptyBatch):
		return NewError("generation_failed", "the ads could not be generated", http.StatusBadGateway)
	case errors.Is(err, domain.ErrPersistenceFailure):
		return NewError("persistence_failed", "the responses could not be saved", http.StatusServiceUnavailable)
	default:
		return NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
	}
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID := sanitize(middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := sanitize(requestctx.TraceID(ctx), 64); traceID != "" {
		payload["trace_id"] = traceID
	}
	if len(err.Fields) > 0 {
		payload["fields"] = err.Fields
	}

	WriteJSON(w, status, payload)
}

// WriteJSON encodes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
