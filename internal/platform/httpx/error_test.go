package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/platform/requestctx"
)

func TestWriteErrorIncludesTraceAndFields(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("validation_failed", "bad\ninput", http.StatusUnprocessableEntity).
		WithFields(map[string]string{"age": "must be at least 18"}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["message"] != "bad input" {
		t.Fatalf("expected newline stripped, got %v", body["message"])
	}
	if body["trace_id"] != "abc123" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
	fields, ok := body["fields"].(map[string]any)
	if !ok || fields["age"] != "must be at least 18" {
		t.Fatalf("unexpected fields %v", body["fields"])
	}
}

func TestFromErrorMapsDomainKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewValidationError(map[string]string{"name": "required"}), http.StatusUnprocessableEntity, "validation_failed"},
		{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{domain.ErrStaleSubmission, http.StatusConflict, "stale_submission"},
		{fmt.Errorf("wrap: %w", domain.ErrMalformedBatch), http.StatusBadGateway, "generation_failed"},
		{domain.ErrPersistenceFailure, http.StatusServiceUnavailable, "persistence_failed"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_server_error"},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		if got.Status != tc.status || got.Code != tc.code {
			t.Fatalf("FromError(%v) = %d/%s, want %d/%s", tc.err, got.Status, got.Code, tc.status, tc.code)
		}
	}
}
