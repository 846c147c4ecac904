package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adperception/survey/internal/platform/requestctx"
)

func completedEntry(t *testing.T, logs *observer.ObservedLogs) observer.LoggedEntry {
	t.Helper()
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	return entries[0]
}

func TestRequestLoggerIncludesNotedSession(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NoteSessionID(w, "01J0NOTED")
		w.WriteHeader(http.StatusSeeOther)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/start", nil))

	fields := completedEntry(t, logs).ContextMap()
	if fields["session_id"] != "01J0NOTED" {
		t.Fatalf("expected noted session id, got %v", fields["session_id"])
	}
	if fields["status"] != int64(http.StatusSeeOther) {
		t.Fatalf("expected status 303, got %v", fields["status"])
	}
}

func TestRequestLoggerFallsBackToContextSession(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	withSession := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(r.Context(), "01J0CONTEXT")))
		})
	}
	handler := InjectLoggerMiddleware(zap.New(core))(withSession(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rate", nil))

	if got := completedEntry(t, logs).ContextMap()["session_id"]; got != "01J0CONTEXT" {
		t.Fatalf("expected context session id, got %v", got)
	}
}

func TestRequestLoggerOmitsMissingSession(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entry := completedEntry(t, logs)
	if _, ok := entry.ContextMap()["session_id"]; ok {
		t.Fatalf("expected no session id field")
	}
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
}

func TestEventLoggerAddsContextSession(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(core))

	ctx := requestctx.WithSessionID(context.Background(), "01J0EVENT")
	logEvent(ctx, "survey.rating_recorded", map[string]any{"index": 2})
	logEvent(ctx, "survey.started", map[string]any{"sessionID": "01J0EXPLICIT"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["sessionID"]; got != "01J0EVENT" {
		t.Fatalf("expected context session id, got %v", got)
	}
	if got := entries[1].ContextMap()["sessionID"]; got != "01J0EXPLICIT" {
		t.Fatalf("expected explicit session id to win, got %v", got)
	}
}
