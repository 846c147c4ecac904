package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/platform/config"
)

func noSleep(context.Context, time.Duration) error { return nil }

func openAIConfig(baseURL string, retries int) config.GenerationConfig {
	return config.GenerationConfig{
		Provider:    config.ProviderOpenAI,
		Model:       "gpt-5-mini",
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		Temperature: 1,
		MaxRetries:  retries,
	}
}

func TestOpenAIGenerateSendsChatCompletion(t *testing.T) {
	t.Parallel()

	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"{\"Name\":\"Hi Ana\"}"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(server.Close)

	client, err := New(context.Background(), openAIConfig(server.URL, 0), WithHTTPClient(server.Client()))
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), domain.GenerationRequest{
		System:     "be terse",
		Prompt:     "write ads",
		JSONOutput: true,
	})
	require.NoError(t, err)
	require.Equal(t, `{"Name":"Hi Ana"}`, text)

	require.Equal(t, "gpt-5-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	require.Equal(t, "system", captured.Messages[0].Role)
	require.Equal(t, "write ads", captured.Messages[1].Content)
	require.NotNil(t, captured.ResponseFormat)
	require.Equal(t, "json_object", captured.ResponseFormat.Type)
}

func TestOpenAIGenerateRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	t.Cleanup(server.Close)

	client, err := New(context.Background(), openAIConfig(server.URL, 2), WithHTTPClient(server.Client()), withSleep(noSleep))
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.EqualValues(t, 2, calls.Load())
}

func TestOpenAIGenerateMakesOneCallByDefault(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client, err := New(context.Background(), openAIConfig(server.URL, 0), WithHTTPClient(server.Client()), withSleep(noSleep))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestOpenAIGenerateDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client, err := New(context.Background(), openAIConfig(server.URL, 3), WithHTTPClient(server.Client()), withSleep(noSleep))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestOpenAIGenerateRejectsEmptyChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	t.Cleanup(server.Close)

	client, err := New(context.Background(), openAIConfig(server.URL, 0), WithHTTPClient(server.Client()))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiGenerateReadsCandidateText(t *testing.T) {
	t.Parallel()

	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"Age\":\"At 29\"}"}]},"finishReason":"STOP"}]}`)
	}))
	t.Cleanup(server.Close)

	cfg := config.GenerationConfig{
		Provider: config.ProviderGemini,
		Model:    "gemini-2.5-flash",
		APIKey:   "gm-test",
		BaseURL:  server.URL,
		Timeout:  5 * time.Second,
	}
	client, err := New(context.Background(), cfg, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), domain.GenerationRequest{Prompt: "write ads", JSONOutput: true})
	require.NoError(t, err)
	require.Equal(t, `{"Age":"At 29"}`, text)
	require.True(t, strings.HasSuffix(path, "gemini-2.5-flash:generateContent"), path)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), config.GenerationConfig{Provider: "carrier-pigeon", APIKey: "k"})
	require.Error(t, err)

	_, err = New(context.Background(), config.GenerationConfig{Provider: config.ProviderOpenAI})
	require.Error(t, err)
}

func TestRetryableClassification(t *testing.T) {
	t.Parallel()

	require.True(t, retryable(&StatusError{StatusCode: http.StatusTooManyRequests}))
	require.True(t, retryable(&StatusError{StatusCode: http.StatusBadGateway}))
	require.False(t, retryable(&StatusError{StatusCode: http.StatusBadRequest}))
	require.False(t, retryable(context.Canceled))
	require.False(t, retryable(errors.New("decode failure")))
}
