// Package llm adapts hosted text-generation APIs to a single Generate call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/adperception/survey/internal/domain"
	"github.com/adperception/survey/internal/platform/config"
)

// Client performs one generation request. Transient failures are retried only when
// GenerationConfig.MaxRetries is positive, which it is not by default.
type Client interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
	Close() error
}

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("llm: provider returned no text")

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
	sleep      func(context.Context, time.Duration) error
}

// Option customises client construction.
type Option func(*options)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// New returns the client for cfg.Provider.
func New(ctx context.Context, cfg config.GenerationConfig, opts ...Option) (Client, error) {
	o := options{logger: zap.NewNop(), sleep: sleepContext}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return newOpenAIClient(cfg, o), nil
	case config.ProviderGemini:
		return newGeminiClient(ctx, cfg, o)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
