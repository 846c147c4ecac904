package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 10 * time.Second
)

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, body)
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func statusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

// withRetry runs fn up to maxRetries+1 times with jittered exponential backoff.
func withRetry(ctx context.Context, o options, provider string, maxRetries int, fn func(context.Context) (string, error)) (string, error) {
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		if attempt >= maxRetries || !retryable(err) {
			return "", err
		}

		wait := backoff/2 + rand.N(backoff/2+1)
		o.logger.Warn("llm request retrying",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("sleep", wait),
			zap.Error(err),
		)
		if err := o.sleep(ctx, wait); err != nil {
			return "", err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
