package middleware

import "context"

type ctxKey string

const (
	ctxKeyIsHTMX  ctxKey = "is_htmx"
	ctxKeySession ctxKey = "session"
)

// WithHTMX marks the request as issued by htmx.
func WithHTMX(ctx context.Context, is bool) context.Context {
	return context.WithValue(ctx, ctxKeyIsHTMX, is)
}

// IsHTMX reports whether the request was issued by htmx.
func IsHTMX(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyIsHTMX).(bool)
	return v
}

func withCookieSession(ctx context.Context, s *CookieSession) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

// SessionFromContext returns the cookie session attached by SessionCookies.Middleware.
// It never returns nil.
func SessionFromContext(ctx context.Context) *CookieSession {
	if s, ok := ctx.Value(ctxKeySession).(*CookieSession); ok && s != nil {
		return s
	}
	return &CookieSession{}
}
