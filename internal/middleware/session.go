package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/adperception/survey/internal/platform/observability"
	"github.com/adperception/survey/internal/platform/requestctx"
)

// CookieSession is the signed state carried in the browser cookie. It holds only the
// server-side session ID and the CSRF token; survey state lives in the session store.
type CookieSession struct {
	SessionID string    `json:"sid,omitempty"`
	CSRFToken string    `json:"csrf"`
	IssuedAt  time.Time `json:"iat"`
}

// SessionCookies reads and writes HMAC-signed session cookies.
type SessionCookies struct {
	name   string
	key    []byte
	secure bool
	maxAge time.Duration
	now    func() time.Time
}

// NewSessionCookies builds a cookie codec. An empty signingKey generates an ephemeral key, so
// sessions do not survive a restart.
func NewSessionCookies(name, signingKey string, secure bool, maxAge time.Duration) (*SessionCookies, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("session cookies: cookie name is required")
	}
	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	return &SessionCookies{name: name, key: key, secure: secure, maxAge: maxAge, now: time.Now}, nil
}

// Middleware attaches the cookie session to the request context, issuing a fresh one when the
// cookie is missing or fails verification. A bound session ID is also published through
// requestctx and reported to the request logger.
func (c *SessionCookies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := c.read(r)
		if !ok {
			s = &CookieSession{CSRFToken: newCSRFToken(), IssuedAt: c.now().UTC()}
			c.write(w, s)
		}
		ctx := withCookieSession(r.Context(), s)
		if s.SessionID != "" {
			ctx = requestctx.WithSessionID(ctx, s.SessionID)
			observability.NoteSessionID(w, s.SessionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Bind points the cookie at sessionID and rotates the CSRF token. Call before writing the body.
func (c *SessionCookies) Bind(w http.ResponseWriter, r *http.Request, sessionID string) {
	s := SessionFromContext(r.Context())
	s.SessionID = sessionID
	s.CSRFToken = newCSRFToken()
	s.IssuedAt = c.now().UTC()
	c.write(w, s)
	observability.NoteSessionID(w, sessionID)
}

func (c *SessionCookies) read(r *http.Request) (*CookieSession, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	payloadPart, sigPart, ok := strings.Cut(cookie.Value, ".")
	if !ok {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, false
	}
	if !hmac.Equal(sig, c.sign(payload)) {
		return nil, false
	}
	var s CookieSession
	if err := json.Unmarshal(payload, &s); err != nil || s.CSRFToken == "" {
		return nil, false
	}
	if c.maxAge > 0 && c.now().Sub(s.IssuedAt) > c.maxAge {
		return nil, false
	}
	return &s, true
}

func (c *SessionCookies) write(w http.ResponseWriter, s *CookieSession) {
	payload, _ := json.Marshal(s)
	value := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(c.sign(payload))
	cookie := &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if c.maxAge > 0 {
		cookie.MaxAge = int(c.maxAge / time.Second)
	}
	http.SetCookie(w, cookie)
}

func (c *SessionCookies) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func newCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
