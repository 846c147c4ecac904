package middleware

import (
	"crypto/subtle"
	"net/http"
)

// CSRFFieldName is the hidden form field carrying the token.
const CSRFFieldName = "csrf_token"

// CSRF rejects unsafe requests whose token does not match the cookie session. The token is read
// from the X-CSRF-Token header or the csrf_token form field.
func CSRF(onFailure http.HandlerFunc) func(http.Handler) http.Handler {
	if onFailure == nil {
		onFailure = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid CSRF token", http.StatusForbidden)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			expected := SessionFromContext(r.Context()).CSRFToken
			got := r.Header.Get("X-CSRF-Token")
			if got == "" {
				got = r.PostFormValue(CSRFFieldName)
			}
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				onFailure(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
