package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthorHeader carries the resolved caller, set by the upstream gateway.
const AuthorHeader = "X-Author-Id"

// IdentityResolver returns the stable author id for a request, or "" when
// the caller is unresolved.
type IdentityResolver func(r *http.Request) string

// HeaderIdentity resolves the caller from a trusted request header.
func HeaderIdentity(header string) IdentityResolver {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(header))
	}
}

// BearerAuthMiddleware guards service-to-service access with a shared token.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
