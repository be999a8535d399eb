// Package middleware carries the HTTP auth guard shared by the API routes
// and the websocket upgrade endpoint.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"connect/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenVerifier is what we need from the auth package; the interface keeps
// this package decoupled from the concrete verifier.
type TokenVerifier interface {
	Verify(credential string) (auth.Identity, error)
}

type Auth struct {
	verifier TokenVerifier
}

func NewAuth(v TokenVerifier) *Auth {
	return &Auth{verifier: v}
}

// Handle extracts a bearer token from the Authorization header, falling back
// to the "token" query parameter (browsers cannot set headers on websocket
// upgrades), verifies it, and injects the identity into the request context.
func (a *Auth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""

		if h := r.Header.Get("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = parts[1]
			}
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "missing authentication token", http.StatusUnauthorized)
			return
		}

		id, err := a.verifier.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the verified identity stored by Handle.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
