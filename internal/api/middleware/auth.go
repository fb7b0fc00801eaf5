// Package middleware holds the chi middleware of the orchestrator API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/matiasleandrokruk/nerve/internal/api/ctxkeys"
	pkgauth "github.com/matiasleandrokruk/nerve/pkg/auth"
)

// Auth validates "Authorization: Bearer <token>" against issuer and stores
// the token's subject and scope on the request context. Failures get a 401
// with the orchestrator error envelope.
func Auth(issuer *pkgauth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing or invalid Authorization header")
				return
			}

			claims, err := issuer.Parse(token)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := ctxkeys.WithValue(r.Context(), ctxkeys.Subject, claims.Subject)
			ctx = ctxkeys.WithValue(ctx, ctxkeys.Scope, claims.Scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken returns "" unless the header uses the Bearer scheme
// (case-sensitive per RFC 7235).
func extractBearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"code":      "unauthorized",
		"message":   message,
		"retriable": false,
	})
}
