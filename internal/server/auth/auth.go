// Package auth resolves the calling user from request headers. This is
// header-trusting identification for a paper-trading tool, not real
// authentication.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey struct{}

// UserResolver maps a username to a user ID, creating the account on
// first sight. Implemented by the users service.
type UserResolver interface {
	ResolveUsername(username string) (int64, error)
}

// UserID returns the authenticated user's ID, or 0 outside the middleware
func UserID(ctx context.Context) int64 {
	id, _ := ctx.Value(contextKey{}).(int64)
	return id
}

// WithUserID injects a user ID into a context, used by tests
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Middleware reads the X-User header and stores the resolved user ID in
// the request context. Requests without the header are rejected.
func Middleware(resolver UserResolver, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username := strings.TrimSpace(r.Header.Get("X-User"))
			if username == "" {
				writeError(w, http.StatusUnauthorized, "X-User header is required")
				return
			}

			id, err := resolver.ResolveUsername(username)
			if err != nil {
				log.Error().Err(err).Str("username", username).Msg("Failed to resolve user")
				writeError(w, http.StatusInternalServerError, "failed to resolve user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
