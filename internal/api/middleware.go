package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/harvain/satellite-service/internal/domain"
)

const actorHeader = "X-Actor"

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
// An empty key disables the check.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ActorMiddleware records the operator named in X-Actor as the author of any
// history entries written while serving the request.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
			r = r.WithContext(domain.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
