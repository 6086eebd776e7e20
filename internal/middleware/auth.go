package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/registry/internal/auth"
)

// TokenHeader is an alternative to the Authorization header for clients
// that cannot set bearer tokens, such as browser websocket upgrades.
const TokenHeader = "X-Registry-Token"

// RequireToken rejects requests whose bearer token does not match the
// configured admin hash. With no hash configured every request passes as an
// anonymous admin.
func RequireToken(v *auth.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.Enabled() {
				ctx := auth.WithActor(r.Context(), auth.Actor{Admin: true})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if err := v.Verify(bearerToken(r)); err != nil {
				logger.Warn("rejected token", "path", r.URL.Path, "remote", RealIP(r))
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := auth.WithActor(r.Context(), auth.Actor{Name: "admin", Admin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get(TokenHeader)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
