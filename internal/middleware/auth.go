package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
)

const headerAPIKey = "X-API-Key"

// Principal identifies the API client behind a request.
type Principal struct {
	Name string
}

type principalCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// HashAPIKey returns the hex SHA-256 digest stored in configuration for key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuth returns middleware that accepts an API key from X-API-Key,
// "Authorization: Bearer", or the ?token= query parameter on /ws. keys maps
// hex SHA-256 digests to client names. When enabled is false a local
// principal is injected and every request passes.
func APIKeyAuth(keys map[string]string, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				ctx := context.WithValue(r.Context(), principalCtxKey{}, &Principal{Name: "local"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := presentedKey(r)
			if key == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			name, ok := keys[HashAPIKey(key)]
			if !ok {
				slog.WarnContext(r.Context(), "api key rejected", "path", r.URL.Path, "remote_ip", realIP(r))
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalCtxKey{}, &Principal{Name: name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get(headerAPIKey); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browsers cannot set headers on WebSocket upgrades.
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

// PrincipalFromContext returns the authenticated client, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*Principal)
	return p
}
