// Package middleware provides HTTP middleware for ForgeTrack: webhook
// authentication, request IDs, idempotent POSTs, rate limiting and API keys.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/ForgeTrack/internal/logger"
)

const headerRequestID = "X-Request-ID"

// deliveryIDHeaders are provider headers that already identify a webhook
// delivery; reusing them ties our logs to the provider's delivery log.
var deliveryIDHeaders = []string{
	"X-GitHub-Delivery",
	"X-Gitlab-Event-UUID",
	"X-Request-UUID",
}

// RequestID is HTTP middleware that takes the request ID from X-Request-ID,
// then from a provider delivery header, or generates a new one. The ID is
// stored in the context and set on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		for _, h := range deliveryIDHeaders {
			if id != "" {
				break
			}
			id = r.Header.Get(h)
		}
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
