package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxIdempotencyBody   = 1 << 20 // 1 MB
)

// idempotencyEntry stores a cached HTTP response. A zero StatusCode marks
// a request that is still being processed.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
}

var inFlightEntry = []byte(`{"status_code":0}`)

// Idempotency returns middleware that deduplicates POST/PUT/DELETE requests
// carrying an Idempotency-Key header. Keys are scoped by method and path.
// The first request claims the key; a concurrent duplicate gets 409 and a
// later one replays the stored response. 5xx responses are not stored so
// the client can retry.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := r.Header.Get(headerIdempotencyKey)
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := cache.Key("idem", r.Method, r.URL.Path, idemKey)

			won, err := c.Claim(r.Context(), key, inFlightEntry, ttl)
			if err != nil {
				slog.WarnContext(r.Context(), "idempotency: claim failed, processing without dedup", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !won {
				replay(w, r, c, key)
				return
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				if delErr := c.Delete(r.Context(), key); delErr != nil {
					slog.WarnContext(r.Context(), "idempotency: failed to release key", "error", delErr)
				}
				return
			}
			data, marshalErr := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			})
			if marshalErr != nil {
				return
			}
			if setErr := c.Set(r.Context(), key, data, ttl); setErr != nil {
				slog.WarnContext(r.Context(), "idempotency: failed to store response", "error", setErr)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, c cache.Cache, key string) {
	cached, ok, err := cache.GetJSON[idempotencyEntry](r.Context(), c, key)
	if err != nil || !ok || cached.StatusCode == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"a request with this Idempotency-Key is still in progress"}`))
		return
	}
	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
