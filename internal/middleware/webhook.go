package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/secrets"
)

// Signature headers per service.
const (
	HeaderGitHubSignature    = "X-Hub-Signature-256"
	HeaderGitLabToken        = "X-Gitlab-Token"
	HeaderBitbucketSignature = "X-Hub-Signature"
	HeaderSentrySignature    = "Sentry-Hook-Signature"
	HeaderWebhookToken       = "X-Webhook-Token"
)

// SignatureVerifier authenticates raw webhook bodies against the
// connection's encrypted secret.
type SignatureVerifier struct {
	codec secrets.Codec
}

// NewSignatureVerifier creates a verifier that decrypts secrets with codec.
func NewSignatureVerifier(codec secrets.Codec) *SignatureVerifier {
	return &SignatureVerifier{codec: codec}
}

// Verify reports whether body and headers carry a valid signature or token
// for svc. Any failure (decrypt error, missing header, malformed hex, empty
// secret, unknown service) yields false.
func (v *SignatureVerifier) Verify(ctx context.Context, svc connection.Service, body []byte, h http.Header, encryptedSecret []byte) bool {
	if len(encryptedSecret) == 0 {
		return false
	}
	secret, err := v.codec.Decrypt(ctx, encryptedSecret)
	if err != nil || len(secret) == 0 {
		return false
	}

	switch svc {
	case connection.ServiceGitHub:
		return verifyHMAC(body, h.Get(HeaderGitHubSignature), secret, "sha256=")
	case connection.ServiceBitbucket:
		return verifyHMAC(body, h.Get(HeaderBitbucketSignature), secret, "sha256=")
	case connection.ServiceSentry:
		return verifyHMAC(body, h.Get(HeaderSentrySignature), secret, "")
	case connection.ServiceGitLab:
		return verifyToken(h.Get(HeaderGitLabToken), secret)
	case connection.ServiceDatadog, connection.ServiceNewRelic:
		return verifyToken(h.Get(HeaderWebhookToken), secret)
	default:
		return false
	}
}

// verifyHMAC checks that signature equals prefix + hex(HMAC-SHA256(secret, payload)).
func verifyHMAC(payload []byte, signature string, secret []byte, prefix string) bool {
	if signature == "" || !strings.HasPrefix(signature, prefix) {
		return false
	}
	sigBytes, err := hex.DecodeString(signature[len(prefix):])
	if err != nil || len(sigBytes) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(sigBytes, expected)
}

// verifyToken compares a static token header in constant time.
func verifyToken(got string, secret []byte) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), secret) == 1
}

// ConnectionLookup resolves the connection a webhook URL names.
type ConnectionLookup interface {
	GetConnection(ctx context.Context, id string) (*connection.Connection, error)
}

// Delivery is an authenticated webhook request.
type Delivery struct {
	Service    connection.Service
	Connection *connection.Connection
	Body       []byte
}

type deliveryCtxKey struct{}

// DeliveryFromContext returns the delivery stored by WebhookAuth.
func DeliveryFromContext(ctx context.Context) (*Delivery, bool) {
	d, ok := ctx.Value(deliveryCtxKey{}).(*Delivery)
	return d, ok
}

// WebhookAuth returns middleware for routes with {service} and
// {connectionID} URL params. It loads the connection, reads at most maxBody
// bytes and rejects with 401 unless the signature verifies. Nothing
// downstream runs for a rejected request.
func WebhookAuth(lookup ConnectionLookup, verifier *SignatureVerifier, maxBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc, err := connection.ParseService(chi.URLParam(r, "service"))
			if err != nil {
				http.Error(w, `{"error":"unknown webhook service"}`, http.StatusNotFound)
				return
			}
			connID := chi.URLParam(r, "connectionID")

			conn, err := lookup.GetConnection(r.Context(), connID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				slog.Error("webhook connection lookup failed", "service", svc, "connection_id", connID, "error", err)
				http.Error(w, `{"error":"temporarily unavailable"}`, http.StatusServiceUnavailable)
				return
			}

			body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if readErr != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(readErr, &tooLarge) {
					http.Error(w, `{"error":"payload too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}

			if conn == nil || conn.Service != svc || !verifier.Verify(r.Context(), svc, body, r.Header, conn.EncryptedSecret) {
				attrs := []any{"service", svc, "connection_id", connID, "remote_ip", realIP(r)}
				if conn != nil {
					attrs = append(attrs, "project_id", conn.ProjectID)
				}
				slog.WarnContext(r.Context(), "webhook authentication failed", attrs...)
				http.Error(w, `{"error":"invalid webhook signature"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), deliveryCtxKey{}, &Delivery{
				Service:    svc,
				Connection: conn,
				Body:       body,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
