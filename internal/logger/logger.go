// Package logger provides structured logging setup for ForgeTrack.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/config"
)

// redactedKeys are attribute keys whose values never reach the output.
var redactedKeys = map[string]bool{
	"secret":         true,
	"webhook_secret": true,
	"token":          true,
	"signature":      true,
	"authorization":  true,
	"password":       true,
	"master_key":     true,
}

// level is shared by every logger built by New so SetLevel applies on
// config reload without rebuilding handlers.
var level = new(slog.LevelVar)

// SetLevel changes the minimum level of loggers built by New.
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record and
// the request ID from the context as "request_id". With cfg.Async the
// records are written by background workers; call Close on the returned
// Closer before exit to flush them.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	SetLevel(cfg.Level)
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, cfg.AsyncBuffer, cfg.AsyncWorkers)
		handler, closer = ah, ah
	} else {
		handler = contextHandler{inner: handler}
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// contextHandler adds the request ID stored in the context to each record.
type contextHandler struct {
	inner slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	return h.inner.Handle(ctx, withRequestID(ctx, rec))
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{inner: h.inner.WithGroup(name)}
}

func withRequestID(ctx context.Context, rec slog.Record) slog.Record { //nolint:gocritic // slog.Record is passed by value throughout slog
	if ctx == nil {
		return rec
	}
	if id := RequestID(ctx); id != "" {
		rec = rec.Clone()
		rec.AddAttrs(slog.String("request_id", id))
	}
	return rec
}
