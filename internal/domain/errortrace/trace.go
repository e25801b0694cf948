// Package errortrace normalizes error events from monitoring services into a
// single ErrorTrace shape.
package errortrace

import (
	"errors"
	"strings"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

// ErrUnrecognizedShape is returned when a payload does not look like an error
// event of the requested service. Callers treat it as "not applicable".
var ErrUnrecognizedShape = errors.New("errortrace: unrecognized payload shape")

// Severity is the closed four-level scale every service vocabulary maps onto.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorTrace is one occurrence of an error reported by a monitoring service.
type ErrorTrace struct {
	Service     connection.Service `json:"service"`
	EventID     string             `json:"event_id,omitempty"`
	Message     string             `json:"message"`
	StackTrace  string             `json:"stack_trace,omitempty"`
	Severity    Severity           `json:"severity"`
	Timestamp   time.Time          `json:"timestamp"`
	Environment string             `json:"environment,omitempty"`
	Release     string             `json:"release,omitempty"`
	Tags        map[string]string  `json:"tags"`
	Context     map[string]any     `json:"context"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	URL         string             `json:"url,omitempty"`
}

// severityTable maps a lower-cased service level to a Severity.
type severityTable map[string]Severity

func (t severityTable) lookup(level string) Severity {
	if s, ok := t[strings.ToLower(strings.TrimSpace(level))]; ok {
		return s
	}
	return SeverityMedium
}

var sentrySeverities = severityTable{
	"debug":   SeverityLow,
	"info":    SeverityLow,
	"warning": SeverityMedium,
	"error":   SeverityHigh,
	"fatal":   SeverityCritical,
}

var datadogSeverities = severityTable{
	"info":     SeverityLow,
	"success":  SeverityLow,
	"warning":  SeverityMedium,
	"error":    SeverityHigh,
	"critical": SeverityCritical,
}

var newRelicSeverities = severityTable{
	"info":     SeverityLow,
	"low":      SeverityLow,
	"warning":  SeverityMedium,
	"medium":   SeverityMedium,
	"high":     SeverityHigh,
	"critical": SeverityCritical,
}

// Parse dispatches to the parser for svc.
func Parse(svc connection.Service, body []byte, now time.Time) (*ErrorTrace, error) {
	switch svc {
	case connection.ServiceSentry:
		return ParseSentry(body, now)
	case connection.ServiceDatadog:
		return ParseDatadog(body, now)
	case connection.ServiceNewRelic:
		return ParseNewRelic(body, now)
	default:
		return nil, ErrUnrecognizedShape
	}
}

// firstNonEmpty returns the first argument that is not blank.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// epochToTime converts seconds or milliseconds since the epoch.
func epochToTime(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
