package issue

import (
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/errortrace"
)

// Keys inside CustomFields owned by webhook ingestion and sync.
const (
	FieldErrorTrace  = "errorTrace"
	FieldErrorTraces = "errorTraces"
	FieldExternalID  = "externalId"
	FieldExternalURL = "externalUrl"
	FieldSource      = "source"
	FieldServiceName = "serviceName"

	fieldOccurrenceCount = "occurrenceCount"
	fieldFingerprint     = "fingerprint"
)

// MaxOccurrences caps the errorTraces history kept on one issue.
const MaxOccurrences = 100

// CustomFields is the free-form JSON object attached to an issue.
type CustomFields map[string]any

// String returns the string value at key, or "".
func (c CustomFields) String(key string) string {
	if c == nil {
		return ""
	}
	s, _ := c[key].(string)
	return s
}

// ExternalID returns the remote identifier recorded by a repository sync.
func (c CustomFields) ExternalID() string { return c.String(FieldExternalID) }

// ServiceName returns the monitoring service that filed the issue.
func (c CustomFields) ServiceName() string { return c.String(FieldServiceName) }

// Fingerprint returns the grouping key of the latest recorded error, or "".
func (c CustomFields) Fingerprint() string {
	latest := c.LatestErrorTrace()
	if latest == nil {
		return ""
	}
	s, _ := latest[fieldFingerprint].(string)
	return s
}

// LatestErrorTrace returns the errorTrace mirror, or nil.
func (c CustomFields) LatestErrorTrace() map[string]any {
	if c == nil {
		return nil
	}
	m, _ := c[FieldErrorTrace].(map[string]any)
	return m
}

// ErrorTraces returns the accumulated occurrence history.
func (c CustomFields) ErrorTraces() []map[string]any {
	if c == nil {
		return nil
	}
	switch list := c[FieldErrorTraces].(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, v := range list {
			if m, ok := v.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// OccurrenceCount returns the occurrenceCount recorded on the errorTrace mirror.
func (c CustomFields) OccurrenceCount() int {
	latest := c.LatestErrorTrace()
	if latest == nil {
		return 0
	}
	switch n := latest[fieldOccurrenceCount].(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// AppendOccurrence records a new error occurrence: it is appended to
// errorTraces (oldest entries dropped beyond MaxOccurrences) and errorTrace is
// replaced by the occurrence plus occurrenceCount == len(errorTraces).
func (c CustomFields) AppendOccurrence(occ map[string]any) {
	prev := c.ErrorTraces()
	list := make([]map[string]any, 0, len(prev)+1)
	list = append(list, prev...)
	list = append(list, occ)
	if len(list) > MaxOccurrences {
		list = list[len(list)-MaxOccurrences:]
	}
	c[FieldErrorTraces] = list

	latest := make(map[string]any, len(occ)+1)
	for k, v := range occ {
		latest[k] = v
	}
	latest[fieldOccurrenceCount] = len(list)
	c[FieldErrorTrace] = latest
}

// Clone returns a shallow copy that can be mutated without touching c.
func (c CustomFields) Clone() CustomFields {
	out := make(CustomFields, len(c)+2)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Occurrence converts an ErrorTrace into the JSON object stored in
// errorTraces.
func Occurrence(tr *errortrace.ErrorTrace) map[string]any {
	occ := map[string]any{
		"message":   tr.Message,
		"severity":  string(tr.Severity),
		"timestamp": tr.Timestamp.UTC().Format(time.RFC3339Nano),
		"service":   string(tr.Service),
	}
	if tr.StackTrace != "" {
		occ["stackTrace"] = tr.StackTrace
	}
	if tr.Environment != "" {
		occ["environment"] = tr.Environment
	}
	if tr.Release != "" {
		occ["release"] = tr.Release
	}
	if tr.EventID != "" {
		occ["eventId"] = tr.EventID
	}
	if tr.Fingerprint != "" {
		occ[fieldFingerprint] = tr.Fingerprint
	}
	if tr.URL != "" {
		occ["url"] = tr.URL
	}
	tags := make(map[string]any, len(tr.Tags))
	for k, v := range tr.Tags {
		tags[k] = v
	}
	occ["tags"] = tags
	ctx := make(map[string]any, len(tr.Context))
	for k, v := range tr.Context {
		ctx[k] = v
	}
	occ["context"] = ctx
	return occ
}
