package errortrace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

type sentryFrame struct {
	Filename string `json:"filename"`
	AbsPath  string `json:"abs_path"`
	Function string `json:"function"`
	Module   string `json:"module"`
	LineNo   int    `json:"lineno"`
	ColNo    int    `json:"colno"`
	InApp    bool   `json:"in_app"`
}

type sentryException struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Stacktrace *struct {
		Frames []sentryFrame `json:"frames"`
	} `json:"stacktrace"`
}

// sentryTags accepts [["k","v"]], [{"key":"k","value":"v"}] or {"k":"v"}.
type sentryTags map[string]string

func (t *sentryTags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := make(map[string]string)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = out
		return nil
	}
	if data[0] == '{' {
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*t = out
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	for _, raw := range items {
		var pair []string
		if err := json.Unmarshal(raw, &pair); err == nil {
			if len(pair) == 2 {
				out[pair[0]] = pair[1]
			}
			continue
		}
		var kv struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &kv); err == nil && kv.Key != "" {
			out[kv.Key] = kv.Value
		}
	}
	*t = out
	return nil
}

type sentryEvent struct {
	EventID     string     `json:"event_id"`
	Message     string     `json:"message"`
	Title       string     `json:"title"`
	Culprit     string     `json:"culprit"`
	Level       string     `json:"level"`
	Timestamp   flexTime   `json:"timestamp"`
	Datetime    flexTime   `json:"datetime"`
	Environment string     `json:"environment"`
	Release     string     `json:"release"`
	Platform    string     `json:"platform"`
	Fingerprint []string   `json:"fingerprint"`
	Tags        sentryTags `json:"tags"`
	WebURL      string     `json:"web_url"`
	Exception   *struct {
		Values []sentryException `json:"values"`
	} `json:"exception"`
	Contexts map[string]any `json:"contexts"`
	User     map[string]any `json:"user"`
	Request  map[string]any `json:"request"`
	Extra    map[string]any `json:"extra"`
}

type sentryEnvelope struct {
	Action string `json:"action"`
	Data   *struct {
		Event *sentryEvent `json:"event"`
		Error *sentryEvent `json:"error"`
	} `json:"data"`
	Event *sentryEvent `json:"event"`
}

// ParseSentry parses a Sentry webhook (event alert, error resource, or a bare
// event body) into an ErrorTrace.
func ParseSentry(body []byte, now time.Time) (*ErrorTrace, error) {
	var env sentryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrUnrecognizedShape
	}

	ev := env.Event
	if env.Data != nil {
		switch {
		case env.Data.Event != nil:
			ev = env.Data.Event
		case env.Data.Error != nil:
			ev = env.Data.Error
		}
	}
	if ev == nil {
		var bare sentryEvent
		if err := json.Unmarshal(body, &bare); err != nil || bare.EventID == "" {
			return nil, ErrUnrecognizedShape
		}
		ev = &bare
	}

	var exc *sentryException
	if ev.Exception != nil && len(ev.Exception.Values) > 0 {
		// The last exception in the chain is the one that was raised.
		exc = &ev.Exception.Values[len(ev.Exception.Values)-1]
	}

	var excSummary string
	if exc != nil {
		excSummary = strings.TrimSpace(strings.TrimSuffix(exc.Type+": "+exc.Value, ": "))
	}
	message := firstNonEmpty(ev.Message, ev.Title, excSummary)
	if message == "" {
		return nil, ErrUnrecognizedShape
	}

	tags := map[string]string(ev.Tags)
	if tags == nil {
		tags = map[string]string{}
	}

	ctx := map[string]any{}
	for k, v := range ev.Contexts {
		ctx[k] = v
	}
	if len(ev.User) > 0 {
		ctx["user"] = ev.User
	}
	if len(ev.Request) > 0 {
		ctx["request"] = ev.Request
	}
	if len(ev.Extra) > 0 {
		ctx["extra"] = ev.Extra
	}
	if ev.Culprit != "" {
		ctx["culprit"] = ev.Culprit
	}
	if ev.Platform != "" {
		ctx["platform"] = ev.Platform
	}

	fingerprint := ev.EventID
	if len(ev.Fingerprint) > 0 && ev.Fingerprint[0] != "" && ev.Fingerprint[0] != "{{ default }}" {
		fingerprint = ev.Fingerprint[0]
	}

	ts := ev.Timestamp.orElse(time.Time(ev.Datetime))
	if ts.IsZero() {
		ts = now.UTC()
	}

	return &ErrorTrace{
		Service:     connection.ServiceSentry,
		EventID:     ev.EventID,
		Message:     message,
		StackTrace:  formatSentryStack(exc),
		Severity:    sentrySeverities.lookup(ev.Level),
		Timestamp:   ts,
		Environment: firstNonEmpty(ev.Environment, tags["environment"]),
		Release:     firstNonEmpty(ev.Release, tags["release"]),
		Tags:        tags,
		Context:     ctx,
		Fingerprint: fingerprint,
		URL:         ev.WebURL,
	}, nil
}

// formatSentryStack renders frames most-recent-call first. Sentry sends
// frames innermost last, so they are reversed here.
func formatSentryStack(exc *sentryException) string {
	if exc == nil || exc.Stacktrace == nil || len(exc.Stacktrace.Frames) == 0 {
		return ""
	}
	frames := exc.Stacktrace.Frames

	var b strings.Builder
	if exc.Type != "" {
		b.WriteString(exc.Type)
		if exc.Value != "" {
			b.WriteString(": ")
			b.WriteString(exc.Value)
		}
		b.WriteByte('\n')
	}
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		fn := firstNonEmpty(f.Function, "<anonymous>")
		file := firstNonEmpty(f.Filename, f.AbsPath, f.Module, "<unknown>")
		fmt.Fprintf(&b, "  at %s (%s:%d:%d)", fn, file, f.LineNo, f.ColNo)
		if i > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
