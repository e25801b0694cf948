package errortrace

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

// datadogPayload covers the default Datadog webhook template and the common
// custom-template variable names.
type datadogPayload struct {
	ID             flexString   `json:"id"`
	EventID        flexString   `json:"event_id"`
	Title          string       `json:"title"`
	EventTitle     string       `json:"event_title"`
	Body           string       `json:"body"`
	Text           string       `json:"text"`
	EventMsg       string       `json:"event_msg"`
	AlertType      string       `json:"alert_type"`
	Priority       string       `json:"priority"`
	Date           flexTime     `json:"date"`
	LastUpdated    flexTime     `json:"last_updated"`
	AggregationKey string       `json:"aggregation_key"`
	AggregKey      string       `json:"aggreg_key"`
	Tags           stringOrList `json:"tags"`
	Hostname       string       `json:"hostname"`
	EventType      string       `json:"event_type"`
	URL            string       `json:"url"`
	Link           string       `json:"link"`
	Snapshot       string       `json:"snapshot"`
	Org            *struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
	} `json:"org"`
}

// ParseDatadog parses a Datadog monitor webhook into an ErrorTrace.
func ParseDatadog(body []byte, now time.Time) (*ErrorTrace, error) {
	var p datadogPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrUnrecognizedShape
	}

	eventID := firstNonEmpty(string(p.ID), string(p.EventID))
	message := firstNonEmpty(p.Title, p.EventTitle, p.Body, p.Text, p.EventMsg)
	if message == "" && eventID == "" {
		return nil, ErrUnrecognizedShape
	}
	if message == "" {
		message = "Datadog alert " + eventID
	}

	severity := datadogSeverities.lookup(p.AlertType)
	if strings.EqualFold(strings.TrimSpace(p.Priority), "P1") {
		severity = SeverityCritical
	}

	tags := parseTagList(p.Tags)

	ctx := map[string]any{}
	if p.Hostname != "" {
		ctx["hostname"] = p.Hostname
	}
	if p.EventType != "" {
		ctx["eventType"] = p.EventType
	}
	if p.Priority != "" {
		ctx["priority"] = p.Priority
	}
	if p.Snapshot != "" {
		ctx["snapshot"] = p.Snapshot
	}
	if p.Org != nil && (p.Org.Name != "" || p.Org.ID != "") {
		ctx["org"] = map[string]any{"id": string(p.Org.ID), "name": p.Org.Name}
	}
	url := firstNonEmpty(p.URL, p.Link)
	if url != "" {
		ctx["url"] = url
	}

	ts := p.Date.orElse(time.Time(p.LastUpdated))
	if ts.IsZero() {
		ts = now.UTC()
	}

	var stack string
	if detail := firstNonEmpty(p.Body, p.Text, p.EventMsg); detail != "" && detail != message {
		stack = detail
	}

	return &ErrorTrace{
		Service:     connection.ServiceDatadog,
		EventID:     eventID,
		Message:     message,
		StackTrace:  stack,
		Severity:    severity,
		Timestamp:   ts,
		Environment: firstNonEmpty(tags["env"], tags["environment"]),
		Release:     firstNonEmpty(tags["version"], tags["release"]),
		Tags:        tags,
		Context:     ctx,
		Fingerprint: firstNonEmpty(p.AggregationKey, p.AggregKey, eventID),
		URL:         url,
	}, nil
}
