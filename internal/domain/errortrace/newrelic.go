package errortrace

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

// newRelicPayload covers both the legacy alert channel payload
// (incident_id, condition_name, details) and workflow notifications
// (issueId, title, priority).
type newRelicPayload struct {
	IncidentID    flexString `json:"incident_id"`
	IssueID       flexString `json:"issueId"`
	ConditionID   flexString `json:"condition_id"`
	ConditionID2  flexString `json:"conditionId"`
	ConditionName string     `json:"condition_name"`
	PolicyName    string     `json:"policy_name"`
	AccountID     flexString `json:"account_id"`
	AccountName   string     `json:"account_name"`
	Details       string     `json:"details"`
	Title         string     `json:"title"`
	Severity      string     `json:"severity"`
	Priority      string     `json:"priority"`
	State         string     `json:"state"`
	CurrentState  string     `json:"current_state"`
	Timestamp     flexTime   `json:"timestamp"`
	CreatedAt     flexTime   `json:"createdAt"`
	IncidentURL   string     `json:"incident_url"`
	IssueURL      string     `json:"issueUrl"`
	Targets       []struct {
		Name    string            `json:"name"`
		Type    string            `json:"type"`
		Product string            `json:"product"`
		Labels  map[string]string `json:"labels"`
	} `json:"targets"`
	Tags map[string]any `json:"tags"`
}

// ParseNewRelic parses a New Relic alert notification into an ErrorTrace.
func ParseNewRelic(body []byte, now time.Time) (*ErrorTrace, error) {
	var p newRelicPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrUnrecognizedShape
	}

	eventID := firstNonEmpty(string(p.IncidentID), string(p.IssueID))
	message := firstNonEmpty(p.Details, p.Title, p.ConditionName)
	if message == "" {
		return nil, ErrUnrecognizedShape
	}

	tags := map[string]string{}
	for k, v := range p.Tags {
		switch tv := v.(type) {
		case string:
			tags[k] = tv
		case []any:
			if len(tv) > 0 {
				if s, ok := tv[0].(string); ok {
					tags[k] = s
				}
			}
		}
	}
	for _, t := range p.Targets {
		for k, v := range t.Labels {
			if _, exists := tags[k]; !exists {
				tags[k] = v
			}
		}
	}

	ctx := map[string]any{}
	if p.ConditionName != "" {
		ctx["conditionName"] = p.ConditionName
	}
	if p.PolicyName != "" {
		ctx["policyName"] = p.PolicyName
	}
	if p.AccountID != "" || p.AccountName != "" {
		ctx["account"] = map[string]any{"id": string(p.AccountID), "name": p.AccountName}
	}
	if state := firstNonEmpty(p.CurrentState, p.State); state != "" {
		ctx["state"] = state
	}
	if len(p.Targets) > 0 {
		targets := make([]map[string]any, 0, len(p.Targets))
		for _, t := range p.Targets {
			targets = append(targets, map[string]any{"name": t.Name, "type": t.Type, "product": t.Product})
		}
		ctx["targets"] = targets
	}

	ts := p.Timestamp.orElse(time.Time(p.CreatedAt))
	if ts.IsZero() {
		ts = now.UTC()
	}

	return &ErrorTrace{
		Service:     connection.ServiceNewRelic,
		EventID:     eventID,
		Message:     message,
		Severity:    newRelicSeverities.lookup(firstNonEmpty(p.Severity, p.Priority)),
		Timestamp:   ts,
		Environment: firstNonEmpty(tags["environment"], tags["env"]),
		Release:     firstNonEmpty(tags["release"], tags["version"]),
		Tags:        tags,
		Context:     ctx,
		Fingerprint: firstNonEmpty(string(p.ConditionID), string(p.ConditionID2), eventID),
		URL:         firstNonEmpty(p.IncidentURL, p.IssueURL),
	}, nil
}
