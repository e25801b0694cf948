package webhook

import (
	"net/http"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

// OutcomeKind is the result category of handling one webhook delivery.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is what every webhook handler returns instead of an error. Failed
// outcomes are acknowledged to the provider like any other.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Reason   string      `json:"reason"`
	IssueID  string      `json:"issue_id,omitempty"`
	IssueKey string      `json:"issue_key,omitempty"`
	Err      error       `json:"-"`
}

// Success reports that the delivery changed or confirmed state.
func Success(reason string) Outcome { return Outcome{Kind: OutcomeSuccess, Reason: reason} }

// Skipped reports a delivery that did not apply.
func Skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

// Failed reports a delivery whose processing hit an error.
func Failed(reason string, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Err: err}
}

// WithIssue attaches the affected issue.
func (o Outcome) WithIssue(id, key string) Outcome {
	o.IssueID = id
	o.IssueKey = key
	return o
}

// ErrorText returns the error message, or "" when there is none.
func (o Outcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// deliveryHeaders names the per-delivery unique ID header of each provider.
var deliveryHeaders = map[connection.Service]string{
	connection.ServiceGitHub:    "X-GitHub-Delivery",
	connection.ServiceGitLab:    "X-Gitlab-Event-UUID",
	connection.ServiceBitbucket: "X-Request-UUID",
	connection.ServiceSentry:    "Request-ID",
}

// DeliveryID returns the provider's delivery ID, or "" when the provider
// sends none.
func DeliveryID(svc connection.Service, h http.Header) string {
	name, ok := deliveryHeaders[svc]
	if !ok {
		return ""
	}
	return h.Get(name)
}
