package syncop

import (
	"fmt"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/domain"
)

// Request is the body of a sync trigger.
type Request struct {
	SyncType      Type `json:"syncType"`
	IncludeClosed bool `json:"includeClosed"`
	Confirmation  bool `json:"confirmation,omitempty"`
}

// Validate checks the sync type.
func (r *Request) Validate() error {
	switch r.SyncType {
	case TypeFull, TypeIssuesOnly, TypeSecurityOnly:
		return nil
	case "":
		return fmt.Errorf("syncType is required: %w", domain.ErrValidation)
	default:
		return fmt.Errorf("invalid syncType %q: must be full, issuesOnly, or securityOnly: %w", r.SyncType, domain.ErrValidation)
	}
}

// Reason names why a sync needs explicit confirmation.
type Reason string

const (
	ReasonIncludeClosed Reason = "includeClosed"
	ReasonWebhookActive Reason = "webhookActive"
)

var reasonWarnings = map[Reason]string{
	ReasonIncludeClosed: "closed and archived issues will be imported and may reopen work that was already finished",
	ReasonWebhookActive: "this repository already syncs automatically through an active webhook; a manual sync may duplicate updates",
}

// ConfirmationReasons lists the reasons the request must be confirmed, in a
// stable order. An empty result means no confirmation is needed.
func ConfirmationReasons(r Request, webhookActive bool) []Reason {
	var reasons []Reason
	if r.IncludeClosed {
		reasons = append(reasons, ReasonIncludeClosed)
	}
	if webhookActive {
		reasons = append(reasons, ReasonWebhookActive)
	}
	return reasons
}

// ConfirmationError is returned when an unconfirmed request needs confirmation.
type ConfirmationError struct {
	Reasons []Reason
}

func (e *ConfirmationError) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = string(r)
	}
	return fmt.Sprintf("%s: %s", domain.ErrConfirmationRequired, strings.Join(parts, ", "))
}

func (e *ConfirmationError) Unwrap() error { return domain.ErrConfirmationRequired }

// Warning is the operator-facing text for the collected reasons.
func (e *ConfirmationError) Warning() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		msgs = append(msgs, reasonWarnings[r])
	}
	return "Confirm to continue: " + strings.Join(msgs, "; ") + "."
}

// CheckConfirmation returns a *ConfirmationError when the request needs
// confirmation and does not carry it.
func CheckConfirmation(r Request, webhookActive bool) error {
	if r.Confirmation {
		return nil
	}
	reasons := ConfirmationReasons(r, webhookActive)
	if len(reasons) == 0 {
		return nil
	}
	return &ConfirmationError{Reasons: reasons}
}
