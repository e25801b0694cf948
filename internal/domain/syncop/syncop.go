// Package syncop defines the manually triggered repository sync operation
// and its lifecycle.
package syncop

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("syncop: invalid status transition")

// CancelledMessage is the error recorded on an operation cancelled by a user.
const CancelledMessage = "sync cancelled by user"

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Type selects what a sync imports.
type Type string

const (
	TypeFull         Type = "full"
	TypeIssuesOnly   Type = "issuesOnly"
	TypeSecurityOnly Type = "securityOnly"
)

// Stage is the phase a running sync is in.
type Stage string

const (
	StageFetching Stage = "fetching"
	StageMatching Stage = "matching"
	StageCreating Stage = "creating"
	StageUpdating Stage = "updating"
)

// Progress reports how far the current stage has advanced. Total is 0 while
// unknown.
type Progress struct {
	Stage     Stage `json:"stage"`
	Processed int   `json:"processed"`
	Total     int   `json:"total"`
}

// Results counts what the sync did. Partial results are kept on failure.
type Results struct {
	Created            int  `json:"created"`
	Updated            int  `json:"updated"`
	Skipped            int  `json:"skipped"`
	Failed             int  `json:"failed"`
	SecurityAdvisories *int `json:"securityAdvisories,omitempty"`
}

// Operation is the persisted record of a sync that outlived the inline budget.
type Operation struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"projectId"`
	ConnectionID  string     `json:"connectionId"`
	SyncType      Type       `json:"syncType"`
	IncludeClosed bool       `json:"includeClosed"`
	Status        Status     `json:"status"`
	Progress      Progress   `json:"progress"`
	Results       Results    `json:"results"`
	Error         string     `json:"error,omitempty"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// IsTerminal reports whether the operation can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusInProgress: {},
		StatusFailed:     {},
	},
	StatusInProgress: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// TransitionTo moves the operation to status. Re-entering the current
// non-terminal status only refreshes UpdatedAt.
func (o *Operation) TransitionTo(status Status, now time.Time) error {
	if o.Status == status && !status.IsTerminal() {
		o.UpdatedAt = now
		return nil
	}
	if _, ok := allowedTransitions[o.Status][status]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
	}
	o.Status = status
	o.UpdatedAt = now
	if status.IsTerminal() {
		t := now
		o.CompletedAt = &t
	}
	return nil
}

// Cancel marks a pending or in-progress operation failed with
// CancelledMessage. It reports false and leaves the operation untouched once
// it is terminal.
func (o *Operation) Cancel(now time.Time) bool {
	if o.Status.IsTerminal() {
		return false
	}
	_ = o.TransitionTo(StatusFailed, now)
	o.Error = CancelledMessage
	return true
}

// Percentage is processed/total as an integer percentage. It is 0 while the
// total is unknown and 100 once completed.
func (o *Operation) Percentage() int {
	if o.Status == StatusCompleted {
		return 100
	}
	if o.Progress.Total <= 0 {
		return 0
	}
	pct := o.Progress.Processed * 100 / o.Progress.Total
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Snapshot is the polled view of an operation.
type Snapshot struct {
	Operation
	Percentage int `json:"percentage"`
}

// Snapshot returns a copy of the operation with its percentage.
func (o *Operation) Snapshot() Snapshot {
	cp := *o
	if o.Results.SecurityAdvisories != nil {
		n := *o.Results.SecurityAdvisories
		cp.Results.SecurityAdvisories = &n
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		cp.CompletedAt = &t
	}
	return Snapshot{Operation: cp, Percentage: o.Percentage()}
}
