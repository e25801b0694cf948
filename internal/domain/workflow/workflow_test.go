package workflow

import (
	"errors"
	"testing"

	"github.com/Strob0t/ForgeTrack/internal/domain"
)

func TestNextOnBranchCreated(t *testing.T) {
	w := Default("p1")
	tests := []struct {
		name     string
		current  string
		want     string
		decision Decision
	}{
		{"backlog moves", "Backlog", "In Progress", DecisionMove},
		{"todo moves", "To Do", "In Progress", DecisionMove},
		{"in progress unchanged", "In Progress", "In Progress", DecisionNoop},
		{"in review unchanged", "In Review", "In Review", DecisionNoop},
		{"closed unchanged", "Done", "Done", DecisionNoop},
		{"unknown status unchanged", "Archived", "Archived", DecisionNoop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOnBranchCreated(w, tt.current)
			if got.To != tt.want || got.Decision != tt.decision {
				t.Fatalf("got %+v, want to=%q decision=%q", got, tt.want, tt.decision)
			}
		})
	}
}

func TestNextOnBranchCreatedMissingInProgress(t *testing.T) {
	w := &Workflow{Statuses: []Status{
		{Key: "Open", Type: TypeOpen},
		{Key: "Closed", Type: TypeClosed},
	}}
	got := NextOnBranchCreated(w, "Open")
	if got.Decision != DecisionMissingInProgress || got.To != "Open" {
		t.Fatalf("expected missingInProgress no-op, got %+v", got)
	}
}

func TestNextOnPRMerged(t *testing.T) {
	w := Default("p1")
	for _, current := range []string{"Backlog", "To Do", "In Progress", "In Review", "Unknown"} {
		got := NextOnPRMerged(w, current)
		if got.To != "Done" || got.Decision != DecisionMove {
			t.Fatalf("from %q: got %+v, want move to Done", current, got)
		}
	}
	if got := NextOnPRMerged(w, "Done"); got.Decision != DecisionNoop || got.To != "Done" {
		t.Fatalf("already closed: got %+v", got)
	}
}

func TestNextOnPRMergedMissingClosed(t *testing.T) {
	w := &Workflow{Statuses: []Status{{Key: "Open", Type: TypeOpen}, {Key: "Doing", Type: TypeInProgress}}}
	got := NextOnPRMerged(w, "Doing")
	if got.Decision != DecisionMissingClosed || got.To != "Doing" {
		t.Fatalf("expected missingClosed no-op, got %+v", got)
	}
}

func TestFirstOfTypeUsesOrder(t *testing.T) {
	w := &Workflow{Statuses: []Status{
		{Key: "Review", Type: TypeInProgress},
		{Key: "Doing", Type: TypeInProgress},
	}}
	s, ok := w.FirstOfType(TypeInProgress)
	if !ok || s.Key != "Review" {
		t.Fatalf("expected first configured in_progress status, got %+v", s)
	}
}

func TestValidate(t *testing.T) {
	if err := Default("p1").Validate(); err != nil {
		t.Fatalf("default workflow invalid: %v", err)
	}
	tests := []struct {
		name string
		w    Workflow
	}{
		{"empty", Workflow{}},
		{"blank key", Workflow{Statuses: []Status{{Key: " ", Type: TypeOpen}}}},
		{"duplicate", Workflow{Statuses: []Status{{Key: "A", Type: TypeOpen}, {Key: "A", Type: TypeClosed}}}},
		{"bad type", Workflow{Statuses: []Status{{Key: "A", Type: "blocked"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.w.Validate(); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
