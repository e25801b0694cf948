// Package workflow models a project's ordered status configuration and the
// automatic transitions driven by branch and pull request activity.
package workflow

import (
	"fmt"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/domain"
)

// StatusType is the semantic category of a status.
type StatusType string

const (
	TypeOpen       StatusType = "open"
	TypeInProgress StatusType = "in_progress"
	TypeClosed     StatusType = "closed"
)

// Status is one column of a project workflow.
type Status struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Type        StatusType `json:"type"`
	Transitions []string   `json:"transitions"`
}

// Workflow is the ordered list of statuses configured for a project.
type Workflow struct {
	ProjectID string   `json:"project_id"`
	Statuses  []Status `json:"statuses"`
}

// Default returns the workflow seeded for new projects.
func Default(projectID string) *Workflow {
	return &Workflow{
		ProjectID: projectID,
		Statuses: []Status{
			{Key: "Backlog", Name: "Backlog", Type: TypeOpen, Transitions: []string{"To Do", "In Progress"}},
			{Key: "To Do", Name: "To Do", Type: TypeOpen, Transitions: []string{"In Progress", "Backlog"}},
			{Key: "In Progress", Name: "In Progress", Type: TypeInProgress, Transitions: []string{"In Review", "To Do"}},
			{Key: "In Review", Name: "In Review", Type: TypeInProgress, Transitions: []string{"Done", "In Progress"}},
			{Key: "Done", Name: "Done", Type: TypeClosed, Transitions: []string{"To Do"}},
		},
	}
}

// Find returns the status with the given key.
func (w *Workflow) Find(key string) (Status, bool) {
	for _, s := range w.Statuses {
		if s.Key == key {
			return s, true
		}
	}
	return Status{}, false
}

// FirstOfType returns the first configured status of type t.
func (w *Workflow) FirstOfType(t StatusType) (Status, bool) {
	for _, s := range w.Statuses {
		if s.Type == t {
			return s, true
		}
	}
	return Status{}, false
}

// Validate checks keys are unique and non-empty and types are known.
func (w *Workflow) Validate() error {
	if len(w.Statuses) == 0 {
		return fmt.Errorf("workflow has no statuses: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(w.Statuses))
	for i, s := range w.Statuses {
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("status %d: key is required: %w", i, domain.ErrValidation)
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate status key %q: %w", s.Key, domain.ErrValidation)
		}
		seen[s.Key] = true
		switch s.Type {
		case TypeOpen, TypeInProgress, TypeClosed:
		default:
			return fmt.Errorf("status %q: invalid type %q: %w", s.Key, s.Type, domain.ErrValidation)
		}
	}
	return nil
}
