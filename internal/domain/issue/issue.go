// Package issue defines the tracked work item that webhooks and syncs mutate.
package issue

import (
	"fmt"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/domain"
	"github.com/Strob0t/ForgeTrack/internal/domain/errortrace"
)

// Type classifies an issue.
type Type string

const (
	TypeBug      Type = "Bug"
	TypeTask     Type = "Task"
	TypeStory    Type = "Story"
	TypeSecurity Type = "Security"
)

// Priority is the four-level urgency scale shared with error severity.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// StatusBacklog is the status new error issues are filed under.
const StatusBacklog = "Backlog"

// Issue is a project work item.
type Issue struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	Key          string       `json:"key"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Type         Type         `json:"type"`
	Status       string       `json:"status"`
	Priority     Priority     `json:"priority"`
	ReporterID   string       `json:"reporter_id,omitempty"`
	CustomFields CustomFields `json:"custom_fields"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Filter narrows ListIssues results. Zero values match everything.
type Filter struct {
	Type       Type
	ExternalID string
}

// PriorityFromSeverity maps an error severity 1:1 onto a priority.
func PriorityFromSeverity(s errortrace.Severity) Priority {
	switch s {
	case errortrace.SeverityLow:
		return PriorityLow
	case errortrace.SeverityHigh:
		return PriorityHigh
	case errortrace.SeverityCritical:
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// Validate checks the fields required to persist a new issue.
func (i *Issue) Validate() error {
	if i.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if i.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title exceeds 500 characters: %w", domain.ErrValidation)
	}
	switch i.Type {
	case TypeBug, TypeTask, TypeStory, TypeSecurity:
	default:
		return fmt.Errorf("invalid type %q: %w", i.Type, domain.ErrValidation)
	}
	switch i.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("invalid priority %q: %w", i.Priority, domain.ErrValidation)
	}
	return nil
}
