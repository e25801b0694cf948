// Package project defines the Project domain entity that owns issues,
// workflows and connections.
package project

import (
	"fmt"
	"time"
)

// Project groups issues under a short key prefix such as "FT".
type Project struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	RepoURL   string    `json:"repo_url,omitempty"`
	IssueSeq  int       `json:"issue_seq"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new project.
type CreateRequest struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	RepoURL string `json:"repo_url"`
}

// IssueKey formats the human-readable key of the seq-th issue, e.g. "FT-42".
func IssueKey(projectKey string, seq int) string {
	return fmt.Sprintf("%s-%d", projectKey, seq)
}
