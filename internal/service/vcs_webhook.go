package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
	"github.com/Strob0t/ForgeTrack/internal/domain/webhook"
)

// VCSWebhookService turns Git provider deliveries into issue status changes.
type VCSWebhookService struct {
	linker     *BranchIssueLinker
	automation *StatusAutomation
}

// NewVCSWebhookService creates a VCSWebhookService.
func NewVCSWebhookService(linker *BranchIssueLinker, automation *StatusAutomation) *VCSWebhookService {
	return &VCSWebhookService{linker: linker, automation: automation}
}

// Handle parses the delivery and applies branch and pull request automation.
// Payloads that are not one of the handled events are skipped.
func (s *VCSWebhookService) Handle(ctx context.Context, d *WebhookDelivery) webhook.Outcome {
	conn := d.Connection
	p, err := webhook.Parse(conn.Service, d.Event, d.Body)
	if errors.Is(err, webhook.ErrUnrecognizedShape) {
		return webhook.Skipped("unrecognized payload")
	}
	if err != nil {
		return webhook.Failed("parse payload", err)
	}

	switch p.Kind() {
	case webhook.KindPullRequest:
		return s.handlePullRequest(ctx, conn, p)
	case webhook.KindBranchCreated:
		return s.handleBranches(ctx, conn, webhook.CreatedBranches(p))
	case webhook.KindPush:
		s.logCommitLinks(ctx, conn, p)
		if branches := webhook.CreatedBranches(p); len(branches) > 0 {
			return s.handleBranches(ctx, conn, branches)
		}
		return webhook.Skipped("push without new branch")
	default:
		return webhook.Skipped(fmt.Sprintf("unhandled event kind %s", p.Kind()))
	}
}

func (s *VCSWebhookService) handlePullRequest(ctx context.Context, conn *connection.Connection, p webhook.Payload) webhook.Outcome {
	pr, err := webhook.NormalizePR(p)
	if err != nil {
		return webhook.Skipped("unrecognized pull request")
	}
	if !pr.HasIssueKey() {
		return webhook.Skipped("no issue key in branch")
	}
	if pr.PRStatus != webhook.PRStatusMerged {
		return webhook.Skipped("pull request " + string(pr.PRStatus))
	}

	is, err := s.linker.FindIssueByKey(ctx, conn.ProjectID, pr.IssueKey)
	if err != nil {
		return webhook.Failed("find issue", err)
	}
	if is == nil {
		return webhook.Skipped("issue not found")
	}
	return s.automation.OnPRMerged(ctx, is)
}

// handleBranches applies branch-created automation to every branch. The
// combined outcome is the first failure, else the last success, else a skip.
func (s *VCSWebhookService) handleBranches(ctx context.Context, conn *connection.Connection, branches []string) webhook.Outcome {
	result := webhook.Skipped("no issue key in branch")
	for _, branch := range branches {
		key, ok := webhook.ExtractIssueKeyFromBranch(branch)
		if !ok {
			continue
		}
		is, err := s.linker.FindIssueByKey(ctx, conn.ProjectID, key)
		if err != nil {
			return webhook.Failed("find issue", err)
		}
		if is == nil {
			if result.Kind == webhook.OutcomeSkipped {
				result = webhook.Skipped("issue not found")
			}
			continue
		}
		o := s.automation.OnBranchCreated(ctx, is)
		switch o.Kind {
		case webhook.OutcomeFailed:
			return o
		case webhook.OutcomeSuccess:
			result = o
		default:
			if result.Kind == webhook.OutcomeSkipped {
				result = o
			}
		}
	}
	return result
}

// logCommitLinks records commits that mention issue keys. Commits never move
// issues; the links are informational.
func (s *VCSWebhookService) logCommitLinks(ctx context.Context, conn *connection.Connection, p webhook.Payload) {
	for _, c := range webhook.Commits(p) {
		for _, key := range webhook.ExtractIssueKeys(c.Message) {
			slog.DebugContext(ctx, "commit references issue",
				"project_id", conn.ProjectID, "repository", p.Repository(), "commit", c.Hash, "issue_key", key)
		}
	}
}
