package webhook

import (
	"fmt"
	"strings"
)

// PRStatus is the normalized state of a pull or merge request.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusMerged PRStatus = "merged"
	PRStatusClosed PRStatus = "closed"
)

// ParsedPRData is the provider-independent view of a PR/MR event.
// IssueKey is empty when the branch carries no issue key.
type ParsedPRData struct {
	IssueKey   string   `json:"issueKey,omitempty"`
	BranchName string   `json:"branchName"`
	PRNumber   int      `json:"prNumber"`
	PRURL      string   `json:"prUrl"`
	PRStatus   PRStatus `json:"prStatus"`
	CommitSHA  string   `json:"commitSha,omitempty"`
}

// HasIssueKey reports whether downstream linking applies.
func (d *ParsedPRData) HasIssueKey() bool { return d.IssueKey != "" }

// prStatus applies the merged > closed > open precedence.
func prStatus(merged, closed bool) PRStatus {
	switch {
	case merged:
		return PRStatusMerged
	case closed:
		return PRStatusClosed
	default:
		return PRStatusOpen
	}
}

// NormalizePR maps a pull/merge request payload to ParsedPRData. Other
// payload kinds yield ErrUnrecognizedShape.
func NormalizePR(p Payload) (*ParsedPRData, error) {
	var d ParsedPRData
	switch v := p.(type) {
	case *GitHubPullRequest:
		d = ParsedPRData{
			BranchName: v.HeadRef,
			PRNumber:   v.Number,
			PRURL:      v.HTMLURL,
			PRStatus:   prStatus(v.Merged, v.State == "closed"),
			CommitSHA:  v.HeadSHA,
		}
	case *GitLabMergeRequest:
		d = ParsedPRData{
			BranchName: v.SourceBranch,
			PRNumber:   v.IID,
			PRURL:      v.URL,
			PRStatus:   prStatus(v.State == "merged" || v.Action == "merge", v.State == "closed" || v.Action == "close"),
			CommitSHA:  v.LastCommitID,
		}
	case *BitbucketPullRequest:
		state := strings.ToUpper(v.State)
		d = ParsedPRData{
			BranchName: v.SourceBranch,
			PRNumber:   v.ID,
			PRURL:      v.HTMLURL,
			PRStatus: prStatus(
				state == "MERGED" || v.EventKey == "pullrequest:fulfilled",
				state == "DECLINED" || state == "SUPERSEDED" || v.EventKey == "pullrequest:rejected",
			),
			CommitSHA: v.SourceCommit,
		}
	default:
		return nil, fmt.Errorf("%w: %T is not a pull request", ErrUnrecognizedShape, p)
	}
	d.IssueKey, _ = ExtractIssueKeyFromBranch(d.BranchName)
	return &d, nil
}
