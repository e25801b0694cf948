package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Strob0t/ForgeTrack/internal/domain/errortrace"
	"github.com/Strob0t/ForgeTrack/internal/domain/issue"
	"github.com/Strob0t/ForgeTrack/internal/port/database"
)

// Matcher decides whether candidate already tracks the error in tr.
type Matcher func(tr *errortrace.ErrorTrace, candidate *issue.Issue) bool

// Message prefix heuristic bounds, in runes.
const (
	similarityWindow = 100
	similarityPrefix = 50
	minTitlePrefix   = 20
)

// FingerprintMatch matches an issue whose latest recorded error carries the
// same fingerprint.
func FingerprintMatch(tr *errortrace.ErrorTrace, candidate *issue.Issue) bool {
	return tr.Fingerprint != "" && candidate.CustomFields.Fingerprint() == tr.Fingerprint
}

// MessagePrefixMatch compares the lower-cased leading 50 runes of the message
// and the issue title. Titles of 20 runes or fewer never match, and the issue
// must have been filed by the same monitoring service.
//
// TODO: replace with normalized edit distance or a shared stack frame
// signature; generic prefixes such as "TypeError: Cannot read" over-group.
func MessagePrefixMatch(tr *errortrace.ErrorTrace, candidate *issue.Issue) bool {
	title := leadingRunes(strings.ToLower(candidate.Title), similarityWindow)
	if utf8.RuneCountInString(title) <= minTitlePrefix {
		return false
	}
	msg := leadingRunes(strings.ToLower(tr.Message), similarityWindow)
	if leadingRunes(msg, similarityPrefix) != leadingRunes(title, similarityPrefix) {
		return false
	}
	return candidate.CustomFields.ServiceName() == string(tr.Service)
}

func leadingRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ErrorDeduplicator finds the issue an incoming error belongs to.
type ErrorDeduplicator struct {
	store    database.Store
	matchers []Matcher
}

// NewErrorDeduplicator creates a deduplicator that tries matchers in order.
// Without matchers it uses FingerprintMatch then MessagePrefixMatch.
func NewErrorDeduplicator(store database.Store, matchers ...Matcher) *ErrorDeduplicator {
	if len(matchers) == 0 {
		matchers = []Matcher{FingerprintMatch, MessagePrefixMatch}
	}
	return &ErrorDeduplicator{store: store, matchers: matchers}
}

// FindGroup returns the Bug issue of projectID that tr groups into, or nil.
// Each matcher is tried against every candidate before the next one runs, so
// a fingerprint hit anywhere beats a message hit on an earlier issue.
func (d *ErrorDeduplicator) FindGroup(ctx context.Context, projectID string, tr *errortrace.ErrorTrace) (*issue.Issue, error) {
	bugs, err := d.store.ListIssues(ctx, projectID, issue.Filter{Type: issue.TypeBug})
	if err != nil {
		return nil, fmt.Errorf("list bug issues: %w", err)
	}
	for _, match := range d.matchers {
		for i := range bugs {
			if match(tr, &bugs[i]) {
				return &bugs[i], nil
			}
		}
	}
	return nil, nil
}
