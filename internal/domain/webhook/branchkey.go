package webhook

import (
	"regexp"
	"strings"
)

var issueKeyPattern = regexp.MustCompile(`(?i)\b([A-Z][A-Z0-9]*-[0-9]+)\b`)

// ExtractIssueKeyFromBranch returns the first issue key found in a branch
// name, upper-cased. "feature/app-12-login" yields "APP-12".
func ExtractIssueKeyFromBranch(branch string) (string, bool) {
	m := issueKeyPattern.FindStringSubmatch(branch)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// ExtractIssueKeys returns every distinct issue key in s, in order of
// appearance. Used for commit messages.
func ExtractIssueKeys(s string) []string {
	matches := issueKeyPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		k := strings.ToUpper(m[1])
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
