package project

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Strob0t/ForgeTrack/internal/domain"
)

// keyPattern matches the prefix part of an issue key like "FT-12", so every
// key a project issues is also extractable from branch names.
var keyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}$`)

// sshURLPattern matches git SSH URLs like git@host:user/repo.git
var sshURLPattern = regexp.MustCompile(`^git@[^:]+:.+`)

// ValidateCreateRequest validates and normalizes a project creation request.
func ValidateCreateRequest(req *CreateRequest) error {
	req.Key = strings.ToUpper(strings.TrimSpace(req.Key))
	if !keyPattern.MatchString(req.Key) {
		return fmt.Errorf("key must be 1-10 upper-case letters or digits starting with a letter: %w", domain.ErrValidation)
	}

	if req.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if len(req.Name) > 255 {
		return fmt.Errorf("name exceeds 255 characters: %w", domain.ErrValidation)
	}
	for _, r := range req.Name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name contains control characters: %w", domain.ErrValidation)
		}
	}

	if req.RepoURL != "" && !IsValidRepoURL(req.RepoURL) {
		return fmt.Errorf("repo_url must start with https:// or match git@host:path format: %w", domain.ErrValidation)
	}
	return nil
}

// IsValidRepoURL checks that the URL is either HTTPS or a git SSH URL.
func IsValidRepoURL(url string) bool {
	if strings.HasPrefix(url, "https://") {
		return true
	}
	return sshURLPattern.MatchString(url)
}
