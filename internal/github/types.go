package github

import (
	"fmt"
	"strings"
	"time"
)

// Issue represents a GitHub issue at retrieval time.
type Issue struct {
	Number      int
	Title       string
	Body        string
	State       string
	Author      string
	Labels      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RetrievedAt time.Time
}

// FetchStats summarizes a completed fetch pass over a repository.
type FetchStats struct {
	Pages   int
	Issues  int
	Skipped int // pull requests filtered out
}

// ParseRepo splits an "owner/repo" string into its parts.
func ParseRepo(s string) (owner, repo string, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format: expected owner/repo, got %q", s)
	}
	return parts[0], parts[1], nil
}
