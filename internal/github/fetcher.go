package github

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	gogithub "github.com/google/go-github/v60/github"
)

// watermarkBuffer is subtracted from the latest issue UpdatedAt to guard
// against clock skew and missed updates at page boundaries.
const watermarkBuffer = 2 * time.Minute

const defaultPageSize = 100

// FetchOptions controls a fetch pass over a repository's issues.
type FetchOptions struct {
	// Since limits results to issues updated at or after this time.
	// Zero means fetch everything.
	Since time.Time

	// ETag enables a conditional request on the first page. On a 304 the
	// fetch returns immediately with NotModified set.
	ETag string

	// State filters by issue state: "open", "closed", or "all" (default).
	State string

	// PageSize overrides the per-page result count (default 100, the API max).
	PageSize int
}

// FetchResult is the outcome of a fetch pass.
type FetchResult struct {
	Issues      []Issue
	ETag        string
	NotModified bool
	Watermark   time.Time // latest UpdatedAt minus buffer; zero if no issues seen
	Stats       FetchStats
}

// Fetcher retrieves all issues of a repository, paginating through the
// GitHub REST API with rate-limit throttling and retry on transient errors.
type Fetcher struct {
	client *gogithub.Client
	owner  string
	repo   string
	logger *log.Logger
}

// NewFetcher creates a Fetcher for a specific repository.
func NewFetcher(client *gogithub.Client, owner, repo string) *Fetcher {
	return &Fetcher{
		client: client,
		owner:  owner,
		repo:   repo,
		logger: log.New(log.Writer(), fmt.Sprintf("[fetch %s/%s] ", owner, repo), log.LstdFlags),
	}
}

// Fetch pages through all matching issues. Pull requests (which the issues
// endpoint also returns) are skipped. The context is checked at every page
// boundary, so a cancelled caller stops the fetch promptly.
func (f *Fetcher) Fetch(ctx context.Context, fo FetchOptions) (*FetchResult, error) {
	state := fo.State
	if state == "" {
		state = "all"
	}
	pageSize := fo.PageSize
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}

	opts := &gogithub.IssueListByRepoOptions{
		State:     state,
		Sort:      "updated",
		Direction: "asc",
		ListOptions: gogithub.ListOptions{
			PerPage: pageSize,
		},
	}
	if !fo.Since.IsZero() {
		opts.Since = fo.Since
	}

	result := &FetchResult{}
	var latestUpdatedAt time.Time

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		issues, resp, err := f.fetchPageWithRetry(ctx, opts, fo.ETag)
		if err != nil {
			return nil, fmt.Errorf("fetching issues page %d: %w", opts.ListOptions.Page, err)
		}

		// 304 Not Modified — nothing new since the last fetch.
		if resp != nil && resp.StatusCode == http.StatusNotModified {
			f.logger.Printf("no changes (304 Not Modified)")
			result.NotModified = true
			result.ETag = fo.ETag
			return result, nil
		}

		// Capture ETag from the first page response.
		if resp != nil && opts.ListOptions.Page <= 1 {
			result.ETag = resp.Header.Get("ETag")
		}

		// Check rate limits and throttle if needed.
		if resp != nil {
			rl := ParseRateLimit(resp.Response)
			if rl != nil && rl.ShouldThrottle() {
				wait := rl.WaitDuration()
				if wait > 0 {
					f.logger.Printf("rate limit low (remaining=%d), waiting %s", rl.Remaining, wait)
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(wait):
					}
				}
			}
		}

		result.Stats.Pages++
		now := time.Now().UTC()

		for _, ghIssue := range issues {
			// Skip pull requests (GitHub API returns PRs as issues).
			if ghIssue.PullRequestLinks != nil {
				result.Stats.Skipped++
				continue
			}

			issue := convertIssue(ghIssue)
			issue.RetrievedAt = now
			result.Issues = append(result.Issues, issue)
			result.Stats.Issues++

			if issue.UpdatedAt.After(latestUpdatedAt) {
				latestUpdatedAt = issue.UpdatedAt
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	if !latestUpdatedAt.IsZero() {
		result.Watermark = latestUpdatedAt.Add(-watermarkBuffer)
	}

	f.logger.Printf("fetch complete: %d issues across %d pages (%d PRs skipped)",
		result.Stats.Issues, result.Stats.Pages, result.Stats.Skipped)
	return result, nil
}

// FetchIssue retrieves a single issue by number.
func (f *Fetcher) FetchIssue(ctx context.Context, number int) (*Issue, error) {
	ghIssue, resp, err := f.client.Issues.Get(ctx, f.owner, f.repo, number)
	if err != nil {
		if resp != nil && IsRateLimitError(resp.Response) {
			return nil, fmt.Errorf("rate limited fetching issue #%d: %w", number, err)
		}
		return nil, fmt.Errorf("fetching issue #%d: %w", number, err)
	}
	if ghIssue.PullRequestLinks != nil {
		return nil, fmt.Errorf("#%d is a pull request, not an issue", number)
	}
	issue := convertIssue(ghIssue)
	issue.RetrievedAt = time.Now().UTC()
	return &issue, nil
}

// fetchPageWithRetry wraps the GitHub API call with retry logic for server
// errors and rate limit handling.
func (f *Fetcher) fetchPageWithRetry(ctx context.Context, opts *gogithub.IssueListByRepoOptions, etag string) ([]*gogithub.Issue, *gogithub.Response, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := BackoffDuration(attempt - 1)
			f.logger.Printf("retrying (attempt %d/%d) after %s", attempt, maxRetries, wait)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		issues, resp, err := f.listPageWithETag(ctx, opts, etag)

		// Handle 304 Not Modified.
		if resp != nil && resp.StatusCode == http.StatusNotModified {
			return nil, resp, nil
		}

		// Handle rate limit errors.
		if resp != nil && IsRateLimitError(resp.Response) {
			wait, _ := HandleRateLimitError(resp.Response)
			f.logger.Printf("rate limited, waiting %s", wait)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		// Handle server errors with retry.
		if resp != nil && IsServerError(resp.Response) {
			if attempt < maxRetries {
				continue
			}
			return nil, resp, fmt.Errorf("server error after %d retries: %d", maxRetries, resp.StatusCode)
		}

		if err != nil {
			return nil, resp, err
		}

		return issues, resp, nil
	}

	return nil, nil, fmt.Errorf("exhausted retries")
}

// listPageWithETag calls the GitHub issues endpoint with an optional
// If-None-Match header for conditional requests.
func (f *Fetcher) listPageWithETag(ctx context.Context, opts *gogithub.IssueListByRepoOptions, etag string) ([]*gogithub.Issue, *gogithub.Response, error) {
	// Only send ETag on the first page request.
	if etag != "" && opts.ListOptions.Page <= 1 {
		// go-github doesn't expose conditional requests directly, so build
		// the request by hand to attach the If-None-Match header.
		u := fmt.Sprintf("repos/%s/%s/issues", f.owner, f.repo)
		req, err := f.client.NewRequest("GET", u, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("If-None-Match", etag)

		q := req.URL.Query()
		q.Set("state", opts.State)
		q.Set("sort", opts.Sort)
		q.Set("direction", opts.Direction)
		q.Set("per_page", fmt.Sprintf("%d", opts.PerPage))
		if !opts.Since.IsZero() {
			q.Set("since", opts.Since.Format(time.RFC3339))
		}
		if opts.ListOptions.Page > 0 {
			q.Set("page", fmt.Sprintf("%d", opts.ListOptions.Page))
		}
		req.URL.RawQuery = q.Encode()

		var issues []*gogithub.Issue
		resp, err := f.client.Do(ctx, req, &issues)
		if err != nil {
			// go-github returns an error for non-2xx but we handle 304 ourselves.
			if resp != nil && resp.StatusCode == http.StatusNotModified {
				return nil, resp, nil
			}
			return nil, resp, err
		}
		return issues, resp, nil
	}

	issues, resp, err := f.client.Issues.ListByRepo(ctx, f.owner, f.repo, opts)
	return issues, resp, err
}

// convertIssue converts a go-github Issue to our internal Issue type.
func convertIssue(gh *gogithub.Issue) Issue {
	issue := Issue{
		Number: gh.GetNumber(),
		Title:  gh.GetTitle(),
		Body:   gh.GetBody(),
		State:  gh.GetState(),
	}

	if gh.User != nil {
		issue.Author = gh.User.GetLogin()
	}

	for _, label := range gh.Labels {
		issue.Labels = append(issue.Labels, label.GetName())
	}

	if gh.CreatedAt != nil {
		issue.CreatedAt = gh.CreatedAt.Time
	}
	if gh.UpdatedAt != nil {
		issue.UpdatedAt = gh.UpdatedAt.Time
	}

	return issue
}
