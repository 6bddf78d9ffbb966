package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghlabs/embedsrv/internal/embed"
	"github.com/ghlabs/embedsrv/internal/github"
	"github.com/ghlabs/embedsrv/internal/provider"
	"github.com/ghlabs/embedsrv/internal/pubsub"
	"github.com/ghlabs/embedsrv/internal/retry"
	"github.com/ghlabs/embedsrv/internal/store"
)

const (
	defaultWorkers = 4

	// defaultIssueTimeout bounds a single embedding call, retries included.
	defaultIssueTimeout = 2 * time.Minute

	// maxRecordedErrors caps how many per-issue errors are kept in the run
	// record and the result. The failure counts are always exact.
	maxRecordedErrors = 25
)

// IssueFetcher retrieves issues for one repository. Satisfied by
// *github.Fetcher; tests substitute a fake.
type IssueFetcher interface {
	Fetch(ctx context.Context, fo github.FetchOptions) (*github.FetchResult, error)
	FetchIssue(ctx context.Context, number int) (*github.Issue, error)
}

// FetcherFactory builds a fetcher bound to owner/repo.
type FetcherFactory func(owner, repo string) IssueFetcher

// Progress is the payload of events published during a run.
type Progress struct {
	Repo  string
	Issue int
	Done  int
	Total int
	Err   string
}

// IssueError records a per-issue failure inside an otherwise successful run.
type IssueError struct {
	Number int
	Err    string
}

// Result summarizes a bulk embedding run. Per-issue failures do not fail the
// run; they are counted and reported here.
type Result struct {
	Repo        string
	RunID       int64
	IssuesSeen  int
	Embedded    int
	Skipped     int
	Failed      int
	Errors      []IssueError
	NotModified bool
	Duration    time.Duration
}

// Deps holds the dependencies for a Pipeline.
type Deps struct {
	NewFetcher FetcherFactory
	Service    *embed.Service
	Store      store.Store
	Broker     *pubsub.Broker[Progress]
	Logger     *slog.Logger
	Workers    int
	Timeout    time.Duration
}

// Options controls a single run.
type Options struct {
	// Full forces a complete refetch, ignoring the stored watermark and etag.
	Full bool

	// State filters fetched issues: "open", "closed", or "all" (default).
	State string
}

// Pipeline drives a bulk embedding run: fetch all issues of a repo, diff
// against stored content hashes, and embed what changed with a bounded worker
// pool. Unchanged issues are never re-embedded.
type Pipeline struct {
	deps Deps
}

// New creates a Pipeline with the given dependencies.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Workers <= 0 {
		deps.Workers = defaultWorkers
	}
	if deps.Timeout <= 0 {
		deps.Timeout = defaultIssueTimeout
	}
	return &Pipeline{deps: deps}
}

// Run performs one bulk embedding pass over owner/repo. It returns an error
// only when the run as a whole cannot proceed (fetch failure, storage failure,
// cancellation); individual issue failures are reported in the Result.
func (p *Pipeline) Run(ctx context.Context, owner, repoName string, opts Options) (*Result, error) {
	start := time.Now()
	fullName := owner + "/" + repoName
	logger := p.deps.Logger.With("repo", fullName)

	repo, err := p.deps.Store.EnsureRepo(owner, repoName)
	if err != nil {
		return nil, fmt.Errorf("ensuring repo record: %w", err)
	}

	fo := github.FetchOptions{State: opts.State}
	if !opts.Full && repo.LastSyncedAt != nil {
		fo.Since = *repo.LastSyncedAt
		fo.ETag = repo.ETag
	}

	fetcher := p.deps.NewFetcher(owner, repoName)
	fr, err := fetcher.Fetch(ctx, fo)
	if err != nil {
		return nil, fmt.Errorf("fetching issues: %w", err)
	}

	model := p.deps.Service.Model()
	result := &Result{Repo: fullName, NotModified: fr.NotModified}

	runID, err := p.deps.Store.StartEmbedRun(repo.ID, model)
	if err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}
	result.RunID = runID

	logger.Info("embed run started", "run_id", runID, "fetched", len(fr.Issues), "not_modified", fr.NotModified)

	// Snapshot fetched issues. A content change clears the stored embedding
	// in the same upsert, so the candidate scan below picks it up.
	for i := range fr.Issues {
		if err := p.upsertIssue(repo.ID, &fr.Issues[i]); err != nil {
			p.finishRun(result, fmt.Sprintf("storing issues: %v", err))
			return nil, fmt.Errorf("storing issue #%d: %w", fr.Issues[i].Number, err)
		}
	}

	// Candidates include issues left unembedded by earlier runs and issues
	// embedded with a different model version, not just this fetch's batch.
	candidates, err := p.collectCandidates(repo.ID, model)
	if err != nil {
		p.finishRun(result, fmt.Sprintf("collecting candidates: %v", err))
		return nil, err
	}
	result.IssuesSeen = len(candidates)
	p.publish(pubsub.RunStarted, Progress{Repo: fullName, Total: len(candidates)})

	if err := p.embedCandidates(ctx, repo.ID, fullName, model, candidates, result); err != nil {
		p.finishRun(result, fmt.Sprintf("embedding: %v", err))
		return nil, err
	}

	if !fr.NotModified {
		syncedAt := fr.Watermark
		if syncedAt.IsZero() {
			syncedAt = start.UTC()
		}
		if err := p.deps.Store.UpdateSyncState(repo.ID, syncedAt, fr.ETag); err != nil {
			logger.Warn("failed to update sync state", "error", err)
		}
	}

	p.finishRun(result, "")
	result.Duration = time.Since(start)

	p.publish(pubsub.RunFinished, Progress{Repo: fullName, Done: result.Embedded, Total: result.IssuesSeen})
	logger.Info("embed run finished",
		"run_id", runID,
		"seen", result.IssuesSeen,
		"embedded", result.Embedded,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// EmbedIssue fetches and embeds a single issue by number. Used by the single
// issue refresh path.
func (p *Pipeline) EmbedIssue(ctx context.Context, owner, repoName string, number int) error {
	repo, err := p.deps.Store.EnsureRepo(owner, repoName)
	if err != nil {
		return fmt.Errorf("ensuring repo record: %w", err)
	}

	fetcher := p.deps.NewFetcher(owner, repoName)
	issue, err := fetcher.FetchIssue(ctx, number)
	if err != nil {
		return err
	}
	if err := p.upsertIssue(repo.ID, issue); err != nil {
		return fmt.Errorf("storing issue #%d: %w", number, err)
	}

	hash := embed.ContentHash(issue.Title, issue.Body)
	vec, err := p.deps.Service.EmbedText(ctx, issue.Title, issue.Body)
	if err != nil {
		return err
	}
	return p.deps.Store.UpdateEmbedding(repo.ID, number, embed.EncodeVector(vec), p.deps.Service.Model(), hash)
}

func (p *Pipeline) upsertIssue(repoID int64, issue *github.Issue) error {
	retrievedAt := issue.RetrievedAt
	return p.deps.Store.UpsertIssue(&store.Issue{
		RepoID:      repoID,
		Number:      issue.Number,
		Title:       issue.Title,
		Body:        issue.Body,
		ContentHash: embed.ContentHash(issue.Title, issue.Body),
		State:       issue.State,
		Author:      issue.Author,
		Labels:      issue.Labels,
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
		RetrievedAt: &retrievedAt,
	})
}

// candidate is one issue that needs (re-)embedding.
type candidate struct {
	number int
	title  string
	body   string
	hash   string
}

func (p *Pipeline) collectCandidates(repoID int64, model string) ([]candidate, error) {
	issues, err := p.deps.Store.GetIssuesByRepo(repoID)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}

	var candidates []candidate
	for _, issue := range issues {
		if len(issue.Embedding) > 0 && issue.EmbeddingModel == model {
			continue
		}
		candidates = append(candidates, candidate{
			number: issue.Number,
			title:  issue.Title,
			body:   issue.Body,
			hash:   issue.ContentHash,
		})
	}
	return candidates, nil
}

func (p *Pipeline) embedCandidates(ctx context.Context, repoID int64, fullName, model string, candidates []candidate, result *Result) error {
	var mu sync.Mutex
	done := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.deps.Workers)

	for _, c := range candidates {
		c := c
		g.Go(func() error {
			err := p.embedOne(ctx, repoID, model, c)

			mu.Lock()
			defer mu.Unlock()
			done++

			switch {
			case err == nil:
				result.Embedded++
				p.publish(pubsub.Embedded, Progress{Repo: fullName, Issue: c.number, Done: done, Total: len(candidates)})
			case errors.Is(err, embed.ErrEmptyInput):
				result.Skipped++
				p.publish(pubsub.Skipped, Progress{Repo: fullName, Issue: c.number, Done: done, Total: len(candidates)})
			case errors.Is(err, context.Canceled):
				return err
			default:
				result.Failed++
				if len(result.Errors) < maxRecordedErrors {
					result.Errors = append(result.Errors, IssueError{Number: c.number, Err: err.Error()})
				}
				p.publish(pubsub.Failed, Progress{Repo: fullName, Issue: c.number, Done: done, Total: len(candidates), Err: err.Error()})
				p.deps.Logger.Warn("failed to embed issue", "repo", fullName, "issue", c.number, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (p *Pipeline) embedOne(ctx context.Context, repoID int64, model string, c candidate) error {
	ctx, cancel := context.WithTimeout(ctx, p.deps.Timeout)
	defer cancel()

	var vec []float32
	err := retry.DoIf(ctx, retry.DefaultMaxAttempts, isRetryable, func() error {
		var err error
		vec, err = p.deps.Service.EmbedText(ctx, c.title, c.body)
		return err
	})
	if err != nil {
		return err
	}

	return p.deps.Store.UpdateEmbedding(repoID, c.number, embed.EncodeVector(vec), model, c.hash)
}

// isRetryable reports whether a provider error is worth retrying. Empty input
// and dimension mismatches are deterministic and never retried.
func isRetryable(err error) bool {
	if errors.Is(err, embed.ErrEmptyInput) || errors.Is(err, embed.ErrDimensionMismatch) {
		return false
	}
	return errors.Is(err, provider.ErrRateLimit) ||
		errors.Is(err, provider.ErrTimeout) ||
		errors.Is(err, provider.ErrInvalidResponse)
}

func (p *Pipeline) publish(eventType pubsub.EventType, progress Progress) {
	if p.deps.Broker != nil {
		p.deps.Broker.Publish(eventType, progress)
	}
}

func (p *Pipeline) finishRun(result *Result, fatal string) {
	parts := make([]string, 0, len(result.Errors)+1)
	if fatal != "" {
		parts = append(parts, fatal)
	}
	for _, ie := range result.Errors {
		parts = append(parts, fmt.Sprintf("#%d: %s", ie.Number, ie.Err))
	}
	if err := p.deps.Store.FinishEmbedRun(result.RunID, result.IssuesSeen, result.Embedded, result.Skipped, result.Failed, strings.Join(parts, "; ")); err != nil {
		p.deps.Logger.Warn("failed to record run finish", "run_id", result.RunID, "error", err)
	}
}
