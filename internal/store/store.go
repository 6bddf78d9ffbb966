package store

import "time"

// Store defines the storage operations used by the pipeline and the server.
// It is satisfied by *DB and can be replaced with a mock for testing.
type Store interface {
	// EnsureRepo gets or creates the repo record for owner/repo.
	EnsureRepo(owner, repo string) (*Repo, error)

	// UpdateSyncState updates the watermark and etag for a repo.
	UpdateSyncState(id int64, syncedAt time.Time, etag string) error

	// UpsertIssue inserts or updates an issue snapshot.
	UpsertIssue(issue *Issue) error

	// GetIssuesByRepo returns all issues for a repo ordered by number.
	GetIssuesByRepo(repoID int64) ([]Issue, error)

	// GetEmbeddingState returns the stored content hash, model, and embedding
	// presence for an issue.
	GetEmbeddingState(repoID int64, number int) (hash, model string, hasEmbedding bool, err error)

	// UpdateEmbedding sets the embedding vector for an issue.
	UpdateEmbedding(repoID int64, number int, embedding []byte, model, contentHash string) error

	// GetEmbeddingsForRepo returns all issue embeddings for a repo computed
	// with the given model.
	GetEmbeddingsForRepo(repoID int64, model string) ([]IssueEmbedding, error)

	// StartEmbedRun and FinishEmbedRun bracket a bulk embedding pass.
	StartEmbedRun(repoID int64, model string) (int64, error)
	FinishEmbedRun(runID int64, seen, embedded, skipped, failed int, errText string) error
}

// Compile-time check that *DB satisfies the Store interface.
var _ Store = (*DB)(nil)
