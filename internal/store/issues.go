package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Issue represents a stored GitHub issue snapshot with its embedding.
type Issue struct {
	ID             int64
	RepoID         int64
	Number         int
	Title          string
	Body           string
	ContentHash    string
	State          string
	Author         string
	Labels         []string
	Embedding      []byte
	EmbeddingModel string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	RetrievedAt    *time.Time
	EmbeddedAt     *time.Time
}

// IssueEmbedding holds an issue number and its embedding vector.
type IssueEmbedding struct {
	Number    int
	Embedding []byte
	Model     string
}

// UpsertIssue inserts or updates an issue snapshot. When the content hash
// changes, the stored embedding is cleared in the same statement so a stale
// vector can never be served for edited content.
func (d *DB) UpsertIssue(issue *Issue) error {
	labelsJSON, err := json.Marshal(issue.Labels)
	if err != nil {
		return fmt.Errorf("marshaling labels: %w", err)
	}

	var retrievedAt any
	if issue.RetrievedAt != nil {
		retrievedAt = issue.RetrievedAt.UTC().Format(time.RFC3339)
	}

	_, err = d.db.Exec(`
		INSERT INTO issues (repo_id, number, title, body, content_hash, state, author, labels, created_at, updated_at, retrieved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, number) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			content_hash = excluded.content_hash,
			state = excluded.state,
			author = excluded.author,
			labels = excluded.labels,
			updated_at = excluded.updated_at,
			retrieved_at = excluded.retrieved_at,
			embedding = CASE WHEN issues.content_hash = excluded.content_hash THEN issues.embedding ELSE NULL END,
			embedding_model = CASE WHEN issues.content_hash = excluded.content_hash THEN issues.embedding_model ELSE NULL END,
			embedded_at = CASE WHEN issues.content_hash = excluded.content_hash THEN issues.embedded_at ELSE NULL END`,
		issue.RepoID, issue.Number, issue.Title, issue.Body, issue.ContentHash,
		issue.State, issue.Author, string(labelsJSON),
		issue.CreatedAt.UTC().Format(time.RFC3339),
		issue.UpdatedAt.UTC().Format(time.RFC3339),
		retrievedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting issue: %w", err)
	}
	return nil
}

// GetIssue retrieves an issue by repo ID and number.
func (d *DB) GetIssue(repoID int64, number int) (*Issue, error) {
	row := d.db.QueryRow(`
		SELECT id, repo_id, number, title, body, content_hash, state, author, labels,
		       embedding, embedding_model, created_at, updated_at, retrieved_at, embedded_at
		FROM issues WHERE repo_id = ? AND number = ?`,
		repoID, number,
	)
	return scanIssue(row.Scan)
}

// GetIssuesByRepo returns all issues for a given repo ordered by number.
func (d *DB) GetIssuesByRepo(repoID int64) ([]Issue, error) {
	rows, err := d.db.Query(`
		SELECT id, repo_id, number, title, body, content_hash, state, author, labels,
		       embedding, embedding_model, created_at, updated_at, retrieved_at, embedded_at
		FROM issues WHERE repo_id = ? ORDER BY number`,
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		issue, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

// UpdateEmbedding sets the embedding vector and model for an issue. The
// contentHash guards against writing a vector computed from content that has
// since been replaced by a newer snapshot; such writes are silently dropped.
func (d *DB) UpdateEmbedding(repoID int64, number int, embedding []byte, model, contentHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.db.Exec(`
		UPDATE issues SET embedding = ?, embedding_model = ?, embedded_at = ?
		WHERE repo_id = ? AND number = ? AND content_hash = ?`,
		embedding, model, now, repoID, number, contentHash,
	)
	if err != nil {
		return fmt.Errorf("updating embedding: %w", err)
	}
	return nil
}

// GetEmbeddingState returns the stored content hash, embedding model, and
// whether an embedding exists for the given issue. The pipeline uses this to
// decide whether re-embedding is needed.
func (d *DB) GetEmbeddingState(repoID int64, number int) (hash, model string, hasEmbedding bool, err error) {
	var contentHash, embModel sql.NullString
	var embedding []byte
	err = d.db.QueryRow(`
		SELECT content_hash, embedding_model, embedding FROM issues WHERE repo_id = ? AND number = ?`,
		repoID, number,
	).Scan(&contentHash, &embModel, &embedding)
	if err != nil {
		if isNoRows(err) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("getting embedding state: %w", err)
	}
	return contentHash.String, embModel.String, len(embedding) > 0, nil
}

// GetEmbeddingsForRepo returns all issue embeddings for a repo computed with
// the given model. Rows embedded with other model versions are excluded so a
// set never mixes vectors of different model versions.
func (d *DB) GetEmbeddingsForRepo(repoID int64, model string) ([]IssueEmbedding, error) {
	rows, err := d.db.Query(`
		SELECT number, embedding, embedding_model
		FROM issues WHERE repo_id = ? AND embedding IS NOT NULL AND embedding_model = ?`,
		repoID, model,
	)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var results []IssueEmbedding
	for rows.Next() {
		var ie IssueEmbedding
		if err := rows.Scan(&ie.Number, &ie.Embedding, &ie.Model); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		results = append(results, ie)
	}
	return results, rows.Err()
}

func scanIssue(scan func(...any) error) (*Issue, error) {
	var issue Issue
	var body, contentHash, author, labels, embeddingModel, retrievedAt, embeddedAt sql.NullString
	var embedding []byte
	var createdAt, updatedAt string

	err := scan(
		&issue.ID, &issue.RepoID, &issue.Number, &issue.Title,
		&body, &contentHash, &issue.State, &author, &labels,
		&embedding, &embeddingModel, &createdAt, &updatedAt, &retrievedAt, &embeddedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning issue: %w", err)
	}

	issue.Body = body.String
	issue.ContentHash = contentHash.String
	issue.Author = author.String
	issue.Embedding = embedding
	issue.EmbeddingModel = embeddingModel.String
	issue.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	issue.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if retrievedAt.Valid {
		t, _ := time.Parse(time.RFC3339, retrievedAt.String)
		issue.RetrievedAt = &t
	}
	if embeddedAt.Valid {
		t, _ := time.Parse(time.RFC3339, embeddedAt.String)
		issue.EmbeddedAt = &t
	}

	if labels.Valid && labels.String != "" {
		_ = json.Unmarshal([]byte(labels.String), &issue.Labels)
	}

	return &issue, nil
}
