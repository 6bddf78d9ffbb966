package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repo represents a tracked GitHub repository.
type Repo struct {
	ID           int64
	Owner        string
	RepoName     string
	LastSyncedAt *time.Time
	ETag         string
	CreatedAt    time.Time
}

// CreateRepo inserts a new repo record.
func (d *DB) CreateRepo(owner, repo string) (*Repo, error) {
	result, err := d.db.Exec(
		`INSERT INTO repos (owner, repo) VALUES (?, ?)`,
		owner, repo,
	)
	if err != nil {
		return nil, fmt.Errorf("creating repo: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting repo id: %w", err)
	}

	return d.GetRepo(id)
}

// GetRepo retrieves a repo by its ID.
func (d *DB) GetRepo(id int64) (*Repo, error) {
	row := d.db.QueryRow(
		`SELECT id, owner, repo, last_synced_at, etag, created_at FROM repos WHERE id = ?`,
		id,
	)
	return scanRepo(row.Scan)
}

// GetRepoByOwnerRepo retrieves a repo by owner and name.
func (d *DB) GetRepoByOwnerRepo(owner, repo string) (*Repo, error) {
	row := d.db.QueryRow(
		`SELECT id, owner, repo, last_synced_at, etag, created_at FROM repos WHERE owner = ? AND repo = ?`,
		owner, repo,
	)
	return scanRepo(row.Scan)
}

// EnsureRepo gets or creates the repo record for owner/repo.
func (d *DB) EnsureRepo(owner, repo string) (*Repo, error) {
	r, err := d.GetRepoByOwnerRepo(owner, repo)
	if err != nil {
		if isNoRows(err) {
			return d.CreateRepo(owner, repo)
		}
		return nil, err
	}
	return r, nil
}

// isNoRows reports whether err stems from an empty query result.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UpdateSyncState updates the last_synced_at watermark and etag for a repo.
func (d *DB) UpdateSyncState(id int64, syncedAt time.Time, etag string) error {
	_, err := d.db.Exec(
		`UPDATE repos SET last_synced_at = ?, etag = ? WHERE id = ?`,
		syncedAt.UTC().Format(time.RFC3339), etag, id,
	)
	if err != nil {
		return fmt.Errorf("updating sync state: %w", err)
	}
	return nil
}

// ListRepos returns all tracked repos.
func (d *DB) ListRepos() ([]Repo, error) {
	rows, err := d.db.Query(
		`SELECT id, owner, repo, last_synced_at, etag, created_at FROM repos ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		r, err := scanRepo(rows.Scan)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

func scanRepo(scan func(...any) error) (*Repo, error) {
	var r Repo
	var lastSynced, etag sql.NullString
	var createdAt string

	err := scan(&r.ID, &r.Owner, &r.RepoName, &lastSynced, &etag, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scanning repo: %w", err)
	}

	if lastSynced.Valid {
		t, _ := time.Parse(time.RFC3339, lastSynced.String)
		r.LastSyncedAt = &t
	}
	r.ETag = etag.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &r, nil
}
