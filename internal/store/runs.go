package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EmbedRun is an audit record of one bulk embedding pass over a repository.
type EmbedRun struct {
	ID         int64
	RepoID     int64
	Model      string
	StartedAt  time.Time
	FinishedAt *time.Time
	IssuesSeen int
	Embedded   int
	Skipped    int
	Failed     int
	Errors     string
}

// StartEmbedRun inserts a new run record and returns its ID.
func (d *DB) StartEmbedRun(repoID int64, model string) (int64, error) {
	result, err := d.db.Exec(`
		INSERT INTO embed_runs (repo_id, model, started_at) VALUES (?, ?, ?)`,
		repoID, model, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("starting embed run: %w", err)
	}
	return result.LastInsertId()
}

// FinishEmbedRun records the outcome of a run.
func (d *DB) FinishEmbedRun(runID int64, seen, embedded, skipped, failed int, errText string) error {
	_, err := d.db.Exec(`
		UPDATE embed_runs SET finished_at = ?, issues_seen = ?, embedded = ?, skipped = ?, failed = ?, errors = ?
		WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		seen, embedded, skipped, failed, nullStr(errText), runID,
	)
	if err != nil {
		return fmt.Errorf("finishing embed run: %w", err)
	}
	return nil
}

// GetEmbedRuns retrieves run records for a repo, newest first.
func (d *DB) GetEmbedRuns(repoID int64, limit int) ([]EmbedRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.db.Query(`
		SELECT id, repo_id, model, started_at, finished_at, issues_seen, embedded, skipped, failed, errors
		FROM embed_runs WHERE repo_id = ?
		ORDER BY started_at DESC LIMIT ?`,
		repoID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying embed runs: %w", err)
	}
	defer rows.Close()

	var runs []EmbedRun
	for rows.Next() {
		var r EmbedRun
		var finishedAt, errText sql.NullString
		var startedAt string

		err := rows.Scan(&r.ID, &r.RepoID, &r.Model, &startedAt, &finishedAt,
			&r.IssuesSeen, &r.Embedded, &r.Skipped, &r.Failed, &errText)
		if err != nil {
			return nil, fmt.Errorf("scanning embed run: %w", err)
		}

		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAt.String)
			r.FinishedAt = &t
		}
		r.Errors = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
