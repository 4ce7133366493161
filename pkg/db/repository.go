package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository handles data access
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Document is one stored JSON document.
type Document struct {
	Key       string
	Payload   []byte
	Seq       int64
	UpdatedAt time.Time
}

// ChangeRow is one committed write in the change log.
type ChangeRow struct {
	Seq     int64
	Key     string
	Payload []byte
	Deleted bool
}

// DocumentWrite is a single write inside PutDocuments.
type DocumentWrite struct {
	Key     string
	Payload []byte
	Delete  bool
}

// JobRun represents a row in the job_runs table
type JobRun struct {
	ID         int64
	Job        string
	Status     string
	Result     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// GetDocument returns the document for key, or nil when there is none.
func (r *Repository) GetDocument(ctx context.Context, key string) (*Document, error) {
	query := `SELECT key, payload, seq, updated_at FROM documents WHERE key = ?`
	row := r.db.QueryRowContext(ctx, query, key)

	var doc Document
	var payload string
	err := row.Scan(&doc.Key, &payload, &doc.Seq, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.Payload = []byte(payload)
	return &doc, nil
}

// PutDocuments commits all writes in one transaction and returns the change
// rows it appended, in order.
func (r *Repository) PutDocuments(ctx context.Context, writes ...DocumentWrite) ([]ChangeRow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows := make([]ChangeRow, 0, len(writes))
	for _, w := range writes {
		var payload sql.NullString
		if !w.Delete {
			payload = sql.NullString{String: string(w.Payload), Valid: true}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO changes (key, payload, deleted) VALUES (?, ?, ?)`,
			w.Key, payload, w.Delete)
		if err != nil {
			return nil, fmt.Errorf("failed to append change: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read change sequence: %w", err)
		}

		if w.Delete {
			_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, w.Key)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (key, payload, seq, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, seq = excluded.seq, updated_at = excluded.updated_at`,
				w.Key, payload.String, seq)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write document: %w", err)
		}
		rows = append(rows, ChangeRow{Seq: seq, Key: w.Key, Payload: w.Payload, Deleted: w.Delete})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return rows, nil
}

// ChangesSince returns change rows with seq greater than after, oldest first.
func (r *Repository) ChangesSince(ctx context.Context, after int64, limit int) ([]ChangeRow, error) {
	query := `SELECT seq, key, payload, deleted FROM changes WHERE seq > ? ORDER BY seq ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []ChangeRow
	for rows.Next() {
		var c ChangeRow
		var payload sql.NullString
		if err := rows.Scan(&c.Seq, &c.Key, &payload, &c.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		if payload.Valid {
			c.Payload = []byte(payload.String)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// LatestSeq returns the highest committed change sequence, 0 for an empty log.
func (r *Repository) LatestSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get latest sequence: %w", err)
	}
	return seq.Int64, nil
}

// PruneChanges drops change rows older than the cutoff, keeping the newest row
// so LatestSeq stays monotonic.
func (r *Repository) PruneChanges(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM changes WHERE committed_at < ? AND seq < (SELECT MAX(seq) FROM changes)`,
		olderThan.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("failed to prune changes: %w", err)
	}
	return res.RowsAffected()
}

// StartJobRun records the start of a scheduled job and returns the run ID.
func (r *Repository) StartJobRun(ctx context.Context, job string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO job_runs (job, status) VALUES (?, 'running')`, job)
	if err != nil {
		return 0, fmt.Errorf("failed to log job run: %w", err)
	}
	return res.LastInsertId()
}

// FinishJobRun marks a run as finished with the given status and result.
func (r *Repository) FinishJobRun(ctx context.Context, id int64, status, result string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, result = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, result, id)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

// GetLatestJobRun returns the most recent run of job, or nil when it never ran.
func (r *Repository) GetLatestJobRun(ctx context.Context, job string) (*JobRun, error) {
	query := `SELECT id, job, status, result, started_at, finished_at FROM job_runs WHERE job = ? ORDER BY id DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, job)

	run, err := scanJobRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest job run: %w", err)
	}
	return run, nil
}

// ListJobRuns returns the most recent runs across all jobs, newest first.
func (r *Repository) ListJobRuns(ctx context.Context, limit int) ([]JobRun, error) {
	query := `SELECT id, job, status, result, started_at, finished_at FROM job_runs ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJobRun(s scanner) (*JobRun, error) {
	var run JobRun
	var result sql.NullString
	var finished sql.NullTime
	if err := s.Scan(&run.ID, &run.Job, &run.Status, &result, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.Result = result.String
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}
