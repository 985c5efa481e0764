// Package journal keeps a history of reconciliation passes in SQLite. It is
// an audit trail only; no decision is ever made from it.
package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/objmirror/internal/db"
	"github.com/openmined/objmirror/internal/reconcile"
)

const schema = `
CREATE TABLE IF NOT EXISTS passes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL, -- RFC3339Nano
    duration_ms INTEGER NOT NULL,
    bucket TEXT NOT NULL,
    object_key TEXT NOT NULL,
    local_path TEXT NOT NULL,
    state TEXT NOT NULL,
    action TEXT NOT NULL,
    local_digest TEXT NOT NULL DEFAULT '',
    remote_digest TEXT NOT NULL DEFAULT '',
    backup_path TEXT NOT NULL DEFAULT '',
    uploaded INTEGER NOT NULL DEFAULT 0,
    metadata_updated INTEGER NOT NULL DEFAULT 0,
    anomaly TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_passes_object ON passes(bucket, object_key);
CREATE INDEX IF NOT EXISTS idx_passes_started_at ON passes(started_at);
`

// Entry is one recorded pass.
type Entry struct {
	ID              int64
	StartedAt       time.Time
	Duration        time.Duration
	Bucket          string
	Key             string
	LocalPath       string
	State           string
	Action          string
	LocalDigest     string
	RemoteDigest    string
	BackupPath      string
	Uploaded        bool
	MetadataUpdated bool
	Anomaly         string
	Error           string
}

// Failed reports whether the pass ended in an error or an anomaly.
func (e *Entry) Failed() bool {
	return e.Error != "" || e.Anomaly != ""
}

// row mirrors the table; time is stored as TEXT.
type row struct {
	ID              int64  `db:"id"`
	StartedAt       string `db:"started_at"`
	DurationMs      int64  `db:"duration_ms"`
	Bucket          string `db:"bucket"`
	Key             string `db:"object_key"`
	LocalPath       string `db:"local_path"`
	State           string `db:"state"`
	Action          string `db:"action"`
	LocalDigest     string `db:"local_digest"`
	RemoteDigest    string `db:"remote_digest"`
	BackupPath      string `db:"backup_path"`
	Uploaded        bool   `db:"uploaded"`
	MetadataUpdated bool   `db:"metadata_updated"`
	Anomaly         string `db:"anomaly"`
	Error           string `db:"error"`
}

// Journal records passes.
type Journal struct {
	db   *sqlx.DB
	path string
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	conn, err := db.Open(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: conn, path: path}, nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	if j.db == nil {
		return errors.New("journal not open")
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Record stores the outcome of a pass. runErr is the error Run returned, if any.
func (j *Journal) Record(res *reconcile.Result, runErr error) (int64, error) {
	if res == nil {
		return 0, errors.New("cannot record nil result")
	}

	r := row{
		StartedAt:       res.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMs:      res.Duration.Milliseconds(),
		Bucket:          res.Bucket,
		Key:             res.Key,
		LocalPath:       res.LocalPath,
		State:           res.State.String(),
		Action:          string(res.Action),
		LocalDigest:     res.LocalDigest.String(),
		RemoteDigest:    res.RemoteDigest.String(),
		BackupPath:      res.BackupPath,
		Uploaded:        res.Uploaded,
		MetadataUpdated: res.MetadataUpdated,
	}
	if res.Anomaly != nil {
		r.Anomaly = res.Anomaly.Error()
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}

	query := `INSERT INTO passes (started_at, duration_ms, bucket, object_key, local_path, state, action,
	              local_digest, remote_digest, backup_path, uploaded, metadata_updated, anomaly, error)
	          VALUES (:started_at, :duration_ms, :bucket, :object_key, :local_path, :state, :action,
	              :local_digest, :remote_digest, :backup_path, :uploaded, :metadata_updated, :anomaly, :error)`
	result, err := j.db.NamedExec(query, r)
	if err != nil {
		return 0, fmt.Errorf("failed to record pass: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read pass id: %w", err)
	}
	slog.Debug("journal recorded pass", "id", id, "action", r.Action)
	return id, nil
}

// Recent returns up to limit passes, newest first. An empty bucket or key
// matches any.
func (j *Journal) Recent(bucket, key string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT * FROM passes
	          WHERE (? = '' OR bucket = ?) AND (? = '' OR object_key = ?)
	          ORDER BY id DESC LIMIT ?`
	var rows []row
	if err := j.db.Select(&rows, query, bucket, bucket, key, key, limit); err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, r := range rows {
		startedAt, err := time.Parse(time.RFC3339Nano, r.StartedAt)
		if err != nil {
			slog.Error("skipping pass with bad timestamp", "id", r.ID, "value", r.StartedAt, "error", err)
			continue
		}
		entries = append(entries, &Entry{
			ID:              r.ID,
			StartedAt:       startedAt,
			Duration:        time.Duration(r.DurationMs) * time.Millisecond,
			Bucket:          r.Bucket,
			Key:             r.Key,
			LocalPath:       r.LocalPath,
			State:           r.State,
			Action:          r.Action,
			LocalDigest:     r.LocalDigest,
			RemoteDigest:    r.RemoteDigest,
			BackupPath:      r.BackupPath,
			Uploaded:        r.Uploaded,
			MetadataUpdated: r.MetadataUpdated,
			Anomaly:         r.Anomaly,
			Error:           r.Error,
		})
	}
	return entries, nil
}

// Count returns the number of recorded passes.
func (j *Journal) Count() (int, error) {
	var count int
	if err := j.db.Get(&count, "SELECT COUNT(*) FROM passes"); err != nil {
		return 0, fmt.Errorf("failed to count passes: %w", err)
	}
	return count, nil
}
