// Package history keeps a local SQLite record of tiling runs and their
// per-image outcomes for `slidetiler history`.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// ErrRunNotFound is returned by Get for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusCompleted = "completed" // every image succeeded
	StatusPartial   = "partial"   // some images failed
	StatusEmpty     = "empty"     // no image succeeded
	StatusInvalid   = "invalid"   // input rejected before tiling
	StatusFailed    = "failed"    // any other fatal error
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	inputs      TEXT NOT NULL,
	output      TEXT NOT NULL,
	status      TEXT NOT NULL,
	total       INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	tiles       INTEGER NOT NULL,
	strategy    TEXT NOT NULL,
	batch_size  INTEGER NOT NULL,
	batches     INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS run_images (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	tiles       INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// Run is one recorded run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Inputs     []string
	Output     string
	Status     string
	Total      int
	Succeeded  int
	Failed     int
	Tiles      int
	Strategy   string
	BatchSize  int
	Batches    int
	Error      string
	Images     []Image // filled by Get only
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Image is one image outcome within a run.
type Image struct {
	Name     string
	Source   string
	Status   string
	Reason   string
	Error    string
	Tiles    int
	Duration time.Duration
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init history db: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and its images in one transaction.
func (s *Store) Record(ctx context.Context, run Run) error {
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, inputs, output, status,
			total, succeeded, failed, tiles, strategy, batch_size, batches, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), string(inputs), run.Output, run.Status,
		run.Total, run.Succeeded, run.Failed, run.Tiles, run.Strategy, run.BatchSize, run.Batches, run.Error,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}

	for i, img := range run.Images {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_images (run_id, position, name, source, status, reason, error, tiles, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, img.Name, img.Source, img.Status, img.Reason, img.Error, img.Tiles, img.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("record image %s: %w", img.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, inputs, output, status,
	total, succeeded, failed, tiles, strategy, batch_size, batches, error`

// List returns the most recent runs first, without their images.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run with its images in input order.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, source, status, reason, error, tiles, duration_ms
		FROM run_images WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return Run{}, fmt.Errorf("get run images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img Image
		var ms int64
		if err = rows.Scan(&img.Name, &img.Source, &img.Status, &img.Reason, &img.Error, &img.Tiles, &ms); err != nil {
			return Run{}, fmt.Errorf("scan run image: %w", err)
		}
		img.Duration = time.Duration(ms) * time.Millisecond
		run.Images = append(run.Images, img)
	}
	return run, rows.Err()
}

// Prune deletes runs that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var started, finished, inputs string
	err := sc.Scan(&run.ID, &started, &finished, &inputs, &run.Output, &run.Status,
		&run.Total, &run.Succeeded, &run.Failed, &run.Tiles, &run.Strategy, &run.BatchSize, &run.Batches, &run.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, err
	}
	if err = json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
		return Run{}, fmt.Errorf("decode inputs: %w", err)
	}
	return run, nil
}

// Times are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
