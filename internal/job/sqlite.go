package job

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store. A single coarse
// mutex serializes all transactions; the load is one claim and one finalize
// per job plus occasional status polls and sweeps, so contention is not a
// concern and the lock keeps the claim and rank computations race-free.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// :memory: databases coherent across transactions.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT PRIMARY KEY,
			status        TEXT NOT NULL DEFAULT 'pending',
			created_at    DATETIME NOT NULL,
			completed_at  DATETIME,
			file_location TEXT NOT NULL DEFAULT '',
			results_file  TEXT NOT NULL DEFAULT '',
			error         TEXT NOT NULL DEFAULT '',
			params        TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status     ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`)
	return err
}

func (s *SQLiteStore) CreatePending(ctx context.Context, j *Job) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, status, created_at, file_location, params)
		VALUES (?, ?, ?, ?, ?)
	`, j.ID, StatusPending, j.CreatedAt.UTC(), j.FileLocation, string(j.Params))
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}

	// 1-based rank among pending jobs under the (created_at, id) total order.
	var place int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status = ? AND (created_at < ? OR (created_at = ? AND id <= ?))
	`, StatusPending, j.CreatedAt.UTC(), j.CreatedAt.UTC(), j.ID).Scan(&place)
	if err != nil {
		return 0, fmt.Errorf("queue position for job %s: %w", j.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create: %w", err)
	}
	return place, nil
}

const jobColumns = `id, status, created_at, completed_at, file_location, results_file, error, params`

func scanJob(row *sql.Row) (*Job, error) {
	j := &Job{}
	var completedAt sql.NullTime
	var params string

	err := row.Scan(
		&j.ID, &j.Status, &j.CreatedAt, &completedAt,
		&j.FileLocation, &j.ResultsFile, &j.Error, &params,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if params != "" {
		j.Params = []byte(params)
	}
	return j, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLiteStore) ClaimOldestPending(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT 1
	`, StatusPending)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select oldest pending: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ? WHERE id = ? AND status = ?
	`, StatusProcessing, j.ID, StatusPending); err != nil {
		return nil, fmt.Errorf("claim job %s: %w", j.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	j.Status = StatusProcessing
	return j, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id, resultsFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, results_file = ? WHERE id = ?
	`, StatusCompleted, now, resultsFile, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Fail(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, error = ? WHERE id = ?
	`, StatusFailed, now, errMsg, id)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Conditional on the current status so a concurrent sweep or second
	// reader cannot resurrect a row.
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ? WHERE id = ? AND status = ?
	`, StatusRead, id, StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark read job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ExpiredJobs(ctx context.Context, readCutoff, abandonedCutoff time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Never-read completed jobs fall under the long abandoned window on
	// purpose: their results have not been delivered yet.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE (status IN (?, ?) AND created_at < ?)
		   OR (status IN (?, ?, ?) AND created_at < ?)
	`,
		StatusRead, StatusFailed, readCutoff.UTC(),
		StatusPending, StatusProcessing, StatusCompleted, abandonedCutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j := &Job{}
		var completedAt sql.NullTime
		var params string
		if err := rows.Scan(
			&j.ID, &j.Status, &j.CreatedAt, &completedAt,
			&j.FileLocation, &j.ResultsFile, &j.Error, &params,
		); err != nil {
			return nil, fmt.Errorf("scan expired job: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			j.CompletedAt = &t
		}
		if params != "" {
			j.Params = []byte(params)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
