// Package postgres implements the job Store and Queue on PostgreSQL.
// CompareAndUpdate relies on a version column for optimistic locking and
// ClaimNext on FOR UPDATE SKIP LOCKED, so both are safe under concurrent
// workers.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"dronesim/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds the PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Connect opens the database and verifies the connection.
func Connect(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Store persists jobs in the jobs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a PostgreSQL-backed job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = "id, config, status, progress, result, error, version, created_at, updated_at"

func (s *Store) Put(ctx context.Context, job *store.Job) error {
	config, result, err := encodeDocuments(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			config = EXCLUDED.config,
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			version = jobs.version + 1,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		job.ID, config, job.Status, job.Progress, result, job.Error,
		job.CreatedAt, job.UpdatedAt); err != nil {
		return fmt.Errorf("failed to put job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*store.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (s *Store) List(ctx context.Context) ([]*store.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompareAndUpdate writes the mutated record back guarded by the version
// read at the start. Zero rows affected means a racing writer won and the
// caller sees ErrConflict.
func (s *Store) CompareAndUpdate(ctx context.Context, id string, mutate func(*store.Job) error) (*store.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	readVersion := job.Version
	if err := mutate(job); err != nil {
		return nil, err
	}

	config, result, err := encodeDocuments(job)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE jobs
		SET config = $2, status = $3, progress = $4, result = $5, error = $6,
			version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $8
	`

	res, err := s.db.ExecContext(ctx, query,
		job.ID, config, job.Status, job.Progress, result, job.Error,
		job.UpdatedAt, readVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, store.ErrConflict
	}

	job.Version = readVersion + 1
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	job := &store.Job{}
	var config, result []byte
	var errMsg sql.NullString

	if err := row.Scan(&job.ID, &config, &job.Status, &job.Progress, &result,
		&errMsg, &job.Version, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, &job.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return job, nil
}

func encodeDocuments(job *store.Job) ([]byte, []byte, error) {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode config for job %s: %w", job.ID, err)
	}

	var result []byte
	if job.Result != nil {
		result, err = json.Marshal(job.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode result for job %s: %w", job.ID, err)
		}
	}
	return config, result, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
