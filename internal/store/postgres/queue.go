package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dronesim/internal/store"
)

// claimPollInterval is how often a blocking ClaimNext re-checks the table
// while waiting for an entry to appear.
const claimPollInterval = 100 * time.Millisecond

// Queue hands pending job ids to workers through the job_queue table.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a PostgreSQL-backed pending queue.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, id string) error {
	query := `INSERT INTO job_queue (job_id, enqueued_at) VALUES ($1, NOW())`
	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyQueued
		}
		return fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}
	return nil
}

// ClaimNext pops the oldest entry. FOR UPDATE SKIP LOCKED guarantees two
// concurrent claimants never see the same row; the delete and the read
// commit together. The table has no native blocking read, so the wait is a
// short poll loop bounded by timeout.
func (q *Queue) ClaimNext(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		id, err := q.claimOne(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrEmpty) {
			return "", err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", store.ErrEmpty
		}
		wait := claimPollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) claimOne(ctx context.Context) (string, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		DELETE FROM job_queue
		WHERE job_id = (
			SELECT job_id FROM job_queue
			ORDER BY enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id
	`

	var id string
	if err := tx.QueryRowContext(ctx, query).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrEmpty
		}
		return "", fmt.Errorf("failed to claim next job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit claim: %w", err)
	}
	return id, nil
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM job_queue WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove job %s from queue: %w", id, err)
	}
	return nil
}
