// Package store contains the persistence layer for dronesim: the job
// record model, the Store and Queue contracts, and the sentinel errors
// shared by every backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are permitted from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is an uninterpreted structured blob. The queue layer never looks
// inside a job's config or result; the simulation engine owns their schema.
type Document map[string]any

// Job is one simulation request and its tracked outcome.
type Job struct {
	ID        string    `json:"id"`
	Config    Document  `json:"config"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Result    Document  `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version counts writes to the record. Backends use it to detect
	// concurrent writers inside CompareAndUpdate; it is not part of the
	// client-visible contract.
	Version int64 `json:"-"`
}

// String returns a string representation of the job.
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, Status: %s, Progress: %d}", j.ID, j.Status, j.Progress)
}

// Clone returns a deep-enough copy of the job: the Config and Result maps
// are copied one level deep so a caller mutating the copy cannot alias
// stored state.
func (j *Job) Clone() *Job {
	c := *j
	c.Config = cloneDocument(j.Config)
	c.Result = cloneDocument(j.Result)
	return &c
}

func cloneDocument(d Document) Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

var (
	// ErrNotFound is returned when no job exists under the requested id.
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned by CompareAndUpdate when a concurrent writer
	// changed the record between read and write. Callers retry; the error
	// never reaches clients.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrAlreadyQueued is returned by Enqueue when the id is already pending.
	ErrAlreadyQueued = errors.New("job already queued")

	// ErrEmpty is returned by ClaimNext when no entry appeared within the
	// claim timeout.
	ErrEmpty = errors.New("queue empty")
)

// Store is the durable mapping from job id to job record. All status and
// progress transitions go through CompareAndUpdate so racing writers can
// never produce a lost update.
type Store interface {
	// Put inserts or fully replaces the record.
	Put(ctx context.Context, job *Job) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns all records in unspecified order.
	List(ctx context.Context) ([]*Job, error)

	// Delete removes the record, ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// CompareAndUpdate applies mutate to the current record and writes the
	// result back only if no concurrent writer changed the record first,
	// returning ErrConflict otherwise. Errors returned by mutate abort the
	// write and pass through unchanged.
	CompareAndUpdate(ctx context.Context, id string, mutate func(*Job) error) (*Job, error)
}

// Queue is the FIFO handoff of pending job ids to a single logical
// consumer. ClaimNext must be safe under concurrent claimants: two callers
// never receive the same id.
type Queue interface {
	// Enqueue appends id to the tail, ErrAlreadyQueued if already pending.
	Enqueue(ctx context.Context, id string) error

	// ClaimNext atomically pops the head, blocking cooperatively up to
	// timeout for an entry to appear. Returns ErrEmpty on expiry. A
	// timeout <= 0 means a single non-blocking attempt.
	ClaimNext(ctx context.Context, timeout time.Duration) (string, error)

	// Remove drops id from the pending queue if still present. Removing an
	// absent id is a no-op.
	Remove(ctx context.Context, id string) error
}
