// Package jobs implements the job registry: the public contract for
// creating, reading, updating and deleting simulation jobs, and the state
// machine pending -> processing -> {completed, failed}.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"dronesim/internal/logger"
	"dronesim/internal/metrics"
	"dronesim/internal/store"
)

// casAttempts bounds the retry loop around CompareAndUpdate. Conflicts are
// transient races between a progress tick and a finalize call; a handful of
// retries is plenty for a single-worker topology.
const casAttempts = 5

// UpdateHook observes every successful job write. Used for best-effort
// fan-out such as websocket pushes and worker wake-ups; hooks must not
// block.
type UpdateHook func(job *store.Job)

// Manager composes the job store and the pending queue and enforces the
// job state machine. Safe for many concurrent callers.
type Manager struct {
	store store.Store
	queue store.Queue
	hooks []UpdateHook
}

// NewManager creates a registry over the given store and queue.
func NewManager(s store.Store, q store.Queue) *Manager {
	return &Manager{store: s, queue: q}
}

// OnUpdate registers a hook fired after every successful write. Register
// hooks during startup; the hook list is not guarded against concurrent
// registration.
func (m *Manager) OnUpdate(hook UpdateHook) {
	m.hooks = append(m.hooks, hook)
}

func (m *Manager) notifyUpdate(job *store.Job) {
	for _, hook := range m.hooks {
		hook(job)
	}
}

// Submit validates that config is present, writes a pending job and
// enqueues its id. A client-supplied config.job_id is honored; resubmitting
// an existing id is idempotent and returns the stored record untouched, so
// duplicate submission retries cannot reset an in-flight job.
func (m *Manager) Submit(ctx context.Context, config store.Document) (*store.Job, error) {
	if len(config) == 0 {
		return nil, ErrInvalidConfig
	}

	id := clientJobID(config)
	if id == "" {
		id = uuid.New().String()
	} else if existing, err := m.store.Get(ctx, id); err == nil {
		logger.WithJobID(id).Warn().Msg("Duplicate submission, returning existing job")
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing job: %w", err)
	}

	now := time.Now().UTC()
	job := &store.Job{
		ID:        id,
		Config:    config,
		Status:    store.StatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := m.queue.Enqueue(ctx, id); err != nil && !errors.Is(err, store.ErrAlreadyQueued) {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsSubmittedTotal.Inc()
	logger.WithJobID(id).Info().Msg("Job submitted")
	m.notifyUpdate(job)
	return job, nil
}

// Get returns the job or store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*store.Job, error) {
	return m.store.Get(ctx, id)
}

// List returns all jobs ordered by creation time ascending.
func (m *Manager) List(ctx context.Context) ([]*store.Job, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// MarkProcessing transitions pending -> processing. Calling it on a job in
// any other state is an error so worker bugs surface early instead of
// silently double-claiming.
func (m *Manager) MarkProcessing(ctx context.Context, id string) (*store.Job, error) {
	return m.transition(ctx, id, func(job *store.Job) error {
		if job.Status != store.StatusPending {
			return fmt.Errorf("%w: cannot mark %s job as processing", ErrInvalidTransition, job.Status)
		}
		job.Status = store.StatusProcessing
		job.Progress = 0
		return nil
	})
}

// ReportProgress records a progress percentage for a processing job.
// Progress must be non-decreasing and at most 100.
func (m *Manager) ReportProgress(ctx context.Context, id string, percent int) (*store.Job, error) {
	return m.transition(ctx, id, func(job *store.Job) error {
		if job.Status != store.StatusProcessing {
			return fmt.Errorf("%w: cannot report progress on %s job", ErrInvalidTransition, job.Status)
		}
		if percent < job.Progress || percent > 100 {
			return fmt.Errorf("%w: %d (current %d)", ErrInvalidProgress, percent, job.Progress)
		}
		job.Progress = percent
		return nil
	})
}

// Complete transitions processing -> completed, storing the result.
func (m *Manager) Complete(ctx context.Context, id string, result store.Document) (*store.Job, error) {
	job, err := m.transition(ctx, id, func(job *store.Job) error {
		if job.Status != store.StatusProcessing {
			return fmt.Errorf("%w: cannot complete %s job", ErrInvalidTransition, job.Status)
		}
		job.Status = store.StatusCompleted
		job.Progress = 100
		job.Result = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.JobsCompletedTotal.Inc()
	logger.WithJobID(id).Info().Msg("Job completed")
	return job, nil
}

// Fail transitions a processing job to failed. A pending job may also be
// failed directly, so a worker can abort a claimed-but-not-started job.
func (m *Manager) Fail(ctx context.Context, id string, errMsg string) (*store.Job, error) {
	if errMsg == "" {
		errMsg = "unknown failure"
	}

	job, err := m.transition(ctx, id, func(job *store.Job) error {
		if job.Status != store.StatusProcessing && job.Status != store.StatusPending {
			return fmt.Errorf("%w: cannot fail %s job", ErrInvalidTransition, job.Status)
		}
		job.Status = store.StatusFailed
		job.Error = errMsg
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.JobsFailedTotal.Inc()
	logger.WithJobID(id).Warn().Str("error", errMsg).Msg("Job failed")
	return job, nil
}

// Delete removes the job record. A never-claimed job is also removed from
// the pending queue so no worker later claims an id it cannot resolve.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.queue.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove job from queue: %w", err)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	logger.WithJobID(id).Info().Msg("Job deleted")
	return nil
}

// transition runs one read-assert-write cycle through CompareAndUpdate,
// retrying on conflicts from racing writers. State machine violations pass
// through on the first attempt; only ErrConflict is retried.
func (m *Manager) transition(ctx context.Context, id string, mutate func(*store.Job) error) (*store.Job, error) {
	wrapped := func(job *store.Job) error {
		if err := mutate(job); err != nil {
			return err
		}
		job.UpdatedAt = time.Now().UTC()
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		job, err := m.store.CompareAndUpdate(ctx, id, wrapped)
		if err == nil {
			m.notifyUpdate(job)
			return job, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("job %s update kept conflicting: %w", id, lastErr)
}

func clientJobID(config store.Document) string {
	if raw, ok := config["job_id"]; ok {
		if id, ok := raw.(string); ok {
			return id
		}
	}
	return ""
}
