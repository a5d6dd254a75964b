// Package memory provides in-process Store and Queue implementations,
// used by tests and single-binary deployments that do not need durability.
package memory

import (
	"context"
	"sync"
	"time"

	"dronesim/internal/store"
)

// Store is a mutex-guarded map of job records.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*store.Job)}
}

func (s *Store) Put(_ context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := job.Clone()
	c.Version++
	s.jobs[job.ID] = c
	job.Version = c.Version
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *Store) List(_ context.Context) ([]*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// CompareAndUpdate never returns ErrConflict here: the lock is held across
// the whole read-mutate-write cycle, so there is no window for a racing
// writer.
func (s *Store) CompareAndUpdate(_ context.Context, id string, mutate func(*store.Job) error) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	next.Version = current.Version + 1
	s.jobs[id] = next
	return next.Clone(), nil
}

// Queue is an in-process FIFO of pending job ids.
type Queue struct {
	mu      sync.Mutex
	ids     []string
	present map[string]struct{}
	wake    chan struct{}
}

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{
		present: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

func (q *Queue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	if _, ok := q.present[id]; ok {
		q.mu.Unlock()
		return store.ErrAlreadyQueued
	}
	q.ids = append(q.ids, id)
	q.present[id] = struct{}{}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) ClaimNext(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if id, ok := q.pop(); ok {
			return id, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", store.ErrEmpty
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
			return "", store.ErrEmpty
		case <-q.wake:
			timer.Stop()
			// Another claimant may win the race for the new entry; loop
			// and re-check under the lock.
		}
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	delete(q.present, id)
	return id, true
}

func (q *Queue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[id]; !ok {
		return nil
	}
	delete(q.present, id)
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	return nil
}
