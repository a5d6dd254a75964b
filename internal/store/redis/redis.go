// Package redis implements the job Store and Queue on Redis. Each job
// lives under its own key as a JSON blob; the pending queue is a list
// paired with a membership set so duplicate enqueues can be rejected.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"dronesim/internal/store"
)

const (
	jobKeyPrefix    = "job:"
	pendingListKey  = "jobs:pending"
	pendingSetKey   = "jobs:pending:ids"
	jobListIndexKey = "jobs:ids"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store persists jobs in Redis.
type Store struct {
	client *goredis.Client
}

// Queue hands pending job ids to the worker via BLPOP.
type Queue struct {
	client *goredis.Client
}

// Connect opens a Redis client and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewStore creates a Redis-backed job store.
func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

// NewQueue creates a Redis-backed pending queue.
func NewQueue(client *goredis.Client) *Queue {
	return &Queue{client: client}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *Store) Put(ctx context.Context, job *store.Job) error {
	data, err := json.Marshal(jobRecord(job))
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.SAdd(ctx, jobListIndexKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*store.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return unmarshalJob(data)
}

func (s *Store) List(ctx context.Context) ([]*store.Job, error) {
	ids, err := s.client.SMembers(ctx, jobListIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job ids: %w", err)
	}

	jobs := make([]*store.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Index entry outlived the record; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if removed == 0 {
		return store.ErrNotFound
	}
	if err := s.client.SRem(ctx, jobListIndexKey, id).Err(); err != nil {
		return fmt.Errorf("failed to unindex job %s: %w", id, err)
	}
	return nil
}

// CompareAndUpdate runs the read-mutate-write cycle under WATCH. If any
// writer touches the key between the read and the EXEC, Redis aborts the
// transaction and the caller sees ErrConflict.
func (s *Store) CompareAndUpdate(ctx context.Context, id string, mutate func(*store.Job) error) (*store.Job, error) {
	key := jobKey(id)
	var updated *store.Job

	txn := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to get job %s: %w", id, err)
		}

		job, err := unmarshalJob(data)
		if err != nil {
			return err
		}

		if err := mutate(job); err != nil {
			return err
		}
		job.Version++

		next, err := json.Marshal(jobRecord(job))
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = job
		return nil
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

func (q *Queue) Enqueue(ctx context.Context, id string) error {
	added, err := q.client.SAdd(ctx, pendingSetKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to mark job %s pending: %w", id, err)
	}
	if added == 0 {
		return store.ErrAlreadyQueued
	}
	if err := q.client.RPush(ctx, pendingListKey, id).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}
	return nil
}

func (q *Queue) ClaimNext(ctx context.Context, timeout time.Duration) (string, error) {
	var id string

	if timeout <= 0 {
		popped, err := q.client.LPop(ctx, pendingListKey).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return "", store.ErrEmpty
			}
			return "", fmt.Errorf("failed to claim next job: %w", err)
		}
		id = popped
	} else {
		// BLPOP with a zero timeout would block forever; the non-blocking
		// branch above covers that case.
		res, err := q.client.BLPop(ctx, timeout, pendingListKey).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return "", store.ErrEmpty
			}
			return "", fmt.Errorf("failed to claim next job: %w", err)
		}
		id = res[1]
	}

	if err := q.client.SRem(ctx, pendingSetKey, id).Err(); err != nil {
		return "", fmt.Errorf("failed to clear pending mark for job %s: %w", id, err)
	}
	return id, nil
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, pendingListKey, 0, id)
	pipe.SRem(ctx, pendingSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove job %s from queue: %w", id, err)
	}
	return nil
}

// record is the wire form of a job in Redis. Version is persisted so a
// future multi-writer deployment can reason about write counts even though
// WATCH already provides the conflict detection.
type record struct {
	ID        string          `json:"id"`
	Config    store.Document  `json:"config"`
	Status    store.JobStatus `json:"status"`
	Progress  int             `json:"progress"`
	Result    store.Document  `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int64           `json:"version"`
}

func jobRecord(job *store.Job) record {
	return record{
		ID:        job.ID,
		Config:    job.Config,
		Status:    job.Status,
		Progress:  job.Progress,
		Result:    job.Result,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Version:   job.Version,
	}
}

func unmarshalJob(data []byte) (*store.Job, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &store.Job{
		ID:        rec.ID,
		Config:    rec.Config,
		Status:    rec.Status,
		Progress:  rec.Progress,
		Result:    rec.Result,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Version:   rec.Version,
	}, nil
}
