package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"dronesim/internal/logger"
	"dronesim/internal/store"
	"dronesim/internal/store/memory"
)

func TestMain(m *testing.M) {
	os.Setenv("LOG_LEVEL", "error")
	logger.Init("test")
	os.Exit(m.Run())
}

func newTestManager() (*Manager, *memory.Store, *memory.Queue) {
	s := memory.NewStore()
	q := memory.NewQueue()
	return NewManager(s, q), s, q
}

func testConfig() store.Document {
	return store.Document{"scene_name": "yard", "drones": 2}
}

func TestSubmitAndGet(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, err := m.Submit(ctx, testConfig())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.ID == "" {
		t.Error("expected a generated job id")
	}
	if job.Status != store.StatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}
	if job.Progress != 0 {
		t.Errorf("expected progress 0, got %d", job.Progress)
	}

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Config["scene_name"] != "yard" {
		t.Errorf("config did not round-trip: %v", got.Config)
	}
	if got.Status != store.StatusPending || got.Progress != 0 {
		t.Errorf("unexpected state: %s/%d", got.Status, got.Progress)
	}
}

func TestSubmitEmptyConfig(t *testing.T) {
	m, _, q := newTestManager()
	ctx := context.Background()

	for _, config := range []store.Document{nil, {}} {
		if _, err := m.Submit(ctx, config); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Submit(%v): expected ErrInvalidConfig, got %v", config, err)
		}
	}

	if _, err := q.ClaimNext(ctx, 0); !errors.Is(err, store.ErrEmpty) {
		t.Error("rejected submission must not enqueue anything")
	}
}

func TestSubmitClientJobID(t *testing.T) {
	m, _, q := newTestManager()
	ctx := context.Background()

	config := store.Document{"job_id": "job-42", "scene_name": "yard"}
	job, err := m.Submit(ctx, config)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.ID != "job-42" {
		t.Errorf("expected client-supplied id, got %s", job.ID)
	}

	// A duplicate submission returns the stored record untouched and does
	// not enqueue a second entry.
	if _, err := m.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	dup, err := m.Submit(ctx, config)
	if err != nil {
		t.Fatalf("duplicate Submit failed: %v", err)
	}
	if dup.Status != store.StatusProcessing {
		t.Errorf("duplicate submission reset job state to %s", dup.Status)
	}

	id, err := q.ClaimNext(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if id != "job-42" {
		t.Errorf("claimed unexpected id %s", id)
	}
	if _, err := q.ClaimNext(ctx, 0); !errors.Is(err, store.ErrEmpty) {
		t.Error("duplicate submission added a second queue entry")
	}
}

func TestLifecycle(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, err := m.Submit(ctx, store.Document{"scene": "yard", "drones": 2})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := m.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if _, err := m.ReportProgress(ctx, job.ID, 50); err != nil {
		t.Fatalf("ReportProgress failed: %v", err)
	}

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != store.StatusProcessing || got.Progress != 50 {
		t.Errorf("expected processing/50, got %s/%d", got.Status, got.Progress)
	}

	result := store.Document{"cir": []any{1.0, 2.0}}
	if _, err := m.Complete(ctx, job.ID, result); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, err = m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != store.StatusCompleted || got.Progress != 100 {
		t.Errorf("expected completed/100, got %s/%d", got.Status, got.Progress)
	}
	if got.Result == nil || got.Result["cir"] == nil {
		t.Errorf("result not stored: %v", got.Result)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("updated_at was not bumped")
	}
}

func TestProgressRegressionRejected(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, _ := m.Submit(ctx, testConfig())
	m.MarkProcessing(ctx, job.ID)

	if _, err := m.ReportProgress(ctx, job.ID, 30); err != nil {
		t.Fatalf("ReportProgress(30) failed: %v", err)
	}
	if _, err := m.ReportProgress(ctx, job.ID, 20); !errors.Is(err, ErrInvalidProgress) {
		t.Errorf("expected ErrInvalidProgress, got %v", err)
	}

	got, _ := m.Get(ctx, job.ID)
	if got.Progress != 30 {
		t.Errorf("progress changed after rejected report: %d", got.Progress)
	}
}

func TestProgressOutOfRange(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, _ := m.Submit(ctx, testConfig())
	m.MarkProcessing(ctx, job.ID)

	if _, err := m.ReportProgress(ctx, job.ID, 101); !errors.Is(err, ErrInvalidProgress) {
		t.Errorf("expected ErrInvalidProgress for 101, got %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(m *Manager, id string) error
	}{
		{
			name: "complete pending job",
			run: func(m *Manager, id string) error {
				_, err := m.Complete(ctx, id, store.Document{"r": 1})
				return err
			},
		},
		{
			name: "mark processing twice",
			run: func(m *Manager, id string) error {
				if _, err := m.MarkProcessing(ctx, id); err != nil {
					return err
				}
				_, err := m.MarkProcessing(ctx, id)
				return err
			},
		},
		{
			name: "report progress on pending job",
			run: func(m *Manager, id string) error {
				_, err := m.ReportProgress(ctx, id, 10)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager()
			job, err := m.Submit(ctx, testConfig())
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			if err := tt.run(m, job.ID); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestFailFromPending(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, _ := m.Submit(ctx, testConfig())
	if _, err := m.Fail(ctx, job.ID, "aborted before start"); err != nil {
		t.Fatalf("Fail from pending should be allowed: %v", err)
	}

	got, _ := m.Get(ctx, job.ID)
	if got.Status != store.StatusFailed || got.Error != "aborted before start" {
		t.Errorf("unexpected state: %s %q", got.Status, got.Error)
	}
}

func TestFailNeverStoresEmptyError(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, _ := m.Submit(ctx, testConfig())
	m.MarkProcessing(ctx, job.ID)
	if _, err := m.Fail(ctx, job.ID, ""); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	got, _ := m.Get(ctx, job.ID)
	if got.Error == "" {
		t.Error("failed job must carry a non-empty error")
	}
}

func TestTerminalStateImmutable(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	job, _ := m.Submit(ctx, testConfig())
	m.MarkProcessing(ctx, job.ID)
	m.Complete(ctx, job.ID, store.Document{"r": 1})

	before, _ := m.Get(ctx, job.ID)

	ops := map[string]func() error{
		"MarkProcessing": func() error { _, err := m.MarkProcessing(ctx, job.ID); return err },
		"ReportProgress": func() error { _, err := m.ReportProgress(ctx, job.ID, 100); return err },
		"Complete":       func() error { _, err := m.Complete(ctx, job.ID, store.Document{"r": 2}); return err },
		"Fail":           func() error { _, err := m.Fail(ctx, job.ID, "late failure"); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on completed job: expected ErrInvalidTransition, got %v", name, err)
		}
	}

	after, _ := m.Get(ctx, job.ID)
	if after.Status != before.Status || after.Progress != before.Progress ||
		after.Error != before.Error || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("terminal job was mutated")
	}
}

func TestDeleteBeforeClaim(t *testing.T) {
	m, _, q := newTestManager()
	ctx := context.Background()

	job, _ := m.Submit(ctx, testConfig())
	if err := m.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := m.Get(ctx, job.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := q.ClaimNext(ctx, 0); !errors.Is(err, store.ErrEmpty) {
		t.Error("deleted job left an orphaned queue entry")
	}
}

func TestDeleteMissing(t *testing.T) {
	m, _, _ := newTestManager()
	if err := m.Delete(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrderedByCreation(t *testing.T) {
	m, s, _ := newTestManager()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		job := &store.Job{
			ID:        id,
			Config:    testConfig(),
			Status:    store.StatusPending,
			CreatedAt: base.Add(time.Duration(2-i) * time.Minute),
			UpdatedAt: base,
		}
		if err := s.Put(ctx, job); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	list, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"b", "a", "c"}
	if len(list) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(list))
	}
	for i, job := range list {
		if job.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], job.ID)
		}
	}
}

func TestOnUpdateHook(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	var seen []store.JobStatus
	m.OnUpdate(func(job *store.Job) {
		seen = append(seen, job.Status)
	})

	job, _ := m.Submit(ctx, testConfig())
	m.MarkProcessing(ctx, job.ID)
	m.ReportProgress(ctx, job.ID, 40)
	m.Complete(ctx, job.ID, store.Document{"r": 1})

	want := []store.JobStatus{
		store.StatusPending,
		store.StatusProcessing,
		store.StatusProcessing,
		store.StatusCompleted,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d hook calls, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("hook call %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}
