package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"dronesim/internal/jobs"
	"dronesim/internal/logger"
	"dronesim/internal/scenes"
	"dronesim/internal/store"
	"dronesim/internal/store/memory"
	"dronesim/internal/ws"
)

func TestMain(m *testing.M) {
	os.Setenv("LOG_LEVEL", "error")
	logger.Init("api-test")
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, modelsDir string) (*httptest.Server, *jobs.Manager) {
	t.Helper()

	manager := jobs.NewManager(memory.NewStore(), memory.NewQueue())
	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := NewServer(manager, scenes.NewLister(modelsDir), hub, "0", nil)
	mux := http.NewServeMux()
	srv.addRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, manager
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) *store.Job {
	t.Helper()
	defer resp.Body.Close()
	var job store.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return &job
}

func TestCreateJob(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	resp := postJSON(t, ts.URL+"/jobs", map[string]any{
		"config": map[string]any{"scene_name": "yard"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	job := decodeJob(t, resp)
	if job.ID == "" {
		t.Error("response has no job id")
	}
	if job.Status != store.StatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}
}

func TestCreateJobRejectsEmptyConfig(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	tests := []struct {
		name string
		body any
	}{
		{"no config field", map[string]any{}},
		{"empty config", map[string]any{"config": map[string]any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/jobs", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestCreateJobRejectsMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetJob(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	created := decodeJob(t, postJSON(t, ts.URL+"/jobs", map[string]any{
		"config": map[string]any{"scene_name": "yard"},
	}))

	resp, err := http.Get(ts.URL + "/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decodeJob(t, resp)
	if got.ID != created.ID {
		t.Errorf("expected %s, got %s", created.ID, got.ID)
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	resp, err := http.Get(ts.URL + "/jobs/no-such-job")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/jobs", map[string]any{
			"config": map[string]any{"scene_name": fmt.Sprintf("scene-%d", i)},
		})
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var listing struct {
		Jobs  []*store.Job `json:"jobs"`
		Count int          `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listing.Count != 3 || len(listing.Jobs) != 3 {
		t.Errorf("expected 3 jobs, got count=%d len=%d", listing.Count, len(listing.Jobs))
	}
}

func TestUpdateJobLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	job := decodeJob(t, postJSON(t, ts.URL+"/jobs", map[string]any{
		"config": map[string]any{"scene_name": "yard"},
	}))
	url := ts.URL + "/jobs/" + job.ID

	resp := doJSON(t, http.MethodPut, url, updateJobRequest{Status: "processing", Progress: 40})
	updated := decodeJob(t, resp)
	if updated.Status != store.StatusProcessing || updated.Progress != 40 {
		t.Fatalf("expected processing/40, got %s/%d", updated.Status, updated.Progress)
	}

	resp = doJSON(t, http.MethodPut, url, updateJobRequest{
		Status: "completed",
		Result: store.Document{"steps": []any{}},
	})
	updated = decodeJob(t, resp)
	if updated.Status != store.StatusCompleted || updated.Progress != 100 {
		t.Errorf("expected completed/100, got %s/%d", updated.Status, updated.Progress)
	}
}

func TestUpdateJobErrors(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	job := decodeJob(t, postJSON(t, ts.URL+"/jobs", map[string]any{
		"config": map[string]any{"scene_name": "yard"},
	}))
	url := ts.URL + "/jobs/" + job.ID

	resp := doJSON(t, http.MethodPut, url, updateJobRequest{Status: "completed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("completing a pending job: expected 409, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, url, updateJobRequest{Status: "processing", Progress: 30})
	resp.Body.Close()
	resp = doJSON(t, http.MethodPut, url, updateJobRequest{Status: "processing", Progress: 10})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("progress regression: expected 400, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, url, updateJobRequest{Status: "paused"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("unknown status: expected 500, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/jobs/missing", updateJobRequest{Status: "failed", Error: "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing job: expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteJob(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	job := decodeJob(t, postJSON(t, ts.URL+"/jobs", map[string]any{
		"config": map[string]any{"scene_name": "yard"},
	}))

	resp := doJSON(t, http.MethodDelete, ts.URL+"/jobs/"+job.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted job should be gone, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/jobs/"+job.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("double delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestListScenes(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "yard"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "yard", "yard.glb"), []byte("glb"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts, _ := newTestServer(t, dir)

	resp, err := http.Get(ts.URL + "/models")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var list []scenes.Scene
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode scenes: %v", err)
	}
	if len(list) != 1 || list[0].Name != "yard" {
		t.Errorf("unexpected scene list: %+v", list)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	for _, path := range []string{"/health", "/health/ready", "/health/live"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, t.TempDir())

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/jobs", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}
