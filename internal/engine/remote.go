package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"dronesim/internal/store"
)

// Remote drives an external simulation service over HTTP. The service
// accepts the config document and blocks until the run finishes, so one
// request spans the whole simulation; the deployment-level timeout comes
// in through ctx. The remote protocol carries no mid-run progress, so
// onProgress is never called.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates an engine client for the service at baseURL. The
// http.Client must not set its own timeout; cancellation is ctx-driven.
func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{}
	}
	return &Remote{baseURL: baseURL, client: client}
}

func (r *Remote) Run(ctx context.Context, config store.Document, _ ProgressFunc) (store.Document, error) {
	body, err := json.Marshal(map[string]any{"config": config})
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/simulate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build simulation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simulation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("simulation service returned %d: %s", resp.StatusCode, snippet)
	}

	var result store.Document
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode simulation result: %w", err)
	}
	return result, nil
}
