package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dronesim/internal/jobs"
	"dronesim/internal/logger"
	"dronesim/internal/store"
	"dronesim/internal/ws"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

func (s *Server) addRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/jobs", s.withMiddleware(s.handleJobs))
	mux.HandleFunc("/jobs/", s.withMiddleware(s.handleJobByID))
	mux.HandleFunc("/models", s.withMiddleware(s.handleListScenes))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.Handle(s.hub, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/health/live", s.handleLiveness)
}

func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return corsMiddleware(correlationMiddleware(next))
}

func correlationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next(w, r.WithContext(ctx))
	}
}

// corsMiddleware mirrors the permissive CORS policy of the original
// deployment; the browser frontend is served from a different origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, id)
	case http.MethodPut:
		s.handleUpdateJob(w, r, id)
	case http.MethodDelete:
		s.handleDeleteJob(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type createJobRequest struct {
	Config store.Document `json:"config"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCorrelationID(getCorrelationID(r.Context()))

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error().Err(err).Msg("Invalid JSON request")
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.manager.Submit(r.Context(), req.Config)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidConfig) {
			log.Warn().Msg("Submission rejected: empty config")
			http.Error(w, "Config is required", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to submit job")
		http.Error(w, "Failed to submit job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCorrelationID(getCorrelationID(r.Context()))

	list, err := s.manager.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		http.Error(w, "Failed to retrieve jobs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"count": len(list),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.manager.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		logger.WithCorrelationID(getCorrelationID(r.Context())).
			Error().Err(err).Str("job_id", id).Msg("Failed to get job")
		http.Error(w, "Failed to retrieve job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// updateJobRequest is the worker-internal status update shape. Not
// intended for end clients; the worker loop normally calls the registry
// directly, this endpoint exists for out-of-process engines.
type updateJobRequest struct {
	Status   string         `json:"status"`
	Progress int            `json:"progress"`
	Result   store.Document `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request, id string) {
	log := logger.WithCorrelationID(getCorrelationID(r.Context()))

	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.applyUpdate(r.Context(), id, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, jobs.ErrInvalidTransition):
			log.Warn().Err(err).Str("job_id", id).Msg("Rejected status update")
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, jobs.ErrInvalidProgress):
			log.Warn().Err(err).Str("job_id", id).Msg("Rejected progress update")
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Error().Err(err).Str("job_id", id).Msg("Failed to update job")
			http.Error(w, "Failed to update job", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) applyUpdate(ctx context.Context, id string, req updateJobRequest) (*store.Job, error) {
	switch store.JobStatus(req.Status) {
	case store.StatusProcessing:
		current, err := s.manager.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == store.StatusPending {
			if current, err = s.manager.MarkProcessing(ctx, id); err != nil {
				return nil, err
			}
		}
		if req.Progress == current.Progress {
			return current, nil
		}
		return s.manager.ReportProgress(ctx, id, req.Progress)
	case store.StatusCompleted:
		return s.manager.Complete(ctx, id, req.Result)
	case store.StatusFailed:
		return s.manager.Fail(ctx, id, req.Error)
	default:
		return nil, errors.New("status must be processing, completed or failed")
	}
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.manager.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		logger.WithCorrelationID(getCorrelationID(r.Context())).
			Error().Err(err).Str("job_id", id).Msg("Failed to delete job")
		http.Error(w, "Failed to delete job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job deleted successfully"})
}

func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	list, err := s.sceneList.List()
	if err != nil {
		logger.WithCorrelationID(getCorrelationID(r.Context())).
			Error().Err(err).Msg("Failed to list scenes")
		http.Error(w, "Failed to list scenes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}
