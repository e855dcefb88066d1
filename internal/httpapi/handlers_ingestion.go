// ============================================================================
// internal/httpapi/handlers_ingestion.go
// Bulk upload staging, conflict resolution, and commit
// ============================================================================

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"crms/internal/shared"
)

// StageUploadRequest mirrors the JSON input for POST /api/ingestion
type StageUploadRequest struct {
	FileName     string                   `json:"file_name" validate:"required"`
	TargetEntity string                   `json:"target_entity" validate:"required,oneof=students subjects marks"`
	Rows         []map[string]interface{} `json:"rows" validate:"required,min=1"`
}

// ResolveConflictsRequest mirrors the JSON input for POST /api/ingestion/{id}/resolve
type ResolveConflictsRequest struct {
	Resolutions map[string]string `json:"resolutions" validate:"required,min=1"`
}

// StageUpload handles POST /api/ingestion (operator and admin, throttled)
func (s *Server) StageUpload(w http.ResponseWriter, r *http.Request) {
	var req StageUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	job, err := s.ingestion.Stage(r.Context(), ActorFrom(r), req.FileName, req.TargetEntity, req.Rows)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// GetIngestionJob handles GET /api/ingestion/{id}
func (s *Server) GetIngestionJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ingestion.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListIngestionJobs handles GET /api/ingestion
func (s *Server) ListIngestionJobs(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if n, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64); err == nil {
		limit = n
	}

	actor := ActorFrom(r)
	uploadedBy := actor.ID
	if actor.Role == shared.RoleAdmin {
		// Admin sees every uploader's jobs
		uploadedBy = r.URL.Query().Get("uploaded_by")
	}

	jobs, err := s.ingestion.List(r.Context(), uploadedBy, limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// ResolveConflicts handles POST /api/ingestion/{id}/resolve
func (s *Server) ResolveConflicts(w http.ResponseWriter, r *http.Request) {
	var req ResolveConflictsRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	job, err := s.ingestion.Resolve(r.Context(), chi.URLParam(r, "id"), req.Resolutions)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CommitIngestionJob handles POST /api/ingestion/{id}/commit (throttled)
func (s *Server) CommitIngestionJob(w http.ResponseWriter, r *http.Request) {
	outcome, failures, err := s.ingestion.Commit(r.Context(), ActorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"result":   outcome,
		"failures": failures,
	})
}
