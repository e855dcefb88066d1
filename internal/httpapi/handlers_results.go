// ============================================================================
// internal/httpapi/handlers_results.go
// Result publication, rollback, correction, transcript, and analytics
// ============================================================================

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"crms/internal/results"
	"crms/internal/shared"
)

// PublishRequest mirrors the JSON input for POST /api/results/publish
type PublishRequest struct {
	Semester       int32  `json:"semester" validate:"required,min=1,max=8"`
	AcademicYear   string `json:"academic_year" validate:"required"`
	ReAuthPassword string `json:"reauth_password"`
}

// RollbackRequest mirrors the JSON input for POST /api/results/{id}/rollback
type RollbackRequest struct {
	Reason         string `json:"reason" validate:"required"`
	ReAuthPassword string `json:"reauth_password"`
}

// CorrectionRequest mirrors the JSON input for POST /api/results/{id}/correct
type CorrectionRequest struct {
	Reason         string                   `json:"reason" validate:"required"`
	ReAuthPassword string                   `json:"reauth_password"`
	Subjects       []SubjectCorrectionEntry `json:"subjects" validate:"required,min=1,dive"`
}

type SubjectCorrectionEntry struct {
	SubjectID string   `json:"subject_id" validate:"required"`
	Internal  *float64 `json:"internal_marks" validate:"omitempty,min=0,max=40"`
	External  *float64 `json:"external_marks" validate:"omitempty,min=0,max=60"`
}

// PublishResults handles POST /api/results/publish (operator only). The
// re-auth check runs before any state is touched.
func (s *Server) PublishResults(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	var req PublishRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.auth.ReAuth(r.Context(), actor, req.ReAuthPassword); err != nil {
		HandleError(w, err)
		return
	}

	outcome, err := s.results.Publish(r.Context(), actor, req.Semester, req.AcademicYear)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, outcome)
}

// RollbackResult handles POST /api/results/{id}/rollback (admin only)
func (s *Server) RollbackResult(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	var req RollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.auth.ReAuth(r.Context(), actor, req.ReAuthPassword); err != nil {
		HandleError(w, err)
		return
	}

	if err := s.results.Rollback(r.Context(), actor, chi.URLParam(r, "id"), req.Reason); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "result rolled back"})
}

// CorrectResult handles POST /api/results/{id}/correct (operator only)
func (s *Server) CorrectResult(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	var req CorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.auth.ReAuth(r.Context(), actor, req.ReAuthPassword); err != nil {
		HandleError(w, err)
		return
	}

	corrections := make([]results.SubjectCorrection, 0, len(req.Subjects))
	for _, sub := range req.Subjects {
		corrections = append(corrections, results.SubjectCorrection{
			SubjectID: sub.SubjectID,
			Internal:  sub.Internal,
			External:  sub.External,
		})
	}

	next, err := s.results.Correct(r.Context(), actor, chi.URLParam(r, "id"), req.Reason, corrections)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, next)
}

// GetResult handles GET /api/results/{id}
func (s *Server) GetResult(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	result, err := s.results.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	if _, err := s.studentInScope(r.Context(), actor, result.StudentID); err != nil {
		HandleError(w, err)
		return
	}
	// Students see only the latest version, never the superseded chain
	if actor.Role == shared.RoleStudent && !result.IsLatest {
		HandleError(w, shared.E(shared.KindNotFound, "result not found"))
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// GetLatestResult handles GET /api/students/{id}/results/{semester}
func (s *Server) GetLatestResult(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)
	studentID := chi.URLParam(r, "id")
	if _, err := s.studentInScope(r.Context(), actor, studentID); err != nil {
		HandleError(w, err)
		return
	}

	semester, err := strconv.Atoi(chi.URLParam(r, "semester"))
	if err != nil {
		HandleError(w, shared.E(shared.KindValidationFailed, "invalid semester"))
		return
	}

	result, err := s.results.Latest(r.Context(), studentID, int32(semester))
	if err != nil {
		HandleError(w, err)
		return
	}
	if result == nil {
		HandleError(w, shared.E(shared.KindNotFound, "no published result for semester %d", semester))
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// GetResultHistory handles GET /api/students/{id}/results/{semester}/history
// (staff only; students never see superseded versions)
func (s *Server) GetResultHistory(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")
	if _, err := s.studentInScope(r.Context(), ActorFrom(r), studentID); err != nil {
		HandleError(w, err)
		return
	}

	semester, err := strconv.Atoi(chi.URLParam(r, "semester"))
	if err != nil {
		HandleError(w, shared.E(shared.KindValidationFailed, "invalid semester"))
		return
	}

	history, err := s.results.History(r.Context(), studentID, int32(semester))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, history)
}

// GetTranscript handles GET /api/students/{id}/transcript
func (s *Server) GetTranscript(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)
	studentID := chi.URLParam(r, "id")
	if _, err := s.studentInScope(r.Context(), actor, studentID); err != nil {
		HandleError(w, err)
		return
	}

	transcript, err := s.results.TranscriptOf(r.Context(), studentID)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, transcript)
}

// GetSemesterSummary handles GET /api/results/summary
// Query Params: semester, academic_year
func (s *Server) GetSemesterSummary(w http.ResponseWriter, r *http.Request) {
	semester, err := strconv.Atoi(r.URL.Query().Get("semester"))
	if err != nil {
		HandleError(w, shared.E(shared.KindValidationFailed, "invalid semester"))
		return
	}
	academicYear := r.URL.Query().Get("academic_year")
	if academicYear == "" {
		HandleError(w, shared.E(shared.KindValidationFailed, "academic_year is required"))
		return
	}

	summary, err := s.results.Summarize(r.Context(), int32(semester), academicYear)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
