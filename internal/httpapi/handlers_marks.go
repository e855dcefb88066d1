// ============================================================================
// internal/httpapi/handlers_marks.go
// Marks entry and lifecycle endpoints
// ============================================================================

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"crms/internal/marks"
	"crms/internal/shared"
	"crms/internal/store"
)

// EnterMarksRequest mirrors the JSON input for POST /api/marks
type EnterMarksRequest struct {
	StudentID    string   `json:"student_id" validate:"required"`
	SubjectID    string   `json:"subject_id" validate:"required"`
	Semester     int32    `json:"semester" validate:"required,min=1,max=8"`
	AcademicYear string   `json:"academic_year" validate:"required"`
	Internal     *float64 `json:"internal_marks" validate:"omitempty,min=0,max=40"`
	External     *float64 `json:"external_marks" validate:"omitempty,min=0,max=60"`
}

// MarksScopeRequest mirrors the JSON input for lock and verify endpoints
type MarksScopeRequest struct {
	SubjectID    string `json:"subject_id" validate:"required"`
	Semester     int32  `json:"semester" validate:"required,min=1,max=8"`
	AcademicYear string `json:"academic_year" validate:"required"`
}

// LockSemesterRequest mirrors the JSON input for POST /api/marks/lock-semester
type LockSemesterRequest struct {
	Semester       int32  `json:"semester" validate:"required,min=1,max=8"`
	AcademicYear   string `json:"academic_year" validate:"required"`
	ReAuthPassword string `json:"reauth_password"`
}

// EnterMarks handles POST /api/marks
func (s *Server) EnterMarks(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	var req EnterMarksRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}
	if !canManageSubject(actor, req.SubjectID) {
		HandleError(w, shared.E(shared.KindAuthorization, "subject is not assigned to you"))
		return
	}

	mark, err := s.marks.Enter(r.Context(), actor, marks.EnterRequest{
		StudentID:    req.StudentID,
		SubjectID:    req.SubjectID,
		Semester:     req.Semester,
		AcademicYear: req.AcademicYear,
		Internal:     req.Internal,
		External:     req.External,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, mark)
}

// LockMarks handles POST /api/marks/lock
func (s *Server) LockMarks(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	var req MarksScopeRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}
	if !canManageSubject(actor, req.SubjectID) {
		HandleError(w, shared.E(shared.KindAuthorization, "subject is not assigned to you"))
		return
	}

	n, err := s.marks.Lock(r.Context(), actor, req.SubjectID, req.Semester, req.AcademicYear)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"locked_count": n})
}

// LockSemesterMarks handles POST /api/marks/lock-semester (operator only,
// throttled). The re-auth check runs before any mark is touched.
func (s *Server) LockSemesterMarks(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	var req LockSemesterRequest
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

	n, err := s.marks.LockSemester(r.Context(), actor, req.Semester, req.AcademicYear)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"locked_count": n})
}

// VerifyMarks handles POST /api/marks/verify (HOD and admin)
func (s *Server) VerifyMarks(w http.ResponseWriter, r *http.Request) {
	var req MarksScopeRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	n, err := s.marks.Verify(r.Context(), ActorFrom(r), req.SubjectID, req.Semester, req.AcademicYear)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"verified_count": n})
}

// ListMarks handles GET /api/marks
// Query Params: student_id, subject_id, semester, academic_year, status
func (s *Server) ListMarks(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)
	q := r.URL.Query()

	filter := store.MarkFilter{
		StudentID:    q.Get("student_id"),
		SubjectID:    q.Get("subject_id"),
		AcademicYear: q.Get("academic_year"),
		Status:       q.Get("status"),
	}
	if sem, err := strconv.Atoi(q.Get("semester")); err == nil {
		filter.Semester = int32(sem)
	}

	// Students only ever see their own published marks
	if actor.Role == shared.RoleStudent {
		filter.StudentID = actor.ID
		filter.Status = shared.MarkPublished
	} else {
		if filter.StudentID != "" {
			if _, err := s.studentInScope(r.Context(), actor, filter.StudentID); err != nil {
				HandleError(w, err)
				return
			}
		}
		// Faculty browse only their assigned subjects; an empty assignment
		// matches nothing
		if actor.Role == shared.RoleFaculty {
			if filter.SubjectID != "" {
				if !canManageSubject(actor, filter.SubjectID) {
					HandleError(w, shared.E(shared.KindAuthorization, "subject is not assigned to you"))
					return
				}
			} else {
				filter.SubjectIDs = append([]string{}, actor.AssignedSubjects...)
			}
		}
	}

	list, err := s.marks.List(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

// GetMarksStatus handles GET /api/marks/status
// Query Params: subject_id, semester, academic_year
// Returns the per-status count breakdown for the scoped marks, so the HOD can
// see how far along entry/locking/verification is before publish.
func (s *Server) GetMarksStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.MarkFilter{
		SubjectID:    q.Get("subject_id"),
		AcademicYear: q.Get("academic_year"),
	}
	if sem, err := strconv.Atoi(q.Get("semester")); err == nil {
		filter.Semester = int32(sem)
	}

	counts, err := s.store.CountMarksByStatus(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"total": total, "by_status": counts})
}

// GetMark handles GET /api/marks/{id}
func (s *Server) GetMark(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)

	mark, err := s.marks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	if _, err := s.studentInScope(r.Context(), actor, mark.StudentID); err != nil {
		HandleError(w, err)
		return
	}
	if actor.Role == shared.RoleFaculty && !canManageSubject(actor, mark.SubjectID) {
		HandleError(w, shared.E(shared.KindAuthorization, "subject is not assigned to you"))
		return
	}
	if actor.Role == shared.RoleStudent && mark.Status != shared.MarkPublished {
		HandleError(w, shared.E(shared.KindNotFound, "mark not found"))
		return
	}
	WriteJSON(w, http.StatusOK, mark)
}
