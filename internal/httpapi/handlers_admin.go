// ============================================================================
// internal/httpapi/handlers_admin.go
// Reference data administration: users, students, departments, regulations,
// subjects, audit trail access, dashboard stats.
// ============================================================================

package httpapi

import (
	"encoding/csv"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/bcrypt"

	"crms/internal/audit"
	"crms/internal/shared"
	"crms/internal/store"
)

// CreateUserRequest mirrors the JSON input for POST /api/admin/users
type CreateUserRequest struct {
	Username         string   `json:"username" validate:"required,min=3"`
	Password         string   `json:"password" validate:"required,min=8"`
	Name             string   `json:"name" validate:"required"`
	Email            string   `json:"email" validate:"omitempty,email"`
	Role             string   `json:"role" validate:"required,oneof=admin hod faculty operator"`
	DepartmentID     string   `json:"department_id"`
	AssignedSubjects []string `json:"assigned_subjects"`
}

// CreateStudentRequest mirrors the JSON input for POST /api/admin/students
type CreateStudentRequest struct {
	Regno           string `json:"regno" validate:"required"`
	Name            string `json:"name" validate:"required"`
	Gender          string `json:"gender" validate:"omitempty,oneof=M F O"`
	Email           string `json:"email" validate:"omitempty,email"`
	Phone           string `json:"phone"`
	Password        string `json:"password" validate:"required,min=8"`
	DepartmentID    string `json:"department_id" validate:"required"`
	RegulationID    string `json:"regulation_id" validate:"required"`
	BatchYear       int32  `json:"batch_year" validate:"required,min=2000,max=2100"`
	CurrentSemester int32  `json:"current_semester" validate:"omitempty,min=1,max=8"`
}

// SuspendStudentRequest mirrors the JSON input for POST /api/admin/students/{id}/suspend
type SuspendStudentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CreateDepartmentRequest mirrors the JSON input for POST /api/admin/departments
type CreateDepartmentRequest struct {
	Code      string `json:"code" validate:"required"`
	Name      string `json:"name" validate:"required"`
	HODUserID string `json:"hod_user_id"`
}

// UpdateDepartmentRequest mirrors the JSON input for PUT /api/admin/departments/{id}
type UpdateDepartmentRequest struct {
	Name      string `json:"name"`
	HODUserID string `json:"hod_user_id"`
	IsActive  *bool  `json:"is_active"`
}

// CreateSubjectRequest mirrors the JSON input for POST /api/admin/subjects
type CreateSubjectRequest struct {
	Code         string  `json:"code" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	Credits      float64 `json:"credits" validate:"required,gt=0,max=10"`
	Type         string  `json:"type" validate:"required,oneof=THEORY LAB PROJECT ELECTIVE"`
	Semester     int32   `json:"semester" validate:"required,min=1,max=8"`
	RegulationID string  `json:"regulation_id" validate:"required"`
}

// UpdateSubjectRequest mirrors the JSON input for PUT /api/admin/subjects/{id}
type UpdateSubjectRequest struct {
	Name     string   `json:"name"`
	Credits  *float64 `json:"credits" validate:"omitempty,gt=0,max=10"`
	Type     string   `json:"type" validate:"omitempty,oneof=THEORY LAB PROJECT ELECTIVE"`
	IsActive *bool    `json:"is_active"`
}

// GradeBandEntry is one row of a submitted grade scale.
type GradeBandEntry struct {
	Grade    string  `json:"grade" validate:"required"`
	MinMarks float64 `json:"min_marks" validate:"min=0,max=100"`
	Points   float64 `json:"points" validate:"min=0,max=10"`
}

// CreateRegulationRequest mirrors the JSON input for POST /api/admin/regulations
type CreateRegulationRequest struct {
	Code          string           `json:"code" validate:"required"`
	Name          string           `json:"name" validate:"required"`
	EffectiveFrom int32            `json:"effective_from" validate:"required,min=2000,max=2100"`
	GradeScale    []GradeBandEntry `json:"grade_scale" validate:"required,min=2,dive"`
	MinPassGrade  string           `json:"min_pass_grade" validate:"required"`
	MinPassMarks  float64          `json:"min_pass_marks" validate:"min=0,max=100"`
}

// CreateUser handles POST /api/admin/users
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.Security.BCryptCost)
	if err != nil {
		HandleError(w, shared.Wrap(shared.KindInternal, err, "password hashing failed"))
		return
	}

	user := &shared.User{
		ID:               shared.GenerateID("user"),
		Username:         req.Username,
		PasswordHash:     string(hash),
		Name:             req.Name,
		Email:            req.Email,
		Role:             req.Role,
		DepartmentID:     req.DepartmentID,
		AssignedSubjects: req.AssignedSubjects,
		IsActive:         true,
		CreatedAt:        time.Now(),
	}
	if err := s.store.InsertUser(r.Context(), user); err != nil {
		HandleError(w, err)
		return
	}

	s.auditor.Record(r.Context(), audit.Entry{
		Action:     shared.ActionUserCreated,
		Actor:      ActorFrom(r),
		TargetKind: shared.TargetUser,
		TargetID:   user.ID,
		Details:    req.Username + " (" + req.Role + ")",
	})
	WriteJSON(w, http.StatusCreated, user)
}

// ListUsers handles GET /api/admin/users
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	var roles []string
	if role := r.URL.Query().Get("role"); role != "" {
		roles = []string{role}
	}
	users, err := s.store.ListUsers(r.Context(), roles)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, users)
}

// DeactivateUser handles DELETE /api/admin/users/{id} (soft delete)
func (s *Server) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.UpdateUser(r.Context(), id, bson.M{"is_active": false}); err != nil {
		HandleError(w, err)
		return
	}

	s.auditor.Record(r.Context(), audit.Entry{
		Action:     shared.ActionUserDeleted,
		Actor:      ActorFrom(r),
		TargetKind: shared.TargetUser,
		TargetID:   id,
		Severity:   shared.SeverityWarning,
	})
	WriteJSON(w, http.StatusOK, map[string]string{"message": "user deactivated"})
}

// CreateStudent handles POST /api/admin/students
func (s *Server) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.Security.BCryptCost)
	if err != nil {
		HandleError(w, shared.Wrap(shared.KindInternal, err, "password hashing failed"))
		return
	}

	student := &shared.Student{
		ID:              shared.GenerateID("stu"),
		Regno:           req.Regno,
		Name:            req.Name,
		Gender:          req.Gender,
		Email:           req.Email,
		Phone:           req.Phone,
		PasswordHash:    string(hash),
		DepartmentID:    req.DepartmentID,
		RegulationID:    req.RegulationID,
		BatchYear:       req.BatchYear,
		CurrentSemester: 1,
		IsActive:        true,
		FirstLogin:      true,
		CreatedAt:       time.Now(),
	}
	if req.CurrentSemester > 0 {
		student.CurrentSemester = req.CurrentSemester
	}
	if err := s.store.InsertStudent(r.Context(), student); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, student)
}

// ListStudents handles GET /api/students
// Query Params: search, semester, batch_year, department_id, page, limit
func (s *Server) ListStudents(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r)
	q := r.URL.Query()
	filter := store.StudentFilter{
		Search:       q.Get("search"),
		DepartmentID: q.Get("department_id"),
	}
	// HOD and faculty list only their own department, whatever they asked for
	if actor.Role == shared.RoleHOD || actor.Role == shared.RoleFaculty {
		if actor.DepartmentID == "" {
			HandleError(w, shared.E(shared.KindAuthorization, "no department assigned"))
			return
		}
		filter.DepartmentID = actor.DepartmentID
	}
	if sem, err := strconv.Atoi(q.Get("semester")); err == nil {
		filter.Semester = int32(sem)
	}
	if year, err := strconv.Atoi(q.Get("batch_year")); err == nil {
		filter.BatchYear = int32(year)
	}
	if page, err := strconv.ParseInt(q.Get("page"), 10, 64); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.ParseInt(q.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}

	students, total, err := s.store.ListStudents(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"students": students, "total": total})
}

// GetStudent handles GET /api/students/{id}
func (s *Server) GetStudent(w http.ResponseWriter, r *http.Request) {
	student, err := s.studentInScope(r.Context(), ActorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, student)
}

// SuspendStudent handles POST /api/admin/students/{id}/suspend
func (s *Server) SuspendStudent(w http.ResponseWriter, r *http.Request) {
	var req SuspendStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	err := s.store.UpdateStudent(r.Context(), id, bson.M{
		"is_suspended":     true,
		"suspended_reason": req.Reason,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	// Suspension revokes live sessions immediately
	if err := s.store.DeleteSessionsByActor(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}

	s.auditor.Record(r.Context(), audit.Entry{
		Action:     shared.ActionStudentSuspended,
		Actor:      ActorFrom(r),
		TargetKind: shared.TargetStudent,
		TargetID:   id,
		Details:    req.Reason,
		Severity:   shared.SeverityWarning,
	})
	WriteJSON(w, http.StatusOK, map[string]string{"message": "student suspended"})
}

// CreateDepartment handles POST /api/admin/departments
func (s *Server) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req CreateDepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	dept := &shared.Department{
		ID:        shared.GenerateID("dept"),
		Code:      req.Code,
		Name:      req.Name,
		HODUserID: req.HODUserID,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.store.InsertDepartment(r.Context(), dept); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, dept)
}

// UpdateDepartment handles PUT /api/admin/departments/{id}
func (s *Server) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	var req UpdateDepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	set := bson.M{}
	if req.Name != "" {
		set["name"] = req.Name
	}
	if req.HODUserID != "" {
		set["hod_user_id"] = req.HODUserID
	}
	if req.IsActive != nil {
		set["is_active"] = *req.IsActive
	}
	if len(set) == 0 {
		HandleError(w, shared.E(shared.KindValidationFailed, "no fields to update"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.UpdateDepartment(r.Context(), id, set); err != nil {
		HandleError(w, err)
		return
	}

	dept, err := s.store.GetDepartment(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dept)
}

// CreateSubject handles POST /api/admin/subjects
func (s *Server) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	// One offering per code within a regulation and semester
	if _, err := s.store.FindSubjectByCode(r.Context(), req.Code, req.RegulationID, req.Semester); err == nil {
		HandleError(w, shared.E(shared.KindConflict, "subject %s already exists for this regulation and semester", req.Code))
		return
	} else if !shared.IsKind(err, shared.KindNotFound) {
		HandleError(w, err)
		return
	}

	subject := &shared.Subject{
		ID:           shared.GenerateID("sub"),
		Code:         req.Code,
		Name:         req.Name,
		Credits:      req.Credits,
		Type:         req.Type,
		Semester:     req.Semester,
		RegulationID: req.RegulationID,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := s.store.InsertSubject(r.Context(), subject); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, subject)
}

// UpdateSubject handles PUT /api/admin/subjects/{id}. Code, semester, and
// regulation are fixed at creation; marks already reference the offering.
func (s *Server) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubjectRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	set := bson.M{}
	if req.Name != "" {
		set["name"] = req.Name
	}
	if req.Credits != nil {
		set["credits"] = *req.Credits
	}
	if req.Type != "" {
		set["type"] = req.Type
	}
	if req.IsActive != nil {
		set["is_active"] = *req.IsActive
	}
	if len(set) == 0 {
		HandleError(w, shared.E(shared.KindValidationFailed, "no fields to update"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.UpdateSubject(r.Context(), id, set); err != nil {
		HandleError(w, err)
		return
	}

	subject, err := s.store.GetSubject(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, subject)
}

// CreateRegulation handles POST /api/admin/regulations
func (s *Server) CreateRegulation(w http.ResponseWriter, r *http.Request) {
	var req CreateRegulationRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	scale := make([]shared.GradeBand, 0, len(req.GradeScale))
	for _, band := range req.GradeScale {
		scale = append(scale, shared.GradeBand{Grade: band.Grade, MinMarks: band.MinMarks, Points: band.Points})
	}
	// The scale must be descending by min_marks and end at a zero floor, or
	// some totals would fall through every band.
	for i := 1; i < len(scale); i++ {
		if scale[i].MinMarks >= scale[i-1].MinMarks {
			HandleError(w, shared.E(shared.KindValidationFailed, "grade scale must be strictly descending by min_marks"))
			return
		}
	}
	if scale[len(scale)-1].MinMarks != 0 {
		HandleError(w, shared.E(shared.KindValidationFailed, "grade scale must end with a band at min_marks 0"))
		return
	}

	reg := &shared.Regulation{
		ID:            shared.GenerateID("reg"),
		Code:          req.Code,
		Name:          req.Name,
		EffectiveFrom: req.EffectiveFrom,
		GradeScale:    scale,
		MinPassGrade:  req.MinPassGrade,
		MinPassMarks:  req.MinPassMarks,
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	if err := s.store.InsertRegulation(r.Context(), reg); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, reg)
}

// ListDepartments handles GET /api/departments
func (s *Server) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := s.store.ListDepartments(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, departments)
}

// ListRegulations handles GET /api/regulations
func (s *Server) ListRegulations(w http.ResponseWriter, r *http.Request) {
	regulations, err := s.store.ListRegulations(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, regulations)
}

// ListSubjects handles GET /api/subjects
// Query Params: semester, regulation_id
func (s *Server) ListSubjects(w http.ResponseWriter, r *http.Request) {
	var semester int32
	if sem, err := strconv.Atoi(r.URL.Query().Get("semester")); err == nil {
		semester = int32(sem)
	}

	subjects, err := s.store.ListSubjects(r.Context(), semester, r.URL.Query().Get("regulation_id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, subjects)
}

// ListAuditLog handles GET /api/admin/audit
// Query Params: actor_id, action, severity, from, to, page, limit
func (s *Server) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		ActorID:  q.Get("actor_id"),
		Action:   q.Get("action"),
		Severity: q.Get("severity"),
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		filter.To = to
	}
	if page, err := strconv.ParseInt(q.Get("page"), 10, 64); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.ParseInt(q.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}

	entries, total, err := s.auditor.List(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": total})
}

// exportPageSize keeps export queries within the listing cap.
const exportPageSize = 200

// ExportAuditLog handles GET /api/admin/audit/export
// Streams the filtered audit trail as CSV. Same query params as ListAuditLog
// minus pagination; the export walks every page itself.
func (s *Server) ExportAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		ActorID:  q.Get("actor_id"),
		Action:   q.Get("action"),
		Severity: q.Get("severity"),
		Limit:    exportPageSize,
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		filter.To = to
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-log.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"created_at", "action", "severity", "actor_id", "actor_name", "actor_role", "target_kind", "target_id", "ip", "details"})

	for page := int64(1); ; page++ {
		filter.Page = page
		entries, _, err := s.auditor.List(r.Context(), filter)
		if err != nil {
			// Headers are gone; all we can do is stop the stream and log.
			log.Printf("Warning: audit export aborted on page %d: %v", page, err)
			return
		}
		for _, e := range entries {
			_ = cw.Write([]string{
				e.CreatedAt.Format(time.RFC3339),
				e.Action,
				e.Severity,
				e.ActorID,
				e.ActorName,
				e.ActorRole,
				e.TargetKind,
				e.TargetID,
				e.IP,
				e.Details,
			})
		}
		if int64(len(entries)) < exportPageSize {
			break
		}
		cw.Flush()
	}
	cw.Flush()
}

// GetDashboardStats handles GET /api/admin/stats
func (s *Server) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	students, err := s.store.CountStudents(ctx)
	if err != nil {
		HandleError(w, err)
		return
	}
	published, err := s.store.CountResults(ctx, store.ResultFilter{LatestOnly: true})
	if err != nil {
		HandleError(w, err)
		return
	}
	pendingMarks, err := s.store.CountMarks(ctx, store.MarkFilter{Status: shared.MarkDraft})
	if err != nil {
		HandleError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active_students":   students,
		"published_results": published,
		"draft_marks":       pendingMarks,
	})
}
