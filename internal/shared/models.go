// ============================================================================
// internal/shared/models.go
// Shared data models and structs for MongoDB documents
// ============================================================================

package shared

import (
	"time"
)

// ============================================================================
// Roles and Actor Identity
// ============================================================================

const (
	RoleAdmin    = "admin"
	RoleHOD      = "hod"
	RoleFaculty  = "faculty"
	RoleStudent  = "student"
	RoleOperator = "operator"
)

// Actor kinds. Students and staff authenticate through different collections
// but share the session and audit shape.
const (
	ActorKindUser    = "user"
	ActorKindStudent = "student"
)

// Actor is the resolved caller identity attached to every authorized request.
// Exactly one of the kind-specific scope fields is populated depending on Kind.
type Actor struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // user | student
	Name string `json:"name"`
	Role string `json:"role"`

	// Student scope
	Regno string `json:"regno,omitempty"`

	// Staff scope
	DepartmentID     string   `json:"department_id,omitempty"`
	AssignedSubjects []string `json:"assigned_subjects,omitempty"`
}

// ============================================================================
// User and Student Models
// ============================================================================

// User represents a staff account (faculty, HOD, operator, or admin).
// Students are a separate collection with their own auth flow.
type User struct {
	ID               string    `bson:"_id" json:"id"`
	Username         string    `bson:"username" json:"username"`
	PasswordHash     string    `bson:"password_hash" json:"-"` // Never expose in JSON
	Name             string    `bson:"name" json:"name"`
	Email            string    `bson:"email,omitempty" json:"email,omitempty"`
	Role             string    `bson:"role" json:"role"` // faculty, hod, operator, admin
	DepartmentID     string    `bson:"department_id,omitempty" json:"department_id,omitempty"`
	AssignedSubjects []string  `bson:"assigned_subjects,omitempty" json:"assigned_subjects,omitempty"`
	IsActive         bool      `bson:"is_active" json:"is_active"`
	LastLogin        time.Time `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Student represents an enrolled student.
type Student struct {
	ID              string    `bson:"_id" json:"id"`
	Regno           string    `bson:"regno" json:"regno"` // e.g. 23K61A0501
	Name            string    `bson:"name" json:"name"`
	Gender          string    `bson:"gender" json:"gender"` // M, F, O
	Email           string    `bson:"email,omitempty" json:"email,omitempty"`
	Phone           string    `bson:"phone,omitempty" json:"phone,omitempty"`
	PasswordHash    string    `bson:"password_hash" json:"-"`
	DepartmentID    string    `bson:"department_id" json:"department_id"`
	RegulationID    string    `bson:"regulation_id" json:"regulation_id"`
	BatchYear       int32     `bson:"batch_year" json:"batch_year"`
	CurrentSemester int32     `bson:"current_semester" json:"current_semester"`
	IsActive        bool      `bson:"is_active" json:"is_active"`
	IsSuspended     bool      `bson:"is_suspended" json:"is_suspended"`
	SuspendedReason string    `bson:"suspended_reason,omitempty" json:"suspended_reason,omitempty"`
	FirstLogin      bool      `bson:"first_login" json:"first_login"`
	LastLogin       time.Time `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Session represents an active session (for JWT revocation)
type Session struct {
	ID        string    `bson:"_id" json:"id"`
	ActorID   string    `bson:"actor_id" json:"actor_id"`
	ActorKind string    `bson:"actor_kind" json:"actor_kind"`
	Token     string    `bson:"token" json:"token"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	IPAddress string    `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
}

// IsExpired checks if a session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// ============================================================================
// Reference Data Models
// ============================================================================

// Department represents an academic department
type Department struct {
	ID        string    `bson:"_id" json:"id"`
	Code      string    `bson:"code" json:"code"`
	Name      string    `bson:"name" json:"name"`
	HODUserID string    `bson:"hod_user_id,omitempty" json:"hod_user_id,omitempty"`
	IsActive  bool      `bson:"is_active" json:"is_active"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// GradeBand is one row of a regulation's grade scale
type GradeBand struct {
	Grade    string  `bson:"grade" json:"grade"`
	MinMarks float64 `bson:"min_marks" json:"min_marks"`
	Points   float64 `bson:"points" json:"points"`
}

// Regulation is the academic rule-set governing a batch's curriculum,
// including its own grade scale.
type Regulation struct {
	ID            string      `bson:"_id" json:"id"`
	Code          string      `bson:"code" json:"code"` // e.g. R23
	Name          string      `bson:"name" json:"name"`
	EffectiveFrom int32       `bson:"effective_from" json:"effective_from"`
	GradeScale    []GradeBand `bson:"grade_scale" json:"grade_scale"` // descending by min_marks
	MinPassGrade  string      `bson:"min_pass_grade" json:"min_pass_grade"`
	MinPassMarks  float64     `bson:"min_pass_marks" json:"min_pass_marks"`
	IsActive      bool        `bson:"is_active" json:"is_active"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
}

// Subject types
const (
	SubjectTheory   = "THEORY"
	SubjectLab      = "LAB"
	SubjectProject  = "PROJECT"
	SubjectElective = "ELECTIVE"
)

// Subject represents one subject offering in the catalog
type Subject struct {
	ID           string    `bson:"_id" json:"id"`
	Code         string    `bson:"code" json:"code"`
	Name         string    `bson:"name" json:"name"`
	Credits      float64   `bson:"credits" json:"credits"`
	Type         string    `bson:"type" json:"type"` // THEORY, LAB, PROJECT, ELECTIVE
	Semester     int32     `bson:"semester" json:"semester"`
	RegulationID string    `bson:"regulation_id" json:"regulation_id"`
	IsActive     bool      `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// ============================================================================
// Marks Model
// ============================================================================

// Mark lifecycle states
const (
	MarkDraft     = "DRAFT"
	MarkLocked    = "LOCKED"
	MarkVerified  = "VERIFIED"
	MarkPublished = "PUBLISHED"
)

// Score bounds
const (
	MaxInternalMarks = 40
	MaxExternalMarks = 60
)

// Mark is one student's performance in one subject offering for one
// semester and academic year. Scores are editable only while status is DRAFT.
type Mark struct {
	ID           string   `bson:"_id" json:"id"`
	StudentID    string   `bson:"student_id" json:"student_id"`
	SubjectID    string   `bson:"subject_id" json:"subject_id"`
	Semester     int32    `bson:"semester" json:"semester"`
	AcademicYear string   `bson:"academic_year" json:"academic_year"` // e.g. "2024-25"
	Internal     *float64 `bson:"internal_marks" json:"internal_marks"` // 0-40, nil until entered
	External     *float64 `bson:"external_marks" json:"external_marks"` // 0-60, nil until entered

	// Derived via the grade engine whenever either score changes
	Total       *float64 `bson:"total_marks,omitempty" json:"total_marks,omitempty"`
	Grade       string   `bson:"grade,omitempty" json:"grade,omitempty"`
	GradePoints float64  `bson:"grade_points,omitempty" json:"grade_points,omitempty"`

	Status     string    `bson:"status" json:"status"` // DRAFT, LOCKED, VERIFIED, PUBLISHED
	EnteredBy  string    `bson:"entered_by" json:"entered_by"`
	LockedAt   time.Time `bson:"locked_at,omitempty" json:"locked_at,omitempty"`
	LockedBy   string    `bson:"locked_by,omitempty" json:"locked_by,omitempty"`
	VerifiedAt time.Time `bson:"verified_at,omitempty" json:"verified_at,omitempty"`
	VerifiedBy string    `bson:"verified_by,omitempty" json:"verified_by,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// IsComplete reports whether both score components have been entered.
func (m *Mark) IsComplete() bool {
	return m.Internal != nil && m.External != nil
}

// ============================================================================
// Result Model (immutable snapshots)
// ============================================================================

// Result outcome statuses
const (
	ResultPass     = "PASS"
	ResultFail     = "FAIL"
	ResultDetained = "DETAINED"
)

// ResultSubject is an ordered snapshot of one subject's outcome, with credits
// carried from the catalog at publish time.
type ResultSubject struct {
	SubjectID string   `bson:"subject_id" json:"subject_id"`
	Code      string   `bson:"code" json:"code"`
	Name      string   `bson:"name" json:"name"`
	Credits   float64  `bson:"credits" json:"credits"`
	Internal  *float64 `bson:"internal_marks,omitempty" json:"internal_marks,omitempty"`
	External  *float64 `bson:"external_marks,omitempty" json:"external_marks,omitempty"`
	Total     *float64 `bson:"total_marks,omitempty" json:"total_marks,omitempty"`
	Grade     string   `bson:"grade" json:"grade"`
	// Grade points already weighted by credits (points x credits)
	GradePoints float64 `bson:"grade_points" json:"grade_points"`
}

// Backlog identifies a failed subject requiring re-examination
type Backlog struct {
	SubjectID string `bson:"subject_id" json:"subject_id"`
	Code      string `bson:"code" json:"code"`
	Name      string `bson:"name" json:"name"`
}

// Result is one immutable snapshot of a student's full semester outcome.
// Once written, the only field that may ever change is IsLatest, exactly
// once, when a newer version supersedes it. The storage layer enforces this.
type Result struct {
	ID                string          `bson:"_id" json:"id"`
	StudentID         string          `bson:"student_id" json:"student_id"`
	Semester          int32           `bson:"semester" json:"semester"`
	AcademicYear      string          `bson:"academic_year" json:"academic_year"`
	RegulationID      string          `bson:"regulation_id" json:"regulation_id"`
	Subjects          []ResultSubject `bson:"subjects" json:"subjects"`
	TotalCredits      float64         `bson:"total_credits" json:"total_credits"`
	EarnedCredits     float64         `bson:"earned_credits" json:"earned_credits"`
	TotalGradePoints  float64         `bson:"total_grade_points" json:"total_grade_points"`
	SGPA              float64         `bson:"sgpa" json:"sgpa"`
	Status            string          `bson:"status" json:"status"` // PASS, FAIL, DETAINED
	Backlogs          []Backlog       `bson:"backlogs" json:"backlogs"`
	PublishedAt       time.Time       `bson:"published_at" json:"published_at"`
	PublishedBy       string          `bson:"published_by" json:"published_by"`
	Version           int32           `bson:"version" json:"version"`
	PreviousVersionID string          `bson:"previous_version_id,omitempty" json:"previous_version_id,omitempty"`
	IsLatest          bool            `bson:"is_latest" json:"is_latest"`
}

// ============================================================================
// Audit Log Model
// ============================================================================

// Audit severities
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Audit actions
const (
	ActionLogin            = "LOGIN"
	ActionLogout           = "LOGOUT"
	ActionLoginFailed      = "LOGIN_FAILED"
	ActionMarksEntered     = "MARKS_ENTERED"
	ActionMarksUpdated     = "MARKS_UPDATED"
	ActionMarksLocked      = "MARKS_LOCKED"
	ActionResultVerified   = "RESULT_VERIFIED"
	ActionResultPublished  = "RESULT_PUBLISHED"
	ActionResultRollback   = "RESULT_ROLLBACK"
	ActionResultCorrection = "RESULT_CORRECTION"
	ActionUserCreated      = "USER_CREATED"
	ActionUserUpdated      = "USER_UPDATED"
	ActionUserDeleted      = "USER_DELETED"
	ActionStudentSuspended = "STUDENT_SUSPENDED"
	ActionPasswordChanged  = "PASSWORD_CHANGED"
	ActionAccessDenied     = "ACCESS_DENIED"
	ActionIngestionCommit  = "INGESTION_COMMITTED"
	ActionSystemError      = "SYSTEM_ERROR"
)

// Audit target kinds
const (
	TargetUser      = "user"
	TargetStudent   = "student"
	TargetMarks     = "marks"
	TargetResult    = "result"
	TargetSubject   = "subject"
	TargetSemester  = "semester"
	TargetIngestion = "ingestion"
	TargetSystem    = "system"
)

// AuditLogEntry is an append-only record of a sensitive action. The storage
// layer rejects every update or delete against this collection; entries only
// leave the system through the retention TTL index.
type AuditLogEntry struct {
	ID         string                 `bson:"_id" json:"id"`
	Action     string                 `bson:"action" json:"action"`
	ActorID    string                 `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	ActorKind  string                 `bson:"actor_kind,omitempty" json:"actor_kind,omitempty"`
	ActorName  string                 `bson:"actor_name,omitempty" json:"actor_name,omitempty"`
	ActorRole  string                 `bson:"actor_role,omitempty" json:"actor_role,omitempty"`
	TargetKind string                 `bson:"target_kind,omitempty" json:"target_kind,omitempty"`
	TargetID   string                 `bson:"target_id,omitempty" json:"target_id,omitempty"`
	Details    string                 `bson:"details,omitempty" json:"details,omitempty"` // bounded, 500 chars
	Metadata   map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	IP         string                 `bson:"ip,omitempty" json:"ip,omitempty"`
	Severity   string                 `bson:"severity" json:"severity"`
	CreatedAt  time.Time              `bson:"created_at" json:"created_at"`
}

// MaxAuditDetails bounds the free-text details field
const MaxAuditDetails = 500

// AuditRetention is how long audit entries are kept before the TTL sweep
// removes them. Five years.
const AuditRetention = 5 * 365 * 24 * time.Hour

// ============================================================================
// Ingestion Job Model
// ============================================================================

// Ingestion job states
const (
	JobUploaded     = "UPLOADED"
	JobProcessing   = "PROCESSING"
	JobExtracted    = "EXTRACTED"
	JobValidated    = "VALIDATED"
	JobPreviewReady = "PREVIEW_READY"
	JobCommitted    = "COMMITTED"
	JobFailed       = "FAILED"
	JobCancelled    = "CANCELLED"
)

// Conflict resolutions
const (
	ResolvePending   = "PENDING"
	ResolveSkip      = "SKIP"
	ResolveMerge     = "MERGE"
	ResolveOverwrite = "OVERWRITE"
)

// Ingestion target entities
const (
	IngestStudents = "students"
	IngestSubjects = "subjects"
	IngestMarks    = "marks"
)

// RowIssue is one validation finding against a staged row
type RowIssue struct {
	Row      int    `bson:"row" json:"row"`
	Field    string `bson:"field" json:"field"`
	Value    string `bson:"value,omitempty" json:"value,omitempty"`
	Message  string `bson:"message" json:"message"`
	Severity string `bson:"severity" json:"severity"` // ERROR, WARNING
}

// RowConflict records a staged row that collides with an existing document.
// Conflicts are correlated by the row's natural key (regno or subject code),
// chosen at detection time and carried through to commit.
type RowConflict struct {
	Key        string                 `bson:"key" json:"key"` // natural key of the conflicting row
	ExistingID string                 `bson:"existing_id" json:"existing_id"`
	Existing   map[string]interface{} `bson:"existing,omitempty" json:"existing,omitempty"`
	Incoming   map[string]interface{} `bson:"incoming,omitempty" json:"incoming,omitempty"`
	Resolution string                 `bson:"resolution" json:"resolution"` // PENDING, SKIP, MERGE, OVERWRITE
}

// CommitResult summarizes what a committed job did
type CommitResult struct {
	Created int32 `bson:"created" json:"created"`
	Updated int32 `bson:"updated" json:"updated"`
	Skipped int32 `bson:"skipped" json:"skipped"`
	Failed  int32 `bson:"failed" json:"failed"`
}

// IngestionJob tracks one bulk upload from staging through commit. The job
// document is append-only once COMMITTED.
type IngestionJob struct {
	ID           string                   `bson:"_id" json:"id"`
	FileName     string                   `bson:"file_name" json:"file_name"`
	FileType     string                   `bson:"file_type" json:"file_type"`
	TargetEntity string                   `bson:"target_entity" json:"target_entity"`
	UploadedBy   string                   `bson:"uploaded_by" json:"uploaded_by"`
	Status       string                   `bson:"status" json:"status"`
	Rows         []map[string]interface{} `bson:"rows,omitempty" json:"rows,omitempty"`
	RowCount     int32                    `bson:"row_count" json:"row_count"`
	Errors       []RowIssue               `bson:"errors,omitempty" json:"errors,omitempty"`
	Warnings     []RowIssue               `bson:"warnings,omitempty" json:"warnings,omitempty"`
	Conflicts    []RowConflict            `bson:"conflicts,omitempty" json:"conflicts,omitempty"`
	CommittedAt  time.Time                `bson:"committed_at,omitempty" json:"committed_at,omitempty"`
	CommittedBy  string                   `bson:"committed_by,omitempty" json:"committed_by,omitempty"`
	Commit       CommitResult             `bson:"commit_result,omitempty" json:"commit_result,omitempty"`
	CreatedAt    time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time                `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// ============================================================================
// Rate Limiting Model
// ============================================================================

// RateCounter is a fixed-window bulk-operation counter keyed by actor and
// window start. Persisted so limits survive restarts and apply across
// instances.
type RateCounter struct {
	ID          string    `bson:"_id" json:"id"` // actorID:windowStartUnix
	ActorID     string    `bson:"actor_id" json:"actor_id"`
	WindowStart time.Time `bson:"window_start" json:"window_start"`
	Count       int32     `bson:"count" json:"count"`
}

// Bulk operation throttle: 10 per actor per rolling hour
const (
	BulkRateLimit  = 10
	BulkRateWindow = time.Hour
)
