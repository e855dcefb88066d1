// ============================================================================
// internal/marks/service.go
// Marks lifecycle: entry and update in DRAFT, lock, verify. Publication is
// owned by the results service.
// ============================================================================

package marks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"crms/internal/audit"
	"crms/internal/grades"
	"crms/internal/shared"
	"crms/internal/store"
)

// Storage is the subset of the store the marks service needs.
type Storage interface {
	GetStudent(ctx context.Context, id string) (*shared.Student, error)
	GetStudentsByIDs(ctx context.Context, ids []string) (map[string]shared.Student, error)
	GetSubject(ctx context.Context, id string) (*shared.Subject, error)
	GetRegulation(ctx context.Context, id string) (*shared.Regulation, error)

	GetMark(ctx context.Context, id string) (*shared.Mark, error)
	FindMark(ctx context.Context, studentID, subjectID string, semester int32, academicYear string) (*shared.Mark, error)
	InsertMark(ctx context.Context, m *shared.Mark) error
	UpdateMarkScores(ctx context.Context, m *shared.Mark) error
	ListMarks(ctx context.Context, f store.MarkFilter) ([]shared.Mark, error)
	LockMarks(ctx context.Context, subjectID string, semester int32, academicYear, lockedBy string) (int64, error)
	LockSemesterMarks(ctx context.Context, semester int32, academicYear, lockedBy string) (int64, error)
	VerifyMarks(ctx context.Context, subjectID string, semester int32, academicYear, verifiedBy string) (int64, error)
}

// Service implements marks entry and the DRAFT -> LOCKED -> VERIFIED
// transitions.
type Service struct {
	storage Storage
	auditor *audit.Recorder
}

// NewService creates the marks service.
func NewService(storage Storage, auditor *audit.Recorder) *Service {
	return &Service{storage: storage, auditor: auditor}
}

// EnterRequest carries one score entry or update. Either component may be
// nil, meaning "leave as is" on update and "not yet entered" on create.
type EnterRequest struct {
	StudentID    string
	SubjectID    string
	Semester     int32
	AcademicYear string
	Internal     *float64
	External     *float64
}

// Enter records or updates a student's scores for one subject. Scores are
// validated against their component bounds, the grade fields are derived
// whenever both components are present, and the write is rejected once the
// mark has left DRAFT.
func (s *Service) Enter(ctx context.Context, actor *shared.Actor, req EnterRequest) (*shared.Mark, error) {
	if err := validateScores(req.Internal, req.External); err != nil {
		return nil, err
	}
	if req.Semester < 1 || req.Semester > 8 {
		return nil, shared.E(shared.KindValidationFailed, "semester %d outside valid range [1,8]", req.Semester)
	}

	student, err := s.storage.GetStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	subject, err := s.storage.GetSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}

	existing, err := s.storage.FindMark(ctx, req.StudentID, req.SubjectID, req.Semester, req.AcademicYear)
	if err != nil && !shared.IsKind(err, shared.KindNotFound) {
		return nil, err
	}

	mark := existing
	action := shared.ActionMarksUpdated
	if mark == nil {
		action = shared.ActionMarksEntered
		mark = &shared.Mark{
			ID:           shared.GenerateID("mark"),
			StudentID:    req.StudentID,
			SubjectID:    req.SubjectID,
			Semester:     req.Semester,
			AcademicYear: req.AcademicYear,
			Status:       shared.MarkDraft,
			CreatedAt:    time.Now(),
		}
	} else if mark.Status != shared.MarkDraft {
		return nil, shared.E(shared.KindLockedRecord, "cannot modify marks after locking (status %s)", mark.Status)
	}

	if req.Internal != nil {
		mark.Internal = req.Internal
	}
	if req.External != nil {
		mark.External = req.External
	}
	mark.EnteredBy = actor.ID

	if err := s.derive(ctx, student, mark); err != nil {
		return nil, err
	}

	if existing == nil {
		err = s.storage.InsertMark(ctx, mark)
	} else {
		err = s.storage.UpdateMarkScores(ctx, mark)
	}
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     action,
		Actor:      actor,
		TargetKind: shared.TargetMarks,
		TargetID:   mark.ID,
		Details:    fmt.Sprintf("%s %s sem %d (%s)", student.Regno, subject.Code, mark.Semester, mark.AcademicYear),
	})
	return mark, nil
}

// derive recomputes the total and grade fields from the entered components
// using the student's regulation scale. Partial entries leave the derived
// fields empty.
func (s *Service) derive(ctx context.Context, student *shared.Student, mark *shared.Mark) error {
	if !mark.IsComplete() {
		mark.Total = nil
		mark.Grade = ""
		mark.GradePoints = 0
		return nil
	}

	reg, err := s.storage.GetRegulation(ctx, student.RegulationID)
	if err != nil && !shared.IsKind(err, shared.KindNotFound) {
		return err
	}

	total := *mark.Internal + *mark.External
	grade, points, err := grades.ScaleFor(reg).GradeOf(total)
	if err != nil {
		return err
	}
	mark.Total = &total
	mark.Grade = grade
	mark.GradePoints = points
	return nil
}

func validateScores(internal, external *float64) error {
	if internal != nil && (*internal < 0 || *internal > shared.MaxInternalMarks) {
		return shared.E(shared.KindValidationFailed,
			"internal marks %.2f outside valid range [0,%d]", *internal, shared.MaxInternalMarks)
	}
	if external != nil && (*external < 0 || *external > shared.MaxExternalMarks) {
		return shared.E(shared.KindValidationFailed,
			"external marks %.2f outside valid range [0,%d]", *external, shared.MaxExternalMarks)
	}
	return nil
}

// Lock transitions every DRAFT mark for a subject offering to LOCKED,
// all-or-nothing: if any student's entry is incomplete, nothing locks and the
// error names the students still missing scores.
func (s *Service) Lock(ctx context.Context, actor *shared.Actor, subjectID string, semester int32, academicYear string) (int64, error) {
	drafts, err := s.storage.ListMarks(ctx, store.MarkFilter{
		SubjectID:    subjectID,
		Semester:     semester,
		AcademicYear: academicYear,
		Status:       shared.MarkDraft,
	})
	if err != nil {
		return 0, err
	}
	if len(drafts) == 0 {
		return 0, shared.E(shared.KindValidationFailed, "no draft marks to lock for this subject offering")
	}

	var incompleteIDs []string
	for _, m := range drafts {
		if !m.IsComplete() {
			incompleteIDs = append(incompleteIDs, m.StudentID)
		}
	}
	if len(incompleteIDs) > 0 {
		return 0, shared.E(shared.KindValidationFailed,
			"cannot lock: incomplete marks for students %s", strings.Join(s.regnosOf(ctx, incompleteIDs), ", "))
	}

	n, err := s.storage.LockMarks(ctx, subjectID, semester, academicYear, actor.ID)
	if err != nil {
		return 0, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     shared.ActionMarksLocked,
		Actor:      actor,
		TargetKind: shared.TargetSubject,
		TargetID:   subjectID,
		Details:    fmt.Sprintf("locked %d marks, sem %d (%s)", n, semester, academicYear),
		Severity:   shared.SeverityWarning,
	})
	return n, nil
}

// LockSemester sweeps every remaining DRAFT mark across a whole semester
// into LOCKED, the examinations-cell step before verification and publish.
// Same all-or-nothing rule as Lock: any incomplete entry blocks the sweep
// and the error names the students still missing scores.
func (s *Service) LockSemester(ctx context.Context, actor *shared.Actor, semester int32, academicYear string) (int64, error) {
	drafts, err := s.storage.ListMarks(ctx, store.MarkFilter{
		Semester:     semester,
		AcademicYear: academicYear,
		Status:       shared.MarkDraft,
	})
	if err != nil {
		return 0, err
	}
	if len(drafts) == 0 {
		return 0, shared.E(shared.KindValidationFailed,
			"no draft marks to lock for semester %d (%s)", semester, academicYear)
	}

	var incompleteIDs []string
	for _, m := range drafts {
		if !m.IsComplete() {
			incompleteIDs = append(incompleteIDs, m.StudentID)
		}
	}
	if len(incompleteIDs) > 0 {
		return 0, shared.E(shared.KindValidationFailed,
			"cannot lock: incomplete marks for students %s", strings.Join(s.regnosOf(ctx, incompleteIDs), ", "))
	}

	n, err := s.storage.LockSemesterMarks(ctx, semester, academicYear, actor.ID)
	if err != nil {
		return 0, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     shared.ActionMarksLocked,
		Actor:      actor,
		TargetKind: shared.TargetSemester,
		TargetID:   fmt.Sprintf("%d:%s", semester, academicYear),
		Details:    fmt.Sprintf("semester-wide lock of %d marks, sem %d (%s)", n, semester, academicYear),
		Severity:   shared.SeverityWarning,
	})
	return n, nil
}

// Verify transitions every LOCKED mark for a subject offering to VERIFIED.
// Verifying an empty scope is a validation error, not a silent success.
func (s *Service) Verify(ctx context.Context, actor *shared.Actor, subjectID string, semester int32, academicYear string) (int64, error) {
	n, err := s.storage.VerifyMarks(ctx, subjectID, semester, academicYear, actor.ID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, shared.E(shared.KindValidationFailed, "no locked marks to verify for this subject offering")
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     shared.ActionResultVerified,
		Actor:      actor,
		TargetKind: shared.TargetSubject,
		TargetID:   subjectID,
		Details:    fmt.Sprintf("verified %d marks, sem %d (%s)", n, semester, academicYear),
		Severity:   shared.SeverityWarning,
	})
	return n, nil
}

// List returns marks in scope.
func (s *Service) List(ctx context.Context, f store.MarkFilter) ([]shared.Mark, error) {
	return s.storage.ListMarks(ctx, f)
}

// Get fetches one mark by ID.
func (s *Service) Get(ctx context.Context, id string) (*shared.Mark, error) {
	return s.storage.GetMark(ctx, id)
}

// regnosOf resolves student IDs to registration numbers for error messages,
// falling back to the raw ID when the lookup fails.
func (s *Service) regnosOf(ctx context.Context, ids []string) []string {
	byID, err := s.storage.GetStudentsByIDs(ctx, ids)
	regnos := make([]string, 0, len(ids))
	for _, id := range ids {
		if err == nil {
			if st, ok := byID[id]; ok {
				regnos = append(regnos, st.Regno)
				continue
			}
		}
		regnos = append(regnos, id)
	}
	sort.Strings(regnos)
	return regnos
}
