package marks

import (
	"context"
	"strings"
	"testing"
	"time"

	"crms/internal/audit"
	"crms/internal/shared"
	"crms/internal/store"
)

// fakeStorage is an in-memory Storage for service tests.
type fakeStorage struct {
	students    map[string]shared.Student
	subjects    map[string]shared.Subject
	regulations map[string]shared.Regulation
	marks       map[string]*shared.Mark

	auditEntries []shared.AuditLogEntry
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		students:    map[string]shared.Student{},
		subjects:    map[string]shared.Subject{},
		regulations: map[string]shared.Regulation{},
		marks:       map[string]*shared.Mark{},
	}
}

func (f *fakeStorage) GetStudent(_ context.Context, id string) (*shared.Student, error) {
	st, ok := f.students[id]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "student not found")
	}
	return &st, nil
}

func (f *fakeStorage) GetStudentsByIDs(_ context.Context, ids []string) (map[string]shared.Student, error) {
	out := map[string]shared.Student{}
	for _, id := range ids {
		if st, ok := f.students[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (f *fakeStorage) GetSubject(_ context.Context, id string) (*shared.Subject, error) {
	sub, ok := f.subjects[id]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "subject not found")
	}
	return &sub, nil
}

func (f *fakeStorage) GetRegulation(_ context.Context, id string) (*shared.Regulation, error) {
	r, ok := f.regulations[id]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "regulation not found")
	}
	return &r, nil
}

func (f *fakeStorage) GetMark(_ context.Context, id string) (*shared.Mark, error) {
	m, ok := f.marks[id]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "mark not found")
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStorage) FindMark(_ context.Context, studentID, subjectID string, semester int32, academicYear string) (*shared.Mark, error) {
	for _, m := range f.marks {
		if m.StudentID == studentID && m.SubjectID == subjectID && m.Semester == semester && m.AcademicYear == academicYear {
			cp := *m
			return &cp, nil
		}
	}
	return nil, shared.E(shared.KindNotFound, "mark not found")
}

func (f *fakeStorage) InsertMark(_ context.Context, m *shared.Mark) error {
	cp := *m
	f.marks[m.ID] = &cp
	return nil
}

func (f *fakeStorage) UpdateMarkScores(_ context.Context, m *shared.Mark) error {
	cur, ok := f.marks[m.ID]
	if !ok || cur.Status != shared.MarkDraft {
		return shared.E(shared.KindLockedRecord, "cannot modify marks after locking")
	}
	cur.Internal = m.Internal
	cur.External = m.External
	cur.Total = m.Total
	cur.Grade = m.Grade
	cur.GradePoints = m.GradePoints
	cur.EnteredBy = m.EnteredBy
	return nil
}

func (f *fakeStorage) ListMarks(_ context.Context, flt store.MarkFilter) ([]shared.Mark, error) {
	var out []shared.Mark
	for _, m := range f.marks {
		if flt.SubjectID != "" && m.SubjectID != flt.SubjectID {
			continue
		}
		if flt.StudentID != "" && m.StudentID != flt.StudentID {
			continue
		}
		if flt.Semester > 0 && m.Semester != flt.Semester {
			continue
		}
		if flt.AcademicYear != "" && m.AcademicYear != flt.AcademicYear {
			continue
		}
		if flt.Status != "" && m.Status != flt.Status {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeStorage) LockMarks(_ context.Context, subjectID string, semester int32, academicYear, lockedBy string) (int64, error) {
	var n int64
	for _, m := range f.marks {
		if m.SubjectID == subjectID && m.Semester == semester && m.AcademicYear == academicYear && m.Status == shared.MarkDraft {
			m.Status = shared.MarkLocked
			m.LockedBy = lockedBy
			m.LockedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (f *fakeStorage) LockSemesterMarks(_ context.Context, semester int32, academicYear, lockedBy string) (int64, error) {
	var n int64
	for _, m := range f.marks {
		if m.Semester == semester && m.AcademicYear == academicYear && m.Status == shared.MarkDraft {
			m.Status = shared.MarkLocked
			m.LockedBy = lockedBy
			m.LockedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (f *fakeStorage) VerifyMarks(_ context.Context, subjectID string, semester int32, academicYear, verifiedBy string) (int64, error) {
	var n int64
	for _, m := range f.marks {
		if m.SubjectID == subjectID && m.Semester == semester && m.AcademicYear == academicYear && m.Status == shared.MarkLocked {
			m.Status = shared.MarkVerified
			m.VerifiedBy = verifiedBy
			m.VerifiedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (f *fakeStorage) InsertAuditEntry(_ context.Context, e *shared.AuditLogEntry) error {
	f.auditEntries = append(f.auditEntries, *e)
	return nil
}

func (f *fakeStorage) ListAuditEntries(_ context.Context, _ store.AuditFilter) ([]shared.AuditLogEntry, int64, error) {
	return f.auditEntries, int64(len(f.auditEntries)), nil
}

func ptr(v float64) *float64 { return &v }

func newTestService() (*Service, *fakeStorage) {
	fs := newFakeStorage()
	fs.regulations["reg_r23"] = shared.Regulation{ID: "reg_r23", Code: "R23"}
	fs.students["stu_1"] = shared.Student{ID: "stu_1", Regno: "23K61A0501", RegulationID: "reg_r23"}
	fs.students["stu_2"] = shared.Student{ID: "stu_2", Regno: "23K61A0502", RegulationID: "reg_r23"}
	fs.subjects["sub_1"] = shared.Subject{ID: "sub_1", Code: "CS301", Credits: 4, Semester: 3}
	return NewService(fs, audit.NewRecorder(fs)), fs
}

var faculty = &shared.Actor{ID: "user_f1", Kind: shared.ActorKindUser, Name: "Dr. Rao", Role: shared.RoleFaculty}

func TestEnterDerivesGrade(t *testing.T) {
	svc, fs := newTestService()

	m, err := svc.Enter(context.Background(), faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(35), External: ptr(50),
	})
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if m.Total == nil || *m.Total != 85 {
		t.Fatalf("total = %v, want 85", m.Total)
	}
	if m.Grade != "A" || m.GradePoints != 9 {
		t.Errorf("grade = %s/%v, want A/9", m.Grade, m.GradePoints)
	}
	if m.Status != shared.MarkDraft {
		t.Errorf("status = %s, want DRAFT", m.Status)
	}

	if len(fs.auditEntries) != 1 || fs.auditEntries[0].Action != shared.ActionMarksEntered {
		t.Errorf("expected one MARKS_ENTERED audit entry, got %+v", fs.auditEntries)
	}
}

func TestEnterPartialLeavesDerivedEmpty(t *testing.T) {
	svc, _ := newTestService()

	m, err := svc.Enter(context.Background(), faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(30),
	})
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if m.Total != nil || m.Grade != "" {
		t.Errorf("partial entry should not derive: total=%v grade=%q", m.Total, m.Grade)
	}
}

func TestEnterRejectsOutOfBoundsScores(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Enter(context.Background(), faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(45),
	})
	if !shared.IsKind(err, shared.KindValidationFailed) {
		t.Errorf("internal=45 kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}

	_, err = svc.Enter(context.Background(), faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		External: ptr(-1),
	})
	if !shared.IsKind(err, shared.KindValidationFailed) {
		t.Errorf("external=-1 kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
}

func TestEnterUpdatesExistingDraft(t *testing.T) {
	svc, fs := newTestService()
	ctx := context.Background()

	first, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(35), External: ptr(50),
	})
	if err != nil {
		t.Fatalf("first Enter: %v", err)
	}

	second, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		External: ptr(58),
	})
	if err != nil {
		t.Fatalf("second Enter: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("update created a new mark: %s vs %s", second.ID, first.ID)
	}
	if *second.Total != 93 || second.Grade != "S" {
		t.Errorf("updated total/grade = %v/%s, want 93/S", *second.Total, second.Grade)
	}
	if got := fs.auditEntries[len(fs.auditEntries)-1].Action; got != shared.ActionMarksUpdated {
		t.Errorf("audit action = %s, want MARKS_UPDATED", got)
	}
}

func TestEnterRejectsLockedMark(t *testing.T) {
	svc, fs := newTestService()
	ctx := context.Background()

	m, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(35), External: ptr(50),
	})
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	fs.marks[m.ID].Status = shared.MarkLocked

	_, err = svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(40),
	})
	if !shared.IsKind(err, shared.KindLockedRecord) {
		t.Errorf("kind = %v, want LOCKED_RECORD", shared.KindOf(err))
	}
}

func TestLockAllOrNothing(t *testing.T) {
	svc, fs := newTestService()
	ctx := context.Background()

	if _, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(35), External: ptr(50),
	}); err != nil {
		t.Fatalf("Enter stu_1: %v", err)
	}
	// stu_2 has only the internal component
	if _, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_2", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(28),
	}); err != nil {
		t.Fatalf("Enter stu_2: %v", err)
	}

	_, err := svc.Lock(ctx, faculty, "sub_1", 3, "2024-25")
	if !shared.IsKind(err, shared.KindValidationFailed) {
		t.Fatalf("lock with incomplete marks kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
	if !strings.Contains(err.Error(), "23K61A0502") {
		t.Errorf("error should name the incomplete student's regno: %v", err)
	}
	for _, m := range fs.marks {
		if m.Status != shared.MarkDraft {
			t.Errorf("mark %s transitioned to %s despite failed lock", m.ID, m.Status)
		}
	}

	// Complete stu_2 and lock again
	if _, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_2", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		External: ptr(44),
	}); err != nil {
		t.Fatalf("complete stu_2: %v", err)
	}
	n, err := svc.Lock(ctx, faculty, "sub_1", 3, "2024-25")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if n != 2 {
		t.Errorf("locked %d marks, want 2", n)
	}
}

func TestLockSemesterSweepsAllSubjects(t *testing.T) {
	svc, fs := newTestService()
	fs.subjects["sub_2"] = shared.Subject{ID: "sub_2", Code: "CS302", Credits: 3, Semester: 3}
	ctx := context.Background()

	for _, entry := range []EnterRequest{
		{StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25", Internal: ptr(35), External: ptr(50)},
		{StudentID: "stu_1", SubjectID: "sub_2", Semester: 3, AcademicYear: "2024-25", Internal: ptr(30), External: ptr(42)},
		{StudentID: "stu_2", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25", Internal: ptr(28), External: ptr(44)},
	} {
		if _, err := svc.Enter(ctx, faculty, entry); err != nil {
			t.Fatalf("Enter %s/%s: %v", entry.StudentID, entry.SubjectID, err)
		}
	}

	op := &shared.Actor{ID: "user_op1", Kind: shared.ActorKindUser, Role: shared.RoleOperator}
	n, err := svc.LockSemester(ctx, op, 3, "2024-25")
	if err != nil {
		t.Fatalf("LockSemester: %v", err)
	}
	if n != 3 {
		t.Errorf("locked %d marks, want 3 across both subjects", n)
	}
	for _, m := range fs.marks {
		if m.Status != shared.MarkLocked {
			t.Errorf("mark %s status = %s, want LOCKED", m.ID, m.Status)
		}
	}

	last := fs.auditEntries[len(fs.auditEntries)-1]
	if last.Action != shared.ActionMarksLocked || last.TargetKind != shared.TargetSemester {
		t.Errorf("audit = %s/%s, want MARKS_LOCKED on the semester", last.Action, last.TargetKind)
	}
}

func TestLockSemesterBlocksOnIncomplete(t *testing.T) {
	svc, fs := newTestService()
	ctx := context.Background()

	if _, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(35), External: ptr(50),
	}); err != nil {
		t.Fatalf("Enter stu_1: %v", err)
	}
	if _, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_2", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(28),
	}); err != nil {
		t.Fatalf("Enter stu_2: %v", err)
	}

	op := &shared.Actor{ID: "user_op1", Kind: shared.ActorKindUser, Role: shared.RoleOperator}
	_, err := svc.LockSemester(ctx, op, 3, "2024-25")
	if !shared.IsKind(err, shared.KindValidationFailed) {
		t.Fatalf("sweep with incomplete marks kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
	if !strings.Contains(err.Error(), "23K61A0502") {
		t.Errorf("error should name the incomplete student's regno: %v", err)
	}
	for _, m := range fs.marks {
		if m.Status != shared.MarkDraft {
			t.Errorf("mark %s transitioned to %s despite failed sweep", m.ID, m.Status)
		}
	}

	if _, err := svc.LockSemester(ctx, op, 7, "2024-25"); !shared.IsKind(err, shared.KindValidationFailed) {
		t.Errorf("empty scope sweep kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
}

func TestVerifyEmptyScopeFails(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Verify(context.Background(), faculty, "sub_1", 3, "2024-25")
	if !shared.IsKind(err, shared.KindValidationFailed) {
		t.Errorf("verify empty scope kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
}

func TestVerifyTransitionsLocked(t *testing.T) {
	svc, fs := newTestService()
	ctx := context.Background()

	if _, err := svc.Enter(ctx, faculty, EnterRequest{
		StudentID: "stu_1", SubjectID: "sub_1", Semester: 3, AcademicYear: "2024-25",
		Internal: ptr(35), External: ptr(50),
	}); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if _, err := svc.Lock(ctx, faculty, "sub_1", 3, "2024-25"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	hod := &shared.Actor{ID: "user_h1", Kind: shared.ActorKindUser, Role: shared.RoleHOD}
	n, err := svc.Verify(ctx, hod, "sub_1", 3, "2024-25")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if n != 1 {
		t.Errorf("verified %d marks, want 1", n)
	}
	for _, m := range fs.marks {
		if m.Status != shared.MarkVerified {
			t.Errorf("status = %s, want VERIFIED", m.Status)
		}
	}
}
