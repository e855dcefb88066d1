package results

import (
	"context"
	"math"
	"testing"
	"time"

	"crms/internal/audit"
	"crms/internal/shared"
	"crms/internal/store"
)

// fakeStorage is an in-memory Storage for pipeline tests.
type fakeStorage struct {
	students    map[string]shared.Student
	subjects    map[string]shared.Subject
	regulations map[string]shared.Regulation
	marks       []*shared.Mark
	results     map[string]*shared.Result

	auditEntries []shared.AuditLogEntry
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		students:    map[string]shared.Student{},
		subjects:    map[string]shared.Subject{},
		regulations: map[string]shared.Regulation{},
		results:     map[string]*shared.Result{},
	}
}

func (f *fakeStorage) matches(m *shared.Mark, flt store.MarkFilter) bool {
	if flt.StudentID != "" && m.StudentID != flt.StudentID {
		return false
	}
	if flt.Semester > 0 && m.Semester != flt.Semester {
		return false
	}
	if flt.AcademicYear != "" && m.AcademicYear != flt.AcademicYear {
		return false
	}
	if flt.Status != "" && m.Status != flt.Status {
		return false
	}
	if flt.StatusNot != "" && m.Status == flt.StatusNot {
		return false
	}
	for _, status := range flt.StatusNotIn {
		if m.Status == status {
			return false
		}
	}
	return true
}

func (f *fakeStorage) ListMarks(_ context.Context, flt store.MarkFilter) ([]shared.Mark, error) {
	var out []shared.Mark
	for _, m := range f.marks {
		if f.matches(m, flt) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStorage) CountMarks(_ context.Context, flt store.MarkFilter) (int64, error) {
	var n int64
	for _, m := range f.marks {
		if f.matches(m, flt) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStorage) ReopenMarks(_ context.Context, studentID string, semester int32, academicYear string) (int64, error) {
	var n int64
	for _, m := range f.marks {
		if m.StudentID == studentID && m.Semester == semester && m.AcademicYear == academicYear && m.Status == shared.MarkPublished {
			m.Status = shared.MarkVerified
			n++
		}
	}
	return n, nil
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

func (f *fakeStorage) GetStudent(_ context.Context, id string) (*shared.Student, error) {
	st, ok := f.students[id]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "student not found")
	}
	return &st, nil
}

func (f *fakeStorage) GetSubjectsByIDs(_ context.Context, ids []string) (map[string]shared.Subject, error) {
	out := map[string]shared.Subject{}
	for _, id := range ids {
		if sub, ok := f.subjects[id]; ok {
			out[id] = sub
		}
	}
	return out, nil
}

func (f *fakeStorage) GetRegulationsByIDs(_ context.Context, ids []string) (map[string]shared.Regulation, error) {
	out := map[string]shared.Regulation{}
	for _, id := range ids {
		if r, ok := f.regulations[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeStorage) GetResult(_ context.Context, id string) (*shared.Result, error) {
	r, ok := f.results[id]
	if !ok {
		return nil, shared.E(shared.KindNotFound, "result not found")
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStorage) ListResults(_ context.Context, flt store.ResultFilter) ([]shared.Result, error) {
	var out []shared.Result
	for _, r := range f.results {
		if flt.StudentID != "" && r.StudentID != flt.StudentID {
			continue
		}
		if flt.Semester > 0 && r.Semester != flt.Semester {
			continue
		}
		if flt.AcademicYear != "" && r.AcademicYear != flt.AcademicYear {
			continue
		}
		if flt.LatestOnly && !r.IsLatest {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStorage) FindLatestResult(_ context.Context, studentID string, semester int32) (*shared.Result, error) {
	for _, r := range f.results {
		if r.StudentID == studentID && r.Semester == semester && r.IsLatest {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) MaxResultVersion(_ context.Context, studentID string, semester int32) (int32, error) {
	var max int32
	for _, r := range f.results {
		if r.StudentID == studentID && r.Semester == semester && r.Version > max {
			max = r.Version
		}
	}
	return max, nil
}

func (f *fakeStorage) SupersedeResult(_ context.Context, supersedeID string, next *shared.Result) error {
	if supersedeID != "" {
		if err := f.DeactivateResult(context.Background(), supersedeID); err != nil {
			return err
		}
	}
	cp := *next
	f.results[next.ID] = &cp
	return nil
}

func (f *fakeStorage) PublishStudentResult(_ context.Context, supersedeID string, next *shared.Result) error {
	if err := f.SupersedeResult(context.Background(), supersedeID, next); err != nil {
		return err
	}
	for _, m := range f.marks {
		if m.StudentID == next.StudentID && m.Semester == next.Semester && m.AcademicYear == next.AcademicYear && m.Status == shared.MarkVerified {
			m.Status = shared.MarkPublished
		}
	}
	return nil
}

func (f *fakeStorage) DeactivateResult(_ context.Context, id string) error {
	r, ok := f.results[id]
	if !ok || !r.IsLatest {
		return shared.E(shared.KindValidationFailed, "result is not the latest version")
	}
	r.IsLatest = false
	return nil
}

func (f *fakeStorage) InsertAuditEntry(_ context.Context, e *shared.AuditLogEntry) error {
	f.auditEntries = append(f.auditEntries, *e)
	return nil
}

func (f *fakeStorage) ListAuditEntries(_ context.Context, _ store.AuditFilter) ([]shared.AuditLogEntry, int64, error) {
	return f.auditEntries, int64(len(f.auditEntries)), nil
}

func ptr(v float64) *float64 { return &v }

var operator = &shared.Actor{ID: "user_op1", Kind: shared.ActorKindUser, Name: "Controller", Role: shared.RoleOperator}

// seed builds a two-subject cohort with verified marks.
func seed(fs *fakeStorage) {
	fs.regulations["reg_r23"] = shared.Regulation{ID: "reg_r23", Code: "R23"}
	fs.students["stu_1"] = shared.Student{ID: "stu_1", Regno: "23K61A0501", Name: "Anil", RegulationID: "reg_r23"}
	fs.students["stu_2"] = shared.Student{ID: "stu_2", Regno: "23K61A0502", Name: "Bhavna", RegulationID: "reg_r23"}
	fs.subjects["sub_1"] = shared.Subject{ID: "sub_1", Code: "CS301", Name: "Operating Systems", Credits: 4, Semester: 3}
	fs.subjects["sub_2"] = shared.Subject{ID: "sub_2", Code: "CS302", Name: "Databases", Credits: 3, Semester: 3}

	addVerifiedMark(fs, "stu_1", "sub_1", 35, 50) // 85 A/9
	addVerifiedMark(fs, "stu_1", "sub_2", 38, 55) // 93 S/10
	addVerifiedMark(fs, "stu_2", "sub_1", 20, 15) // 35 F
	addVerifiedMark(fs, "stu_2", "sub_2", 30, 42) // 72 B/8
}

func addVerifiedMark(fs *fakeStorage, studentID, subjectID string, internal, external float64) {
	total := internal + external
	grade := gradeFor(total)
	fs.marks = append(fs.marks, &shared.Mark{
		ID:           shared.GenerateID("mark"),
		StudentID:    studentID,
		SubjectID:    subjectID,
		Semester:     3,
		AcademicYear: "2024-25",
		Internal:     ptr(internal),
		External:     ptr(external),
		Total:        &total,
		Grade:        grade,
		Status:       shared.MarkVerified,
		CreatedAt:    time.Now(),
	})
}

func gradeFor(total float64) string {
	switch {
	case total >= 90:
		return "S"
	case total >= 80:
		return "A"
	case total >= 70:
		return "B"
	case total >= 60:
		return "C"
	case total >= 50:
		return "D"
	case total >= 40:
		return "E"
	default:
		return "F"
	}
}

func TestPublishRequiresAllVerified(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	fs.marks[0].Status = shared.MarkDraft
	svc := NewService(fs, audit.NewRecorder(fs))

	_, err := svc.Publish(context.Background(), operator, 3, "2024-25")
	if !shared.IsKind(err, shared.KindValidationFailed) {
		t.Fatalf("publish with draft mark kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
	if len(fs.results) != 0 {
		t.Errorf("results written despite failed precondition: %d", len(fs.results))
	}
}

func TestPublishBuildsSnapshots(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	svc := NewService(fs, audit.NewRecorder(fs))

	outcome, err := svc.Publish(context.Background(), operator, 3, "2024-25")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if outcome.PublishedCount != 2 || len(outcome.Errors) != 0 {
		t.Fatalf("outcome = %+v, want 2 published, 0 errors", outcome)
	}

	r1, err := fs.FindLatestResult(context.Background(), "stu_1", 3)
	if err != nil || r1 == nil {
		t.Fatalf("stu_1 latest result missing: %v", err)
	}
	// (9*4 + 10*3) / 7 = 66/7 = 9.428... -> 9.43
	if r1.SGPA != 9.43 {
		t.Errorf("stu_1 SGPA = %v, want 9.43", r1.SGPA)
	}
	if r1.Status != shared.ResultPass || len(r1.Backlogs) != 0 {
		t.Errorf("stu_1 status = %s backlogs = %d, want PASS/0", r1.Status, len(r1.Backlogs))
	}
	if r1.Version != 1 || !r1.IsLatest {
		t.Errorf("stu_1 version/is_latest = %d/%v, want 1/true", r1.Version, r1.IsLatest)
	}

	r2, _ := fs.FindLatestResult(context.Background(), "stu_2", 3)
	// F in sub_1: earned = 3, points = 8*3 = 24, SGPA = 8.00; total credits still 7
	if r2.SGPA != 8.00 {
		t.Errorf("stu_2 SGPA = %v, want 8.00", r2.SGPA)
	}
	if r2.TotalCredits != 7 || r2.EarnedCredits != 3 {
		t.Errorf("stu_2 credits = %v/%v, want total 7, earned 3", r2.TotalCredits, r2.EarnedCredits)
	}
	if r2.Status != shared.ResultFail || len(r2.Backlogs) != 1 || r2.Backlogs[0].Code != "CS301" {
		t.Errorf("stu_2 status/backlogs = %s/%+v, want FAIL with CS301", r2.Status, r2.Backlogs)
	}

	for _, m := range fs.marks {
		if m.Status != shared.MarkPublished {
			t.Errorf("mark %s status = %s, want PUBLISHED", m.ID, m.Status)
		}
	}

	last := fs.auditEntries[len(fs.auditEntries)-1]
	if last.Action != shared.ActionResultPublished || last.Severity != shared.SeverityCritical {
		t.Errorf("batch audit = %s/%s, want RESULT_PUBLISHED/CRITICAL", last.Action, last.Severity)
	}
}

func TestPublishAccumulatesPerStudentErrors(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	fs.students["stu_3"] = shared.Student{ID: "stu_3", Regno: "23K61A0503", Name: "Chitra", RegulationID: "reg_r23", IsSuspended: true}
	addVerifiedMark(fs, "stu_3", "sub_1", 30, 40)
	addVerifiedMark(fs, "stu_3", "sub_2", 30, 40)
	svc := NewService(fs, audit.NewRecorder(fs))

	outcome, err := svc.Publish(context.Background(), operator, 3, "2024-25")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if outcome.PublishedCount != 2 {
		t.Errorf("published = %d, want 2", outcome.PublishedCount)
	}
	if len(outcome.Errors) != 1 || outcome.Errors[0].Key != "23K61A0503" {
		t.Fatalf("errors = %+v, want one keyed by 23K61A0503", outcome.Errors)
	}
}

func TestRollbackReopensMarks(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	svc := NewService(fs, audit.NewRecorder(fs))
	ctx := context.Background()

	if _, err := svc.Publish(ctx, operator, 3, "2024-25"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r1, _ := fs.FindLatestResult(ctx, "stu_1", 3)

	admin := &shared.Actor{ID: "user_a1", Role: shared.RoleAdmin}
	if err := svc.Rollback(ctx, admin, r1.ID, "external marks dispute"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if latest, _ := fs.FindLatestResult(ctx, "stu_1", 3); latest != nil {
		t.Errorf("stu_1 still has a latest result after rollback")
	}
	if fs.results[r1.ID] == nil {
		t.Fatal("rolled-back snapshot deleted; it must stay on record")
	}
	for _, m := range fs.marks {
		if m.StudentID == "stu_1" && m.Status != shared.MarkVerified {
			t.Errorf("stu_1 mark status = %s, want VERIFIED after rollback", m.Status)
		}
		if m.StudentID == "stu_2" && m.Status != shared.MarkPublished {
			t.Errorf("stu_2 mark status = %s, rollback must not touch other students", m.Status)
		}
	}

	// Double rollback fails: the snapshot is no longer latest
	if err := svc.Rollback(ctx, admin, r1.ID, "again"); !shared.IsKind(err, shared.KindValidationFailed) {
		t.Errorf("second rollback kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
}

func TestVersionChainContinuesAcrossRollback(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	svc := NewService(fs, audit.NewRecorder(fs))
	ctx := context.Background()
	admin := &shared.Actor{ID: "user_a1", Role: shared.RoleAdmin}

	if _, err := svc.Publish(ctx, operator, 3, "2024-25"); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	r1, _ := fs.FindLatestResult(ctx, "stu_1", 3)
	if err := svc.Rollback(ctx, admin, r1.ID, "dispute"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	// stu_2's marks stay PUBLISHED; they must not block republishing the
	// rolled-back student, and the republish must not touch them.
	outcome, err := svc.Publish(ctx, operator, 3, "2024-25")
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if outcome.PublishedCount != 1 || len(outcome.Errors) != 0 {
		t.Fatalf("republish outcome = %+v, want exactly the reopened student", outcome)
	}
	for _, m := range fs.marks {
		if m.StudentID == "stu_2" && m.Status != shared.MarkPublished {
			t.Errorf("stu_2 mark status = %s, republish must not touch published siblings", m.Status)
		}
	}

	next, _ := fs.FindLatestResult(ctx, "stu_1", 3)
	if next.Version != 2 {
		t.Errorf("republished version = %d, want 2 (chain continues past rollback)", next.Version)
	}
	if next.PreviousVersionID != r1.ID {
		t.Errorf("previous_version_id = %q, want %q", next.PreviousVersionID, r1.ID)
	}
	if sibling, _ := fs.FindLatestResult(ctx, "stu_2", 3); sibling == nil || sibling.Version != 1 {
		t.Errorf("stu_2 latest result disturbed by sibling republish: %+v", sibling)
	}
}

func TestCorrectIssuesNewVersion(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	svc := NewService(fs, audit.NewRecorder(fs))
	ctx := context.Background()

	if _, err := svc.Publish(ctx, operator, 3, "2024-25"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	prior, _ := fs.FindLatestResult(ctx, "stu_2", 3)

	// Re-evaluation lifts stu_2's CS301 from 35 (F) to 62 (C)
	next, err := svc.Correct(ctx, operator, prior.ID, "re-evaluation of answer script", []SubjectCorrection{
		{SubjectID: "sub_1", Internal: ptr(22), External: ptr(40)},
	})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}

	if next.Version != prior.Version+1 || next.PreviousVersionID != prior.ID {
		t.Errorf("version chain = v%d prev %q, want v%d prev %q",
			next.Version, next.PreviousVersionID, prior.Version+1, prior.ID)
	}
	if got := fs.results[prior.ID]; got.IsLatest {
		t.Error("prior version still marked latest")
	}
	if got := fs.results[prior.ID]; got.SGPA != prior.SGPA {
		t.Error("prior snapshot mutated by correction")
	}

	// (7*4 + 8*3) / 7 = 52/7 = 7.428... -> 7.43, now PASS
	if next.SGPA != 7.43 {
		t.Errorf("corrected SGPA = %v, want 7.43", next.SGPA)
	}
	if next.Status != shared.ResultPass || len(next.Backlogs) != 0 {
		t.Errorf("corrected status/backlogs = %s/%d, want PASS/0", next.Status, len(next.Backlogs))
	}

	last := fs.auditEntries[len(fs.auditEntries)-1]
	if last.Action != shared.ActionResultCorrection {
		t.Fatalf("audit action = %s, want RESULT_CORRECTION", last.Action)
	}
	if last.Metadata["sgpa_before"] != prior.SGPA || last.Metadata["sgpa_after"] != next.SGPA {
		t.Errorf("audit metadata = %+v, want before/after SGPA recorded", last.Metadata)
	}
}

func TestCorrectRejectsUnknownSubject(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	svc := NewService(fs, audit.NewRecorder(fs))
	ctx := context.Background()

	if _, err := svc.Publish(ctx, operator, 3, "2024-25"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	prior, _ := fs.FindLatestResult(ctx, "stu_1", 3)

	_, err := svc.Correct(ctx, operator, prior.ID, "typo", []SubjectCorrection{
		{SubjectID: "sub_999", Internal: ptr(30), External: ptr(40)},
	})
	if !shared.IsKind(err, shared.KindValidationFailed) {
		t.Errorf("kind = %v, want VALIDATION_FAILED", shared.KindOf(err))
	}
}

func TestTranscriptComputesCGPA(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	svc := NewService(fs, audit.NewRecorder(fs))

	fs.results["result_a"] = &shared.Result{
		ID: "result_a", StudentID: "stu_1", Semester: 1, SGPA: 8.0, EarnedCredits: 20, IsLatest: true,
	}
	fs.results["result_b"] = &shared.Result{
		ID: "result_b", StudentID: "stu_1", Semester: 2, SGPA: 9.0, EarnedCredits: 22, IsLatest: true,
	}
	// Superseded version must not count
	fs.results["result_old"] = &shared.Result{
		ID: "result_old", StudentID: "stu_1", Semester: 1, SGPA: 5.0, EarnedCredits: 20, IsLatest: false,
	}

	tr, err := svc.TranscriptOf(context.Background(), "stu_1")
	if err != nil {
		t.Fatalf("TranscriptOf: %v", err)
	}
	// (8*20 + 9*22) / 42 = 358/42 = 8.5238 -> 8.52
	if tr.CGPA != 8.52 {
		t.Errorf("CGPA = %v, want 8.52", tr.CGPA)
	}
	if len(tr.Semesters) != 2 {
		t.Errorf("semesters = %d, want 2 latest-only", len(tr.Semesters))
	}
	if tr.Band != "Very Good" {
		t.Errorf("band = %q, want Very Good", tr.Band)
	}
}

func TestSummarizeCohort(t *testing.T) {
	fs := newFakeStorage()
	seed(fs)
	svc := NewService(fs, audit.NewRecorder(fs))
	ctx := context.Background()

	if _, err := svc.Publish(ctx, operator, 3, "2024-25"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	sum, err := svc.Summarize(ctx, 3, "2024-25")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Published != 2 || sum.Passed != 1 || sum.Failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 2 published, 1 passed, 1 failed", sum.Published, sum.Passed, sum.Failed)
	}
	if sum.PassRate != 50 {
		t.Errorf("pass rate = %v, want 50", sum.PassRate)
	}
	// SGPAs are 9.43 and 8.00, mean 8.715 (either side of the 2dp tie is fine)
	if math.Abs(sum.MeanSGPA-8.715) > 0.006 {
		t.Errorf("mean SGPA = %v, want ~8.715", sum.MeanSGPA)
	}
	if sum.HighestSGPA != 9.43 || sum.LowestSGPA != 8.00 {
		t.Errorf("high/low = %v/%v, want 9.43/8.00", sum.HighestSGPA, sum.LowestSGPA)
	}
	if sum.GradeCounts["F"] != 1 || sum.GradeCounts["S"] != 1 {
		t.Errorf("grade counts = %+v, want one F and one S", sum.GradeCounts)
	}
	if len(sum.Toppers) != 2 || sum.Toppers[0].Regno != "23K61A0501" {
		t.Errorf("toppers = %+v, want stu_1 first", sum.Toppers)
	}

	empty, err := svc.Summarize(ctx, 7, "2024-25")
	if err != nil {
		t.Fatalf("Summarize empty: %v", err)
	}
	if empty.Published != 0 || empty.MeanSGPA != 0 {
		t.Errorf("empty cohort summary = %+v, want zeros", empty)
	}
}
