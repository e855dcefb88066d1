// ============================================================================
// internal/results/service.go
// Result publication pipeline: publish, rollback, correction, transcript.
// Results are immutable versioned snapshots; every change is a new version.
// ============================================================================

package results

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crms/internal/audit"
	"crms/internal/grades"
	"crms/internal/shared"
	"crms/internal/store"
)

// publishConcurrency bounds the per-student workers in one publish batch.
const publishConcurrency = 8

// Storage is the subset of the store the results service needs.
type Storage interface {
	ListMarks(ctx context.Context, f store.MarkFilter) ([]shared.Mark, error)
	CountMarks(ctx context.Context, f store.MarkFilter) (int64, error)
	ReopenMarks(ctx context.Context, studentID string, semester int32, academicYear string) (int64, error)

	GetStudentsByIDs(ctx context.Context, ids []string) (map[string]shared.Student, error)
	GetStudent(ctx context.Context, id string) (*shared.Student, error)
	GetSubjectsByIDs(ctx context.Context, ids []string) (map[string]shared.Subject, error)
	GetRegulationsByIDs(ctx context.Context, ids []string) (map[string]shared.Regulation, error)

	GetResult(ctx context.Context, id string) (*shared.Result, error)
	ListResults(ctx context.Context, f store.ResultFilter) ([]shared.Result, error)
	FindLatestResult(ctx context.Context, studentID string, semester int32) (*shared.Result, error)
	MaxResultVersion(ctx context.Context, studentID string, semester int32) (int32, error)
	SupersedeResult(ctx context.Context, supersedeID string, next *shared.Result) error
	PublishStudentResult(ctx context.Context, supersedeID string, next *shared.Result) error
	DeactivateResult(ctx context.Context, id string) error
}

// Service implements the publication pipeline and result queries.
type Service struct {
	storage Storage
	auditor *audit.Recorder
}

// NewService creates the results service.
func NewService(storage Storage, auditor *audit.Recorder) *Service {
	return &Service{storage: storage, auditor: auditor}
}

// PublishOutcome reports a publish batch: how many students published and the
// per-student failures that did not abort their siblings.
type PublishOutcome struct {
	PublishedCount int                `json:"published_count"`
	Errors         []shared.ItemError `json:"errors"`
}

// Publish publishes every student's result for one (semester, academicYear)
// scope. Preconditions: all marks in scope must be VERIFIED. Each student is
// an independent atomic unit; one student's failure is accumulated, not
// fatal to the batch.
func (s *Service) Publish(ctx context.Context, actor *shared.Actor, semester int32, academicYear string) (*PublishOutcome, error) {
	scope := store.MarkFilter{Semester: semester, AcademicYear: academicYear}

	// PUBLISHED marks do not block: after a single student's rollback the
	// siblings stay PUBLISHED and only the reopened student republishes.
	unverified, err := s.storage.CountMarks(ctx, store.MarkFilter{
		Semester: semester, AcademicYear: academicYear,
		StatusNotIn: []string{shared.MarkVerified, shared.MarkPublished},
	})
	if err != nil {
		return nil, err
	}
	if unverified > 0 {
		return nil, shared.E(shared.KindValidationFailed,
			"%d marks are not yet verified for semester %d (%s)", unverified, semester, academicYear)
	}

	scope.Status = shared.MarkVerified
	marks, err := s.storage.ListMarks(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(marks) == 0 {
		return nil, shared.E(shared.KindValidationFailed,
			"no verified marks to publish for semester %d (%s)", semester, academicYear)
	}

	byStudent := map[string][]shared.Mark{}
	subjectIDs := map[string]bool{}
	for _, m := range marks {
		byStudent[m.StudentID] = append(byStudent[m.StudentID], m)
		subjectIDs[m.SubjectID] = true
	}

	// Snapshot the catalog and regulations once for the whole batch so a
	// concurrent edit cannot grade students inconsistently.
	snap, err := s.loadSnapshot(ctx, keys(byStudent), keys(subjectIDs))
	if err != nil {
		return nil, err
	}

	studentIDs := keys(byStudent)
	sort.Strings(studentIDs)

	var (
		mu      sync.Mutex
		outcome PublishOutcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(publishConcurrency)
	for _, studentID := range studentIDs {
		studentID := studentID
		g.Go(func() error {
			err := s.publishOne(gctx, actor, studentID, semester, academicYear, byStudent[studentID], snap)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Errors = append(outcome.Errors, shared.ItemError{
					Key:   snap.keyFor(studentID),
					Error: err.Error(),
				})
				return nil
			}
			outcome.PublishedCount++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(outcome.Errors, func(i, j int) bool { return outcome.Errors[i].Key < outcome.Errors[j].Key })

	s.auditor.Record(ctx, audit.Entry{
		Action:     shared.ActionResultPublished,
		Actor:      actor,
		TargetKind: shared.TargetSemester,
		TargetID:   fmt.Sprintf("%d:%s", semester, academicYear),
		Details: fmt.Sprintf("published %d results, %d failures, sem %d (%s)",
			outcome.PublishedCount, len(outcome.Errors), semester, academicYear),
		Severity: shared.SeverityCritical,
	})
	return &outcome, nil
}

// snapshot is the batch-wide read-once view of reference data.
type snapshot struct {
	students    map[string]shared.Student
	subjects    map[string]shared.Subject
	regulations map[string]shared.Regulation
}

func (sn *snapshot) keyFor(studentID string) string {
	if st, ok := sn.students[studentID]; ok {
		return st.Regno
	}
	return studentID
}

func (s *Service) loadSnapshot(ctx context.Context, studentIDs, subjectIDs []string) (*snapshot, error) {
	students, err := s.storage.GetStudentsByIDs(ctx, studentIDs)
	if err != nil {
		return nil, err
	}
	subjects, err := s.storage.GetSubjectsByIDs(ctx, subjectIDs)
	if err != nil {
		return nil, err
	}

	regIDs := map[string]bool{}
	for _, st := range students {
		if st.RegulationID != "" {
			regIDs[st.RegulationID] = true
		}
	}
	regulations, err := s.storage.GetRegulationsByIDs(ctx, keys(regIDs))
	if err != nil {
		return nil, err
	}
	return &snapshot{students: students, subjects: subjects, regulations: regulations}, nil
}

// publishOne builds and writes one student's result snapshot atomically with
// the supersede of any prior version and the marks flip to PUBLISHED.
func (s *Service) publishOne(ctx context.Context, actor *shared.Actor, studentID string, semester int32, academicYear string, marks []shared.Mark, snap *snapshot) error {
	student, ok := snap.students[studentID]
	if !ok {
		return shared.E(shared.KindNotFound, "student %s not found", studentID)
	}
	if student.IsSuspended {
		return shared.E(shared.KindValidationFailed, "student %s is suspended", student.Regno)
	}

	next, err := s.buildResult(actor, &student, semester, academicYear, marks, snap)
	if err != nil {
		return err
	}

	prior, err := s.storage.FindLatestResult(ctx, studentID, semester)
	if err != nil {
		return err
	}
	maxVersion, err := s.storage.MaxResultVersion(ctx, studentID, semester)
	if err != nil {
		return err
	}
	next.Version = maxVersion + 1
	supersedeID := ""
	if prior != nil {
		supersedeID = prior.ID
		next.PreviousVersionID = prior.ID
	}

	return s.storage.PublishStudentResult(ctx, supersedeID, next)
}

// buildResult assembles the immutable snapshot: ordered subject rows with
// credits carried from the catalog, SGPA with failed subjects excluded from
// earned credits, and the backlog list.
func (s *Service) buildResult(actor *shared.Actor, student *shared.Student, semester int32, academicYear string, marks []shared.Mark, snap *snapshot) (*shared.Result, error) {
	sort.Slice(marks, func(i, j int) bool { return marks[i].SubjectID < marks[j].SubjectID })

	reg := snap.regulations[student.RegulationID]
	scale := grades.ScaleFor(&reg)

	rows := make([]shared.ResultSubject, 0, len(marks))
	inputs := make([]grades.SubjectGrade, 0, len(marks))
	var backlogs []shared.Backlog
	for _, m := range marks {
		sub, ok := snap.subjects[m.SubjectID]
		if !ok {
			return nil, shared.E(shared.KindNotFound, "subject %s not in catalog", m.SubjectID)
		}
		if !m.IsComplete() || m.Grade == "" {
			return nil, shared.E(shared.KindValidationFailed,
				"mark for subject %s is incomplete", sub.Code)
		}
		points, err := scale.PointsOf(m.Grade)
		if err != nil {
			return nil, err
		}

		weighted := grades.Round2(points * sub.Credits)
		rows = append(rows, shared.ResultSubject{
			SubjectID:   sub.ID,
			Code:        sub.Code,
			Name:        sub.Name,
			Credits:     sub.Credits,
			Internal:    m.Internal,
			External:    m.External,
			Total:       m.Total,
			Grade:       m.Grade,
			GradePoints: weighted,
		})
		inputs = append(inputs, grades.SubjectGrade{Credits: sub.Credits, Grade: m.Grade, GradePoints: weighted})
		if m.Grade == grades.FailGrade {
			backlogs = append(backlogs, shared.Backlog{SubjectID: sub.ID, Code: sub.Code, Name: sub.Name})
		}
	}

	sum := grades.SGPAOf(inputs)
	status := shared.ResultPass
	if len(backlogs) > 0 {
		status = shared.ResultFail
	}

	return &shared.Result{
		ID:               shared.GenerateID("result"),
		StudentID:        student.ID,
		Semester:         semester,
		AcademicYear:     academicYear,
		RegulationID:     student.RegulationID,
		Subjects:         rows,
		TotalCredits:     sum.TotalCredits,
		EarnedCredits:    sum.EarnedCredits,
		TotalGradePoints: grades.Round2(sum.TotalGradePoints),
		SGPA:             sum.SGPA,
		Status:           status,
		Backlogs:         backlogs,
		PublishedAt:      time.Now(),
		PublishedBy:      actor.ID,
		IsLatest:         true,
	}, nil
}

// Rollback withdraws a published result: the snapshot stays on record with
// is_latest false and the student's marks revert to VERIFIED so the semester
// can be republished. The version chain continues where it left off.
func (s *Service) Rollback(ctx context.Context, actor *shared.Actor, resultID, reason string) error {
	if reason == "" {
		return shared.E(shared.KindValidationFailed, "rollback requires a reason")
	}

	result, err := s.storage.GetResult(ctx, resultID)
	if err != nil {
		return err
	}
	if !result.IsLatest {
		return shared.E(shared.KindValidationFailed, "result is not the latest version")
	}

	if err := s.storage.DeactivateResult(ctx, resultID); err != nil {
		return err
	}
	if _, err := s.storage.ReopenMarks(ctx, result.StudentID, result.Semester, result.AcademicYear); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     shared.ActionResultRollback,
		Actor:      actor,
		TargetKind: shared.TargetResult,
		TargetID:   resultID,
		Details:    fmt.Sprintf("rolled back v%d for student %s sem %d: %s", result.Version, result.StudentID, result.Semester, reason),
		Severity:   shared.SeverityCritical,
	})
	return nil
}

// SubjectCorrection is one corrected subject entry within a correction.
type SubjectCorrection struct {
	SubjectID string
	Internal  *float64
	External  *float64
}

// Correct issues a corrected version of a published result. The prior
// snapshot is never edited: corrections produce version N+1 with the
// corrected subjects regraded on the student's regulation scale, and the
// prior version stays on record with is_latest false.
func (s *Service) Correct(ctx context.Context, actor *shared.Actor, resultID, reason string, corrections []SubjectCorrection) (*shared.Result, error) {
	if reason == "" {
		return nil, shared.E(shared.KindValidationFailed, "correction requires a reason")
	}
	if len(corrections) == 0 {
		return nil, shared.E(shared.KindValidationFailed, "correction requires at least one subject")
	}

	prior, err := s.storage.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if !prior.IsLatest {
		return nil, shared.E(shared.KindValidationFailed, "corrections must target the latest version")
	}

	student, err := s.storage.GetStudent(ctx, prior.StudentID)
	if err != nil {
		return nil, err
	}
	regs, err := s.storage.GetRegulationsByIDs(ctx, []string{student.RegulationID})
	if err != nil {
		return nil, err
	}
	reg := regs[student.RegulationID]
	scale := grades.ScaleFor(&reg)

	bySubject := map[string]SubjectCorrection{}
	for _, c := range corrections {
		bySubject[c.SubjectID] = c
	}

	next := *prior
	next.Subjects = append([]shared.ResultSubject(nil), prior.Subjects...)
	corrected := 0
	for i := range next.Subjects {
		c, ok := bySubject[next.Subjects[i].SubjectID]
		if !ok {
			continue
		}
		if err := applyCorrection(&next.Subjects[i], c, scale); err != nil {
			return nil, err
		}
		corrected++
	}
	if corrected != len(bySubject) {
		return nil, shared.E(shared.KindValidationFailed,
			"correction names a subject not on the result")
	}

	// Reaggregate from the corrected rows
	inputs := make([]grades.SubjectGrade, 0, len(next.Subjects))
	var backlogs []shared.Backlog
	for _, row := range next.Subjects {
		inputs = append(inputs, grades.SubjectGrade{Credits: row.Credits, Grade: row.Grade, GradePoints: row.GradePoints})
		if row.Grade == grades.FailGrade {
			backlogs = append(backlogs, shared.Backlog{SubjectID: row.SubjectID, Code: row.Code, Name: row.Name})
		}
	}
	sum := grades.SGPAOf(inputs)
	next.TotalCredits = sum.TotalCredits
	next.EarnedCredits = sum.EarnedCredits
	next.TotalGradePoints = grades.Round2(sum.TotalGradePoints)
	next.SGPA = sum.SGPA
	next.Status = shared.ResultPass
	if len(backlogs) > 0 {
		next.Status = shared.ResultFail
	}
	next.Backlogs = backlogs

	maxVersion, err := s.storage.MaxResultVersion(ctx, prior.StudentID, prior.Semester)
	if err != nil {
		return nil, err
	}
	next.ID = shared.GenerateID("result")
	next.Version = maxVersion + 1
	next.PreviousVersionID = prior.ID
	next.IsLatest = true
	next.PublishedAt = time.Now()
	next.PublishedBy = actor.ID

	if err := s.storage.SupersedeResult(ctx, prior.ID, &next); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     shared.ActionResultCorrection,
		Actor:      actor,
		TargetKind: shared.TargetResult,
		TargetID:   next.ID,
		Details: fmt.Sprintf("corrected %d subjects for student %s sem %d, v%d -> v%d: %s",
			corrected, prior.StudentID, prior.Semester, prior.Version, next.Version, reason),
		Metadata: map[string]interface{}{
			"sgpa_before": prior.SGPA,
			"sgpa_after":  next.SGPA,
			"previous_id": prior.ID,
		},
		Severity: shared.SeverityCritical,
	})
	return &next, nil
}

func applyCorrection(row *shared.ResultSubject, c SubjectCorrection, scale grades.Scale) error {
	if c.Internal != nil {
		if *c.Internal < 0 || *c.Internal > shared.MaxInternalMarks {
			return shared.E(shared.KindValidationFailed,
				"internal marks %.2f outside valid range [0,%d]", *c.Internal, shared.MaxInternalMarks)
		}
		row.Internal = c.Internal
	}
	if c.External != nil {
		if *c.External < 0 || *c.External > shared.MaxExternalMarks {
			return shared.E(shared.KindValidationFailed,
				"external marks %.2f outside valid range [0,%d]", *c.External, shared.MaxExternalMarks)
		}
		row.External = c.External
	}
	if row.Internal == nil || row.External == nil {
		return shared.E(shared.KindValidationFailed, "corrected subject %s has incomplete scores", row.Code)
	}

	total := *row.Internal + *row.External
	grade, points, err := scale.GradeOf(total)
	if err != nil {
		return err
	}
	row.Total = &total
	row.Grade = grade
	row.GradePoints = grades.Round2(points * row.Credits)
	return nil
}

// Get fetches one result snapshot by ID.
func (s *Service) Get(ctx context.Context, id string) (*shared.Result, error) {
	return s.storage.GetResult(ctx, id)
}

// Latest returns the latest result for a (student, semester), or nil.
func (s *Service) Latest(ctx context.Context, studentID string, semester int32) (*shared.Result, error) {
	return s.storage.FindLatestResult(ctx, studentID, semester)
}

// History returns every version for a (student, semester), oldest first.
func (s *Service) History(ctx context.Context, studentID string, semester int32) ([]shared.Result, error) {
	return s.storage.ListResults(ctx, store.ResultFilter{StudentID: studentID, Semester: semester})
}

// Transcript is a student's full academic record: the latest result per
// semester plus the credit-weighted CGPA across them.
type Transcript struct {
	Student   *shared.Student `json:"student"`
	Semesters []shared.Result `json:"semesters"`
	CGPA      float64         `json:"cgpa"`
	Band      string          `json:"band"`
}

// TranscriptOf assembles a student's transcript from latest-only snapshots.
func (s *Service) TranscriptOf(ctx context.Context, studentID string) (*Transcript, error) {
	student, err := s.storage.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	latest, err := s.storage.ListResults(ctx, store.ResultFilter{StudentID: studentID, LatestOnly: true})
	if err != nil {
		return nil, err
	}

	inputs := make([]grades.SemesterSummary, 0, len(latest))
	for _, r := range latest {
		inputs = append(inputs, grades.SemesterSummary{SGPA: r.SGPA, EarnedCredits: r.EarnedCredits})
	}
	cgpa := grades.CGPAOf(inputs)

	return &Transcript{
		Student:   student,
		Semesters: latest,
		CGPA:      cgpa,
		Band:      grades.PerformanceBand(cgpa),
	}, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
