// ============================================================================
// internal/ingestion/service.go
// Bulk upload pipeline: stage, validate, detect conflicts, resolve, commit.
// A job is mutable while staged and frozen once committed.
// ============================================================================

package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"crms/internal/audit"
	"crms/internal/grades"
	"crms/internal/shared"
)

var regnoPattern = regexp.MustCompile(`^\d{2}K\d{2}[A-Z]\d{4}$`)

// Storage is the subset of the store the ingestion service needs.
type Storage interface {
	InsertIngestionJob(ctx context.Context, job *shared.IngestionJob) error
	GetIngestionJob(ctx context.Context, id string) (*shared.IngestionJob, error)
	ListIngestionJobs(ctx context.Context, uploadedBy string, limit int64) ([]shared.IngestionJob, error)
	UpdateIngestionJob(ctx context.Context, id, currentStatus string, set bson.M) error
	CommitIngestionJob(ctx context.Context, id, committedBy string, outcome shared.CommitResult) error

	FindStudentByRegno(ctx context.Context, regno string) (*shared.Student, error)
	InsertStudent(ctx context.Context, st *shared.Student) error
	UpdateStudent(ctx context.Context, id string, set bson.M) error

	FindSubjectByCode(ctx context.Context, code, regulationID string, semester int32) (*shared.Subject, error)
	InsertSubject(ctx context.Context, sub *shared.Subject) error
	UpdateSubject(ctx context.Context, id string, set bson.M) error

	GetRegulation(ctx context.Context, id string) (*shared.Regulation, error)
	FindMark(ctx context.Context, studentID, subjectID string, semester int32, academicYear string) (*shared.Mark, error)
	InsertMark(ctx context.Context, m *shared.Mark) error
	UpdateMarkScores(ctx context.Context, m *shared.Mark) error
}

// Service implements the staged ingestion pipeline.
type Service struct {
	storage Storage
	auditor *audit.Recorder
}

// NewService creates the ingestion service.
func NewService(storage Storage, auditor *audit.Recorder) *Service {
	return &Service{storage: storage, auditor: auditor}
}

// Stage validates uploaded rows, detects conflicts against existing
// documents by natural key, and persists the job. Validation errors park the
// job as FAILED; otherwise it is PREVIEW_READY awaiting resolutions and
// commit.
func (s *Service) Stage(ctx context.Context, actor *shared.Actor, fileName, targetEntity string, rows []map[string]interface{}) (*shared.IngestionJob, error) {
	switch targetEntity {
	case shared.IngestStudents, shared.IngestSubjects, shared.IngestMarks:
	default:
		return nil, shared.E(shared.KindValidationFailed, "unsupported target entity %q", targetEntity)
	}
	if len(rows) == 0 {
		return nil, shared.E(shared.KindValidationFailed, "upload contains no rows")
	}

	job := &shared.IngestionJob{
		ID:           shared.GenerateID("job"),
		FileName:     fileName,
		FileType:     fileTypeOf(fileName),
		TargetEntity: targetEntity,
		UploadedBy:   actor.ID,
		Rows:         rows,
		RowCount:     int32(len(rows)),
		CreatedAt:    time.Now(),
	}

	seen := map[string]int{}
	for i, row := range rows {
		key, issues := s.validateRow(targetEntity, i+1, row)
		job.Errors = append(job.Errors, issues...)
		if key == "" {
			continue
		}
		if prev, dup := seen[key]; dup {
			job.Errors = append(job.Errors, shared.RowIssue{
				Row: i + 1, Field: "key", Value: key,
				Message:  fmt.Sprintf("duplicate of row %d in the same upload", prev),
				Severity: "ERROR",
			})
			continue
		}
		seen[key] = i + 1

		if conflict := s.detectConflict(ctx, targetEntity, key, row); conflict != nil {
			job.Conflicts = append(job.Conflicts, *conflict)
		}
	}

	if len(job.Errors) > 0 {
		job.Status = shared.JobFailed
	} else {
		job.Status = shared.JobPreviewReady
	}
	if err := s.storage.InsertIngestionJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func fileTypeOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return strings.ToLower(name[i+1:])
	}
	return ""
}

// validateRow checks one staged row and returns its natural key, empty when
// the row has no usable key.
func (s *Service) validateRow(targetEntity string, rowNum int, row map[string]interface{}) (string, []shared.RowIssue) {
	var issues []shared.RowIssue
	bad := func(field, value, msg string) {
		issues = append(issues, shared.RowIssue{Row: rowNum, Field: field, Value: value, Message: msg, Severity: "ERROR"})
	}

	switch targetEntity {
	case shared.IngestStudents:
		regno := stringField(row, "regno")
		if regno == "" {
			bad("regno", "", "missing registration number")
			return "", issues
		}
		if !regnoPattern.MatchString(regno) {
			bad("regno", regno, "malformed registration number")
		}
		if stringField(row, "name") == "" {
			bad("name", "", "missing name")
		}
		if stringField(row, "department_id") == "" {
			bad("department_id", "", "missing department")
		}
		if stringField(row, "regulation_id") == "" {
			bad("regulation_id", "", "missing regulation")
		}
		if y, ok := numField(row, "batch_year"); !ok || y < 2000 || y > 2100 {
			bad("batch_year", stringField(row, "batch_year"), "batch year missing or out of range")
		}
		return regno, issues

	case shared.IngestSubjects:
		code := stringField(row, "code")
		if code == "" {
			bad("code", "", "missing subject code")
			return "", issues
		}
		if stringField(row, "name") == "" {
			bad("name", "", "missing name")
		}
		if c, ok := numField(row, "credits"); !ok || c <= 0 || c > 10 {
			bad("credits", stringField(row, "credits"), "credits missing or out of range")
		}
		if sem, ok := numField(row, "semester"); !ok || sem < 1 || sem > 8 {
			bad("semester", stringField(row, "semester"), "semester missing or out of range")
		}
		if stringField(row, "regulation_id") == "" {
			bad("regulation_id", "", "missing regulation")
		}
		return code, issues

	case shared.IngestMarks:
		regno := stringField(row, "regno")
		code := stringField(row, "subject_code")
		if regno == "" {
			bad("regno", "", "missing registration number")
		}
		if code == "" {
			bad("subject_code", "", "missing subject code")
		}
		if regno == "" || code == "" {
			return "", issues
		}
		if !regnoPattern.MatchString(regno) {
			bad("regno", regno, "malformed registration number")
		}
		if sem, ok := numField(row, "semester"); !ok || sem < 1 || sem > 8 {
			bad("semester", stringField(row, "semester"), "semester missing or out of range")
		}
		if stringField(row, "academic_year") == "" {
			bad("academic_year", "", "missing academic year")
		}
		if v, ok := numField(row, "internal_marks"); ok && (v < 0 || v > shared.MaxInternalMarks) {
			bad("internal_marks", stringField(row, "internal_marks"),
				fmt.Sprintf("internal marks outside valid range [0,%d]", shared.MaxInternalMarks))
		}
		if v, ok := numField(row, "external_marks"); ok && (v < 0 || v > shared.MaxExternalMarks) {
			bad("external_marks", stringField(row, "external_marks"),
				fmt.Sprintf("external marks outside valid range [0,%d]", shared.MaxExternalMarks))
		}
		return regno + "|" + code, issues
	}
	return "", issues
}

// detectConflict looks the row's natural key up against the live collection.
func (s *Service) detectConflict(ctx context.Context, targetEntity, key string, row map[string]interface{}) *shared.RowConflict {
	switch targetEntity {
	case shared.IngestStudents:
		existing, err := s.storage.FindStudentByRegno(ctx, key)
		if err != nil || existing == nil {
			return nil
		}
		return &shared.RowConflict{
			Key:        key,
			ExistingID: existing.ID,
			Existing:   map[string]interface{}{"regno": existing.Regno, "name": existing.Name},
			Incoming:   row,
			Resolution: shared.ResolvePending,
		}
	case shared.IngestSubjects:
		sem, _ := numField(row, "semester")
		existing, err := s.storage.FindSubjectByCode(ctx, key, stringField(row, "regulation_id"), int32(sem))
		if err != nil || existing == nil {
			return nil
		}
		return &shared.RowConflict{
			Key:        key,
			ExistingID: existing.ID,
			Existing:   map[string]interface{}{"code": existing.Code, "name": existing.Name, "credits": existing.Credits},
			Incoming:   row,
			Resolution: shared.ResolvePending,
		}
	case shared.IngestMarks:
		regno, code, _ := strings.Cut(key, "|")
		student, err := s.storage.FindStudentByRegno(ctx, regno)
		if err != nil || student == nil {
			return nil
		}
		sem, _ := numField(row, "semester")
		subject, err := s.storage.FindSubjectByCode(ctx, code, student.RegulationID, int32(sem))
		if err != nil || subject == nil {
			return nil
		}
		existing, err := s.storage.FindMark(ctx, student.ID, subject.ID, int32(sem), stringField(row, "academic_year"))
		if err != nil || existing == nil {
			return nil
		}
		return &shared.RowConflict{
			Key:        key,
			ExistingID: existing.ID,
			Existing: map[string]interface{}{
				"internal_marks": existing.Internal,
				"external_marks": existing.External,
				"status":         existing.Status,
			},
			Incoming:   row,
			Resolution: shared.ResolvePending,
		}
	}
	return nil
}

// Resolve records conflict resolutions on a staged job, keyed by the natural
// key carried on each conflict.
func (s *Service) Resolve(ctx context.Context, jobID string, resolutions map[string]string) (*shared.IngestionJob, error) {
	job, err := s.storage.GetIngestionJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	for key, res := range resolutions {
		switch res {
		case shared.ResolveSkip, shared.ResolveMerge, shared.ResolveOverwrite:
		default:
			return nil, shared.E(shared.KindValidationFailed, "unknown resolution %q for key %s", res, key)
		}
		found := false
		for i := range job.Conflicts {
			if job.Conflicts[i].Key == key {
				job.Conflicts[i].Resolution = res
				found = true
			}
		}
		if !found {
			return nil, shared.E(shared.KindValidationFailed, "no conflict with key %s on job", key)
		}
	}

	if err := s.storage.UpdateIngestionJob(ctx, jobID, job.Status, bson.M{"conflicts": job.Conflicts}); err != nil {
		return nil, err
	}
	return job, nil
}

// Commit applies a PREVIEW_READY job: conflicted rows follow their
// resolution, clean rows are created, and per-row failures are accumulated
// without aborting siblings. The job freezes once committed.
func (s *Service) Commit(ctx context.Context, actor *shared.Actor, jobID string) (*shared.CommitResult, []shared.ItemError, error) {
	job, err := s.storage.GetIngestionJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status == shared.JobCommitted {
		return nil, nil, shared.E(shared.KindLockedRecord, "cannot modify committed ingestion job")
	}
	if job.Status != shared.JobPreviewReady {
		return nil, nil, shared.E(shared.KindConflict, "ingestion job is not ready to commit (status %s)", job.Status)
	}

	resolutions := map[string]shared.RowConflict{}
	for _, c := range job.Conflicts {
		if c.Resolution == shared.ResolvePending {
			return nil, nil, shared.E(shared.KindValidationFailed, "conflict for %s is unresolved", c.Key)
		}
		resolutions[c.Key] = c
	}

	var (
		outcome  shared.CommitResult
		failures []shared.ItemError
	)
	for _, row := range job.Rows {
		key := naturalKey(job.TargetEntity, row)
		err := s.applyRow(ctx, actor, job.TargetEntity, key, row, resolutions, &outcome)
		if err != nil {
			outcome.Failed++
			failures = append(failures, shared.ItemError{Key: key, Error: err.Error()})
		}
	}

	if err := s.storage.CommitIngestionJob(ctx, jobID, actor.ID, outcome); err != nil {
		return nil, nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:     shared.ActionIngestionCommit,
		Actor:      actor,
		TargetKind: shared.TargetIngestion,
		TargetID:   jobID,
		Details: fmt.Sprintf("%s from %s: %d created, %d updated, %d skipped, %d failed",
			job.TargetEntity, job.FileName, outcome.Created, outcome.Updated, outcome.Skipped, outcome.Failed),
		Severity: shared.SeverityCritical,
	})
	return &outcome, failures, nil
}

func naturalKey(targetEntity string, row map[string]interface{}) string {
	switch targetEntity {
	case shared.IngestStudents:
		return stringField(row, "regno")
	case shared.IngestMarks:
		return stringField(row, "regno") + "|" + stringField(row, "subject_code")
	}
	return stringField(row, "code")
}

func (s *Service) applyRow(ctx context.Context, actor *shared.Actor, targetEntity, key string, row map[string]interface{}, resolutions map[string]shared.RowConflict, outcome *shared.CommitResult) error {
	conflict, conflicted := resolutions[key]
	if conflicted && conflict.Resolution == shared.ResolveSkip {
		outcome.Skipped++
		return nil
	}

	switch targetEntity {
	case shared.IngestStudents:
		return s.applyStudent(ctx, key, row, conflict, conflicted, outcome)
	case shared.IngestSubjects:
		return s.applySubject(ctx, key, row, conflict, conflicted, outcome)
	case shared.IngestMarks:
		return s.applyMark(ctx, actor, row, conflict, conflicted, outcome)
	}
	return shared.E(shared.KindValidationFailed, "unsupported target entity %q", targetEntity)
}

func (s *Service) applyStudent(ctx context.Context, regno string, row map[string]interface{}, conflict shared.RowConflict, conflicted bool, outcome *shared.CommitResult) error {
	batchYear, _ := numField(row, "batch_year")

	if conflicted {
		set := bson.M{
			"name":          stringField(row, "name"),
			"department_id": stringField(row, "department_id"),
			"regulation_id": stringField(row, "regulation_id"),
			"batch_year":    int32(batchYear),
		}
		if email := stringField(row, "email"); email != "" {
			set["email"] = email
		}
		if conflict.Resolution == shared.ResolveMerge {
			// Merge fills gaps only; fields the record already carries win
			existing, err := s.storage.FindStudentByRegno(ctx, regno)
			if err != nil {
				return err
			}
			pruneMerged(set, map[string]bool{
				"name":          existing.Name != "",
				"department_id": existing.DepartmentID != "",
				"regulation_id": existing.RegulationID != "",
				"batch_year":    existing.BatchYear != 0,
				"email":         existing.Email != "",
			})
			if len(set) == 0 {
				outcome.Skipped++
				return nil
			}
		}
		if err := s.storage.UpdateStudent(ctx, conflict.ExistingID, set); err != nil {
			return err
		}
		outcome.Updated++
		return nil
	}

	st := &shared.Student{
		ID:              shared.GenerateID("stu"),
		Regno:           regno,
		Name:            stringField(row, "name"),
		Gender:          stringField(row, "gender"),
		Email:           stringField(row, "email"),
		Phone:           stringField(row, "phone"),
		DepartmentID:    stringField(row, "department_id"),
		RegulationID:    stringField(row, "regulation_id"),
		BatchYear:       int32(batchYear),
		CurrentSemester: 1,
		IsActive:        true,
		FirstLogin:      true,
		CreatedAt:       time.Now(),
	}
	if sem, ok := numField(row, "current_semester"); ok {
		st.CurrentSemester = int32(sem)
	}
	if err := s.storage.InsertStudent(ctx, st); err != nil {
		return err
	}
	outcome.Created++
	return nil
}

func (s *Service) applySubject(ctx context.Context, code string, row map[string]interface{}, conflict shared.RowConflict, conflicted bool, outcome *shared.CommitResult) error {
	credits, _ := numField(row, "credits")
	semester, _ := numField(row, "semester")

	if conflicted {
		set := bson.M{
			"name":    stringField(row, "name"),
			"credits": credits,
			"type":    subjectTypeOf(row),
		}
		if conflict.Resolution == shared.ResolveMerge {
			existing, err := s.storage.FindSubjectByCode(ctx, code, stringField(row, "regulation_id"), int32(semester))
			if err != nil {
				return err
			}
			pruneMerged(set, map[string]bool{
				"name":    existing.Name != "",
				"credits": existing.Credits != 0,
				"type":    existing.Type != "",
			})
			if len(set) == 0 {
				outcome.Skipped++
				return nil
			}
		}
		if err := s.storage.UpdateSubject(ctx, conflict.ExistingID, set); err != nil {
			return err
		}
		outcome.Updated++
		return nil
	}

	sub := &shared.Subject{
		ID:           shared.GenerateID("sub"),
		Code:         code,
		Name:         stringField(row, "name"),
		Credits:      credits,
		Type:         subjectTypeOf(row),
		Semester:     int32(semester),
		RegulationID: stringField(row, "regulation_id"),
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := s.storage.InsertSubject(ctx, sub); err != nil {
		return err
	}
	outcome.Created++
	return nil
}

// applyMark resolves the row's student and subject, then creates or updates
// the DRAFT mark. The store's compare-and-set refuses marks that have left
// DRAFT, so rows against locked marks fail individually without aborting the
// rest of the commit.
func (s *Service) applyMark(ctx context.Context, actor *shared.Actor, row map[string]interface{}, conflict shared.RowConflict, conflicted bool, outcome *shared.CommitResult) error {
	regno := stringField(row, "regno")
	code := stringField(row, "subject_code")
	semester, _ := numField(row, "semester")
	academicYear := stringField(row, "academic_year")

	student, err := s.storage.FindStudentByRegno(ctx, regno)
	if err != nil {
		return err
	}
	subject, err := s.storage.FindSubjectByCode(ctx, code, student.RegulationID, int32(semester))
	if err != nil {
		return err
	}

	var internal, external *float64
	if v, ok := numField(row, "internal_marks"); ok {
		internal = &v
	}
	if v, ok := numField(row, "external_marks"); ok {
		external = &v
	}

	if conflicted {
		existing, err := s.storage.FindMark(ctx, student.ID, subject.ID, int32(semester), academicYear)
		if err != nil {
			return err
		}
		changed := false
		switch conflict.Resolution {
		case shared.ResolveOverwrite:
			if internal != nil {
				existing.Internal = internal
				changed = true
			}
			if external != nil {
				existing.External = external
				changed = true
			}
		case shared.ResolveMerge:
			// Merge fills gaps only; components already entered win
			if existing.Internal == nil && internal != nil {
				existing.Internal = internal
				changed = true
			}
			if existing.External == nil && external != nil {
				existing.External = external
				changed = true
			}
		}
		if !changed {
			outcome.Skipped++
			return nil
		}
		existing.EnteredBy = actor.ID
		if err := s.deriveMark(ctx, student, existing); err != nil {
			return err
		}
		if err := s.storage.UpdateMarkScores(ctx, existing); err != nil {
			return err
		}
		outcome.Updated++
		return nil
	}

	m := &shared.Mark{
		ID:           shared.GenerateID("mark"),
		StudentID:    student.ID,
		SubjectID:    subject.ID,
		Semester:     int32(semester),
		AcademicYear: academicYear,
		Internal:     internal,
		External:     external,
		Status:       shared.MarkDraft,
		EnteredBy:    actor.ID,
		CreatedAt:    time.Now(),
	}
	if err := s.deriveMark(ctx, student, m); err != nil {
		return err
	}
	if err := s.storage.InsertMark(ctx, m); err != nil {
		return err
	}
	outcome.Created++
	return nil
}

// deriveMark recomputes the total and grade fields from the entered
// components using the student's regulation scale. Partial entries leave the
// derived fields empty.
func (s *Service) deriveMark(ctx context.Context, student *shared.Student, m *shared.Mark) error {
	if !m.IsComplete() {
		m.Total = nil
		m.Grade = ""
		m.GradePoints = 0
		return nil
	}

	reg, err := s.storage.GetRegulation(ctx, student.RegulationID)
	if err != nil && !shared.IsKind(err, shared.KindNotFound) {
		return err
	}

	total := *m.Internal + *m.External
	grade, points, err := grades.ScaleFor(reg).GradeOf(total)
	if err != nil {
		return err
	}
	m.Total = &total
	m.Grade = grade
	m.GradePoints = points
	return nil
}

func subjectTypeOf(row map[string]interface{}) string {
	t := strings.ToUpper(stringField(row, "type"))
	switch t {
	case shared.SubjectTheory, shared.SubjectLab, shared.SubjectProject, shared.SubjectElective:
		return t
	default:
		return shared.SubjectTheory
	}
}

func pruneMerged(set bson.M, present map[string]bool) {
	for field, has := range present {
		if has {
			delete(set, field)
		}
	}
}

// Get fetches one job by ID.
func (s *Service) Get(ctx context.Context, id string) (*shared.IngestionJob, error) {
	return s.storage.GetIngestionJob(ctx, id)
}

// List returns an uploader's recent jobs.
func (s *Service) List(ctx context.Context, uploadedBy string, limit int64) ([]shared.IngestionJob, error) {
	return s.storage.ListIngestionJobs(ctx, uploadedBy, limit)
}

// stringField reads a row value as a string, stringifying numbers so CSV and
// JSON sources behave alike.
func stringField(row map[string]interface{}, field string) string {
	switch v := row[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// numField reads a row value as a number from either a numeric or string cell.
func numField(row map[string]interface{}, field string) (float64, bool) {
	switch v := row[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
