// ============================================================================
// internal/store/marks.go
// Marks collection access with lifecycle compare-and-set transitions
// ============================================================================

package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crms/internal/shared"
)

// MarkFilter selects marks by scope. Zero values are ignored; a non-nil
// SubjectIDs restricts to that set even when empty.
type MarkFilter struct {
	StudentID    string
	SubjectID    string
	SubjectIDs   []string
	Semester     int32
	AcademicYear string
	Status       string
	StatusNot    string
	StatusNotIn  []string
}

func (f MarkFilter) query() bson.M {
	q := bson.M{}
	if f.StudentID != "" {
		q["student_id"] = f.StudentID
	}
	if f.SubjectID != "" {
		q["subject_id"] = f.SubjectID
	}
	if f.SubjectIDs != nil {
		q["subject_id"] = bson.M{"$in": f.SubjectIDs}
	}
	if f.Semester > 0 {
		q["semester"] = f.Semester
	}
	if f.AcademicYear != "" {
		q["academic_year"] = f.AcademicYear
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.StatusNot != "" {
		q["status"] = bson.M{"$ne": f.StatusNot}
	}
	if len(f.StatusNotIn) > 0 {
		q["status"] = bson.M{"$nin": f.StatusNotIn}
	}
	return q
}

// GetMark fetches one mark by ID.
func (s *Store) GetMark(ctx context.Context, id string) (*shared.Mark, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var m shared.Mark
	if err := s.marks.FindOne(queryCtx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, wrapMongoErr(err, "mark")
	}
	return &m, nil
}

// FindMark fetches the mark identified by its natural key, or a NotFound
// error.
func (s *Store) FindMark(ctx context.Context, studentID, subjectID string, semester int32, academicYear string) (*shared.Mark, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"student_id":    studentID,
		"subject_id":    subjectID,
		"semester":      semester,
		"academic_year": academicYear,
	}

	var m shared.Mark
	if err := s.marks.FindOne(queryCtx, filter).Decode(&m); err != nil {
		return nil, wrapMongoErr(err, "mark")
	}
	return &m, nil
}

// InsertMark creates a new mark document.
func (s *Store) InsertMark(ctx context.Context, m *shared.Mark) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.marks.InsertOne(queryCtx, m)
	return wrapMongoErr(err, "mark")
}

// UpdateMarkScores writes the score fields and their derived values. The
// compare-and-set on status enforces the DRAFT-only mutability window even
// under concurrent lock attempts.
func (s *Store) UpdateMarkScores(ctx context.Context, m *shared.Mark) error {
	if err := GuardMarkScores(m.Status); err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.marks.UpdateOne(queryCtx,
		bson.M{"_id": m.ID, "status": shared.MarkDraft},
		bson.M{"$set": bson.M{
			"internal_marks": m.Internal,
			"external_marks": m.External,
			"total_marks":    m.Total,
			"grade":          m.Grade,
			"grade_points":   m.GradePoints,
			"entered_by":     m.EnteredBy,
			"updated_at":     time.Now(),
		}},
	)
	if err != nil {
		return wrapMongoErr(err, "mark")
	}
	if res.MatchedCount == 0 {
		// Either the mark vanished or it left DRAFT between read and write
		return shared.E(shared.KindLockedRecord, "cannot modify marks after locking")
	}
	return nil
}

// ListMarks returns all marks in scope.
func (s *Store) ListMarks(ctx context.Context, f MarkFilter) ([]shared.Mark, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.marks.Find(queryCtx, f.query(),
		options.Find().SetSort(bson.D{{Key: "student_id", Value: 1}, {Key: "subject_id", Value: 1}}))
	if err != nil {
		return nil, wrapMongoErr(err, "marks")
	}
	defer cursor.Close(queryCtx)

	var marks []shared.Mark
	if err := cursor.All(queryCtx, &marks); err != nil {
		return nil, wrapMongoErr(err, "marks")
	}
	return marks, nil
}

// CountMarks counts marks in scope.
func (s *Store) CountMarks(ctx context.Context, f MarkFilter) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	n, err := s.marks.CountDocuments(queryCtx, f.query())
	if err != nil {
		return 0, wrapMongoErr(err, "marks")
	}
	return n, nil
}

// CountMarksByStatus groups marks in scope by lifecycle status.
func (s *Store) CountMarksByStatus(ctx context.Context, f MarkFilter) (map[string]int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: f.query()}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.marks.Aggregate(queryCtx, pipeline)
	if err != nil {
		return nil, wrapMongoErr(err, "marks")
	}
	defer cursor.Close(queryCtx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(queryCtx, &rows); err != nil {
		return nil, wrapMongoErr(err, "marks")
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// LockMarks transitions every DRAFT mark in scope to LOCKED, stamping the
// locker. Returns the number transitioned.
func (s *Store) LockMarks(ctx context.Context, subjectID string, semester int32, academicYear, lockedBy string) (int64, error) {
	return s.transitionMarks(ctx,
		MarkFilter{SubjectID: subjectID, Semester: semester, AcademicYear: academicYear, Status: shared.MarkDraft},
		bson.M{
			"status":    shared.MarkLocked,
			"locked_at": time.Now(),
			"locked_by": lockedBy,
		})
}

// LockSemesterMarks transitions every DRAFT mark across a whole semester to
// LOCKED, the examinations-cell sweep before publication. Returns the number
// transitioned.
func (s *Store) LockSemesterMarks(ctx context.Context, semester int32, academicYear, lockedBy string) (int64, error) {
	return s.transitionMarks(ctx,
		MarkFilter{Semester: semester, AcademicYear: academicYear, Status: shared.MarkDraft},
		bson.M{
			"status":    shared.MarkLocked,
			"locked_at": time.Now(),
			"locked_by": lockedBy,
		})
}

// VerifyMarks transitions every LOCKED mark in scope to VERIFIED, stamping
// the verifier. Returns the number transitioned; zero means nothing matched.
func (s *Store) VerifyMarks(ctx context.Context, subjectID string, semester int32, academicYear, verifiedBy string) (int64, error) {
	return s.transitionMarks(ctx,
		MarkFilter{SubjectID: subjectID, Semester: semester, AcademicYear: academicYear, Status: shared.MarkLocked},
		bson.M{
			"status":      shared.MarkVerified,
			"verified_at": time.Now(),
			"verified_by": verifiedBy,
		})
}

// ReopenMarks reverts one student's PUBLISHED marks back to VERIFIED. Used
// only by the result rollback path.
func (s *Store) ReopenMarks(ctx context.Context, studentID string, semester int32, academicYear string) (int64, error) {
	return s.transitionMarks(ctx,
		MarkFilter{StudentID: studentID, Semester: semester, AcademicYear: academicYear, Status: shared.MarkPublished},
		bson.M{"status": shared.MarkVerified})
}

func (s *Store) transitionMarks(ctx context.Context, f MarkFilter, set bson.M) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.marks.UpdateMany(queryCtx, f.query(), bson.M{"$set": set})
	if err != nil {
		return 0, wrapMongoErr(err, "marks")
	}
	return res.ModifiedCount, nil
}

// publishMarks flips one student's VERIFIED marks to PUBLISHED inside the
// publish transaction context.
func (s *Store) publishMarks(ctx context.Context, studentID string, semester int32, academicYear string) error {
	filter := MarkFilter{
		StudentID:    studentID,
		Semester:     semester,
		AcademicYear: academicYear,
		Status:       shared.MarkVerified,
	}
	_, err := s.marks.UpdateMany(ctx, filter.query(), bson.M{"$set": bson.M{"status": shared.MarkPublished}})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return wrapMongoErr(err, "marks")
	}
	return nil
}
