// ============================================================================
// internal/store/results.go
// Result collection access. Results are insert-only; the single admissible
// mutation is the is_latest flip, performed atomically with its paired
// insert so no reader sees two latest versions for one (student, semester).
// ============================================================================

package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crms/internal/shared"
)

// ResultFilter selects result snapshots.
type ResultFilter struct {
	StudentID    string
	Semester     int32
	AcademicYear string
	LatestOnly   bool
}

func (f ResultFilter) query() bson.M {
	q := bson.M{}
	if f.StudentID != "" {
		q["student_id"] = f.StudentID
	}
	if f.Semester > 0 {
		q["semester"] = f.Semester
	}
	if f.AcademicYear != "" {
		q["academic_year"] = f.AcademicYear
	}
	if f.LatestOnly {
		q["is_latest"] = true
	}
	return q
}

// GetResult fetches one result by ID.
func (s *Store) GetResult(ctx context.Context, id string) (*shared.Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var r shared.Result
	if err := s.results.FindOne(queryCtx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, wrapMongoErr(err, "result")
	}
	return &r, nil
}

// ListResults returns results in scope, ordered by semester then version.
func (s *Store) ListResults(ctx context.Context, f ResultFilter) ([]shared.Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.results.Find(queryCtx, f.query(),
		options.Find().SetSort(bson.D{{Key: "semester", Value: 1}, {Key: "version", Value: 1}}))
	if err != nil {
		return nil, wrapMongoErr(err, "results")
	}
	defer cursor.Close(queryCtx)

	var results []shared.Result
	if err := cursor.All(queryCtx, &results); err != nil {
		return nil, wrapMongoErr(err, "results")
	}
	return results, nil
}

// FindLatestResult returns the latest result for a (student, semester) pair,
// or nil when none exists.
func (s *Store) FindLatestResult(ctx context.Context, studentID string, semester int32) (*shared.Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var r shared.Result
	err := s.results.FindOne(queryCtx, bson.M{
		"student_id": studentID,
		"semester":   semester,
		"is_latest":  true,
	}).Decode(&r)
	if err != nil {
		if shared.IsKind(wrapMongoErr(err, "result"), shared.KindNotFound) {
			return nil, nil
		}
		return nil, wrapMongoErr(err, "result")
	}
	return &r, nil
}

// MaxResultVersion returns the highest version recorded for a
// (student, semester) pair, zero when none exists. Version numbers continue
// across rollback/republish cycles so the chain never restarts.
func (s *Store) MaxResultVersion(ctx context.Context, studentID string, semester int32) (int32, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var r shared.Result
	err := s.results.FindOne(queryCtx,
		bson.M{"student_id": studentID, "semester": semester},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}),
	).Decode(&r)
	if err != nil {
		if shared.IsKind(wrapMongoErr(err, "result"), shared.KindNotFound) {
			return 0, nil
		}
		return 0, wrapMongoErr(err, "result")
	}
	return r.Version, nil
}

// CountResults counts results in scope.
func (s *Store) CountResults(ctx context.Context, f ResultFilter) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	n, err := s.results.CountDocuments(queryCtx, f.query())
	if err != nil {
		return 0, wrapMongoErr(err, "results")
	}
	return n, nil
}

// UpdateResult applies an update to an existing result after running it
// through the immutability guard. Only the is_latest flip survives the
// guard; every other field is rejected for all actors including admin.
func (s *Store) UpdateResult(ctx context.Context, id string, set bson.M) error {
	fields := make([]string, 0, len(set))
	for k := range set {
		fields = append(fields, k)
	}
	if err := GuardResultUpdate(fields); err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.results.UpdateOne(queryCtx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return wrapMongoErr(err, "result")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindNotFound, "result not found")
	}
	return nil
}

// DeactivateResult flips is_latest to false on the named result. The
// compare-and-set on is_latest makes a concurrent double-deactivate visible
// as a no-match.
func (s *Store) DeactivateResult(ctx context.Context, id string) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return s.deactivateResult(queryCtx, id)
}

func (s *Store) deactivateResult(ctx context.Context, id string) error {
	res, err := s.results.UpdateOne(ctx,
		bson.M{"_id": id, "is_latest": true},
		bson.M{"$set": bson.M{"is_latest": false}},
	)
	if err != nil {
		return wrapMongoErr(err, "result")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindValidationFailed, "result is not the latest version")
	}
	return nil
}

// SupersedeResult atomically deactivates the prior version (when present)
// and inserts its successor. supersedeID may be empty for a first
// publication. Both writes are linearizable as a pair; no reader observes
// two or zero latest results for the (student, semester).
func (s *Store) SupersedeResult(ctx context.Context, supersedeID string, next *shared.Result) error {
	return s.withTxn(ctx, func(txCtx context.Context) error {
		if supersedeID != "" {
			if err := s.deactivateResult(txCtx, supersedeID); err != nil {
				return err
			}
		}
		if _, err := s.results.InsertOne(txCtx, next); err != nil {
			return wrapMongoErr(err, "result")
		}
		return nil
	})
}

// PublishStudentResult performs the per-student unit of the publish batch:
// deactivate the prior version, insert the new snapshot, and flip the
// student's marks in scope to PUBLISHED — atomically as one unit.
func (s *Store) PublishStudentResult(ctx context.Context, supersedeID string, next *shared.Result) error {
	return s.withTxn(ctx, func(txCtx context.Context) error {
		if supersedeID != "" {
			if err := s.deactivateResult(txCtx, supersedeID); err != nil {
				return err
			}
		}
		if _, err := s.results.InsertOne(txCtx, next); err != nil {
			return wrapMongoErr(err, "result")
		}
		return s.publishMarks(txCtx, next.StudentID, next.Semester, next.AcademicYear)
	})
}
