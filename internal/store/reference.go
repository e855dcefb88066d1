// ============================================================================
// internal/store/reference.go
// Reference collections: users, students, departments, regulations, subjects.
// Mutable under normal CRUD rules.
// ============================================================================

package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crms/internal/shared"
)

// ============================================================================
// Users
// ============================================================================

// InsertUser creates a staff account.
func (s *Store) InsertUser(ctx context.Context, u *shared.User) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.users.InsertOne(queryCtx, u)
	return wrapMongoErr(err, "user")
}

// GetUser fetches one staff account by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*shared.User, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u shared.User
	if err := s.users.FindOne(queryCtx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, wrapMongoErr(err, "user")
	}
	return &u, nil
}

// FindUserByUsername fetches one staff account by username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*shared.User, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u shared.User
	if err := s.users.FindOne(queryCtx, bson.M{"username": username}).Decode(&u); err != nil {
		return nil, wrapMongoErr(err, "user")
	}
	return &u, nil
}

// ListUsers returns active users, optionally filtered by role.
func (s *Store) ListUsers(ctx context.Context, roles []string) ([]shared.User, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := bson.M{"is_active": true}
	if len(roles) > 0 {
		q["role"] = bson.M{"$in": roles}
	}

	cursor, err := s.users.Find(queryCtx, q, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, wrapMongoErr(err, "users")
	}
	defer cursor.Close(queryCtx)

	var users []shared.User
	if err := cursor.All(queryCtx, &users); err != nil {
		return nil, wrapMongoErr(err, "users")
	}
	return users, nil
}

// UpdateUser applies a partial update to a staff account.
func (s *Store) UpdateUser(ctx context.Context, id string, set bson.M) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set["updated_at"] = time.Now()
	res, err := s.users.UpdateOne(queryCtx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return wrapMongoErr(err, "user")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindNotFound, "user not found")
	}
	return nil
}

// ============================================================================
// Students
// ============================================================================

// StudentFilter selects students for listing.
type StudentFilter struct {
	Search       string
	Semester     int32
	BatchYear    int32
	DepartmentID string
	Page         int64
	Limit        int64
}

// InsertStudent creates a student record.
func (s *Store) InsertStudent(ctx context.Context, st *shared.Student) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.students.InsertOne(queryCtx, st)
	return wrapMongoErr(err, "student")
}

// GetStudent fetches one student by ID.
func (s *Store) GetStudent(ctx context.Context, id string) (*shared.Student, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var st shared.Student
	if err := s.students.FindOne(queryCtx, bson.M{"_id": id}).Decode(&st); err != nil {
		return nil, wrapMongoErr(err, "student")
	}
	return &st, nil
}

// FindStudentByRegno fetches one student by registration number.
func (s *Store) FindStudentByRegno(ctx context.Context, regno string) (*shared.Student, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var st shared.Student
	if err := s.students.FindOne(queryCtx, bson.M{"regno": regno}).Decode(&st); err != nil {
		return nil, wrapMongoErr(err, "student")
	}
	return &st, nil
}

// GetStudentsByIDs fetches a batch of students keyed by ID.
func (s *Store) GetStudentsByIDs(ctx context.Context, ids []string) (map[string]shared.Student, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.students.Find(queryCtx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, wrapMongoErr(err, "students")
	}
	defer cursor.Close(queryCtx)

	byID := make(map[string]shared.Student, len(ids))
	for cursor.Next(queryCtx) {
		var st shared.Student
		if err := cursor.Decode(&st); err != nil {
			continue
		}
		byID[st.ID] = st
	}
	return byID, nil
}

// ListStudents returns active students matching the filter, paginated.
func (s *Store) ListStudents(ctx context.Context, f StudentFilter) ([]shared.Student, int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := bson.M{"is_active": true}
	if f.Search != "" {
		q["$or"] = []bson.M{
			{"regno": bson.M{"$regex": f.Search, "$options": "i"}},
			{"name": bson.M{"$regex": f.Search, "$options": "i"}},
		}
	}
	if f.Semester > 0 {
		q["current_semester"] = f.Semester
	}
	if f.BatchYear > 0 {
		q["batch_year"] = f.BatchYear
	}
	if f.DepartmentID != "" {
		q["department_id"] = f.DepartmentID
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	total, err := s.students.CountDocuments(queryCtx, q)
	if err != nil {
		return nil, 0, wrapMongoErr(err, "students")
	}

	cursor, err := s.students.Find(queryCtx, q, options.Find().
		SetSort(bson.D{{Key: "regno", Value: 1}}).
		SetSkip((page-1)*limit).
		SetLimit(limit))
	if err != nil {
		return nil, 0, wrapMongoErr(err, "students")
	}
	defer cursor.Close(queryCtx)

	var students []shared.Student
	if err := cursor.All(queryCtx, &students); err != nil {
		return nil, 0, wrapMongoErr(err, "students")
	}
	return students, total, nil
}

// UpdateStudent applies a partial update to a student record.
func (s *Store) UpdateStudent(ctx context.Context, id string, set bson.M) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set["updated_at"] = time.Now()
	res, err := s.students.UpdateOne(queryCtx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return wrapMongoErr(err, "student")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindNotFound, "student not found")
	}
	return nil
}

// CountStudents counts active students.
func (s *Store) CountStudents(ctx context.Context) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	n, err := s.students.CountDocuments(queryCtx, bson.M{"is_active": true})
	if err != nil {
		return 0, wrapMongoErr(err, "students")
	}
	return n, nil
}

// ============================================================================
// Departments
// ============================================================================

// InsertDepartment creates a department.
func (s *Store) InsertDepartment(ctx context.Context, d *shared.Department) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.departments.InsertOne(queryCtx, d)
	return wrapMongoErr(err, "department")
}

// GetDepartment fetches one department by ID.
func (s *Store) GetDepartment(ctx context.Context, id string) (*shared.Department, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var d shared.Department
	if err := s.departments.FindOne(queryCtx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, wrapMongoErr(err, "department")
	}
	return &d, nil
}

// ListDepartments returns active departments.
func (s *Store) ListDepartments(ctx context.Context) ([]shared.Department, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.departments.Find(queryCtx, bson.M{"is_active": true},
		options.Find().SetSort(bson.D{{Key: "code", Value: 1}}))
	if err != nil {
		return nil, wrapMongoErr(err, "departments")
	}
	defer cursor.Close(queryCtx)

	var departments []shared.Department
	if err := cursor.All(queryCtx, &departments); err != nil {
		return nil, wrapMongoErr(err, "departments")
	}
	return departments, nil
}

// UpdateDepartment applies a partial update to a department.
func (s *Store) UpdateDepartment(ctx context.Context, id string, set bson.M) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.departments.UpdateOne(queryCtx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return wrapMongoErr(err, "department")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindNotFound, "department not found")
	}
	return nil
}

// ============================================================================
// Regulations
// ============================================================================

// InsertRegulation creates a regulation.
func (s *Store) InsertRegulation(ctx context.Context, r *shared.Regulation) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.regulations.InsertOne(queryCtx, r)
	return wrapMongoErr(err, "regulation")
}

// GetRegulation fetches one regulation by ID.
func (s *Store) GetRegulation(ctx context.Context, id string) (*shared.Regulation, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var r shared.Regulation
	if err := s.regulations.FindOne(queryCtx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, wrapMongoErr(err, "regulation")
	}
	return &r, nil
}

// GetRegulationsByIDs fetches a batch of regulations keyed by ID. The
// publication pipeline snapshot-reads these once per batch so a mid-batch
// edit cannot skew per-student grading.
func (s *Store) GetRegulationsByIDs(ctx context.Context, ids []string) (map[string]shared.Regulation, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.regulations.Find(queryCtx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, wrapMongoErr(err, "regulations")
	}
	defer cursor.Close(queryCtx)

	byID := make(map[string]shared.Regulation, len(ids))
	for cursor.Next(queryCtx) {
		var r shared.Regulation
		if err := cursor.Decode(&r); err != nil {
			continue
		}
		byID[r.ID] = r
	}
	return byID, nil
}

// ListRegulations returns active regulations.
func (s *Store) ListRegulations(ctx context.Context) ([]shared.Regulation, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.regulations.Find(queryCtx, bson.M{"is_active": true},
		options.Find().SetSort(bson.D{{Key: "effective_from", Value: -1}}))
	if err != nil {
		return nil, wrapMongoErr(err, "regulations")
	}
	defer cursor.Close(queryCtx)

	var regulations []shared.Regulation
	if err := cursor.All(queryCtx, &regulations); err != nil {
		return nil, wrapMongoErr(err, "regulations")
	}
	return regulations, nil
}

// ============================================================================
// Subjects
// ============================================================================

// InsertSubject creates a subject in the catalog.
func (s *Store) InsertSubject(ctx context.Context, sub *shared.Subject) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.subjects.InsertOne(queryCtx, sub)
	return wrapMongoErr(err, "subject")
}

// GetSubject fetches one subject by ID.
func (s *Store) GetSubject(ctx context.Context, id string) (*shared.Subject, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sub shared.Subject
	if err := s.subjects.FindOne(queryCtx, bson.M{"_id": id}).Decode(&sub); err != nil {
		return nil, wrapMongoErr(err, "subject")
	}
	return &sub, nil
}

// FindSubjectByCode fetches one subject by its natural key.
func (s *Store) FindSubjectByCode(ctx context.Context, code, regulationID string, semester int32) (*shared.Subject, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := bson.M{"code": code}
	if regulationID != "" {
		q["regulation_id"] = regulationID
	}
	if semester > 0 {
		q["semester"] = semester
	}

	var sub shared.Subject
	if err := s.subjects.FindOne(queryCtx, q).Decode(&sub); err != nil {
		return nil, wrapMongoErr(err, "subject")
	}
	return &sub, nil
}

// GetSubjectsByIDs fetches a batch of catalog subjects keyed by ID. The
// publication pipeline snapshot-reads the catalog once per batch.
func (s *Store) GetSubjectsByIDs(ctx context.Context, ids []string) (map[string]shared.Subject, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.subjects.Find(queryCtx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, wrapMongoErr(err, "subjects")
	}
	defer cursor.Close(queryCtx)

	byID := make(map[string]shared.Subject, len(ids))
	for cursor.Next(queryCtx) {
		var sub shared.Subject
		if err := cursor.Decode(&sub); err != nil {
			continue
		}
		byID[sub.ID] = sub
	}
	return byID, nil
}

// ListSubjects returns active subjects, optionally scoped by semester and
// regulation.
func (s *Store) ListSubjects(ctx context.Context, semester int32, regulationID string) ([]shared.Subject, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := bson.M{"is_active": true}
	if semester > 0 {
		q["semester"] = semester
	}
	if regulationID != "" {
		q["regulation_id"] = regulationID
	}

	cursor, err := s.subjects.Find(queryCtx, q,
		options.Find().SetSort(bson.D{{Key: "semester", Value: 1}, {Key: "code", Value: 1}}))
	if err != nil {
		return nil, wrapMongoErr(err, "subjects")
	}
	defer cursor.Close(queryCtx)

	var subjects []shared.Subject
	if err := cursor.All(queryCtx, &subjects); err != nil {
		return nil, wrapMongoErr(err, "subjects")
	}
	return subjects, nil
}

// UpdateSubject applies a partial update to a catalog subject.
func (s *Store) UpdateSubject(ctx context.Context, id string, set bson.M) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.subjects.UpdateOne(queryCtx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return wrapMongoErr(err, "subject")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindNotFound, "subject not found")
	}
	return nil
}
