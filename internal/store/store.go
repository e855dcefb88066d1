// ============================================================================
// internal/store/store.go
// Mongo-backed storage layer. All writes to guarded collections (results,
// audit_logs) go through this package so the immutability invariants live in
// one place.
// ============================================================================

package store

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crms/internal/shared"
)

const queryTimeout = 10 * time.Second

// Store wraps the MongoDB database with typed collection access.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	users        *mongo.Collection
	students     *mongo.Collection
	departments  *mongo.Collection
	regulations  *mongo.Collection
	subjects     *mongo.Collection
	marks        *mongo.Collection
	results      *mongo.Collection
	auditLogs    *mongo.Collection
	sessions     *mongo.Collection
	ingestion    *mongo.Collection
	rateCounters *mongo.Collection
}

// New creates a Store over a connected database.
func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:       client,
		db:           db,
		users:        db.Collection("users"),
		students:     db.Collection("students"),
		departments:  db.Collection("departments"),
		regulations:  db.Collection("regulations"),
		subjects:     db.Collection("subjects"),
		marks:        db.Collection("marks"),
		results:      db.Collection("results"),
		auditLogs:    db.Collection("audit_logs"),
		sessions:     db.Collection("sessions"),
		ingestion:    db.Collection("ingestion_jobs"),
		rateCounters: db.Collection("rate_counters"),
	}
}

// EnsureIndexes creates the unique, query, and TTL indexes the invariants
// depend on. Safe to call on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.users: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "role", Value: 1}, {Key: "is_active", Value: 1}}},
		},
		s.students: {
			{Keys: bson.D{{Key: "regno", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "department_id", Value: 1}, {Key: "batch_year", Value: 1}}},
			{Keys: bson.D{{Key: "regulation_id", Value: 1}, {Key: "current_semester", Value: 1}}},
		},
		s.regulations: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.subjects: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}, {Key: "regulation_id", Value: 1}, {Key: "semester", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		s.marks: {
			{
				Keys: bson.D{
					{Key: "student_id", Value: 1}, {Key: "subject_id", Value: 1},
					{Key: "semester", Value: 1}, {Key: "academic_year", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "subject_id", Value: 1}, {Key: "semester", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		s.results: {
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "semester", Value: 1}, {Key: "is_latest", Value: 1}}},
			{Keys: bson.D{{Key: "academic_year", Value: 1}, {Key: "semester", Value: 1}}},
			{Keys: bson.D{{Key: "published_at", Value: -1}}},
		},
		s.auditLogs: {
			{Keys: bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "created_at", Value: -1}}},
			// Retention: entries expire after five years via storage TTL,
			// never through an application delete path.
			{
				Keys:    bson.D{{Key: "created_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(int32(shared.AuditRetention.Seconds())),
			},
		},
		s.sessions: {
			{Keys: bson.D{{Key: "token", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		s.ingestion: {
			{Keys: bson.D{{Key: "uploaded_by", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		s.rateCounters: {
			{Keys: bson.D{{Key: "window_start", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32((2 * shared.BulkRateWindow).Seconds()))},
		},
	}

	for col, models := range indexes {
		if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

// withTxn runs fn inside a Mongo session transaction so paired writes are
// linearizable as a unit. Deployments without replica-set transactions fall
// back to sequential writes; the compare-and-set filters on isLatest keep the
// pair safe to retry.
func (s *Store) withTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		log.Printf("Warning: sessions unavailable, running writes without transaction: %v", err)
		return fn(ctx)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && isTxnUnsupported(err) {
		log.Printf("Warning: transactions unsupported by deployment, running writes sequentially")
		return fn(ctx)
	}
	return err
}

func isTxnUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		// IllegalOperation: transaction numbers only allowed on replica sets
		return cmdErr.Code == 20
	}
	return false
}

// wrapMongoErr maps driver errors to the shared error taxonomy.
func wrapMongoErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return shared.E(shared.KindNotFound, "%s not found", what)
	case mongo.IsDuplicateKeyError(err):
		return shared.Wrap(shared.KindConflict, err, "%s already exists", what)
	default:
		return shared.Wrap(shared.KindInternal, err, "database error on %s", what)
	}
}
