// ============================================================================
// internal/store/audit.go
// Audit log collection: insert-only, guarded at the storage layer
// ============================================================================

package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crms/internal/shared"
)

// AuditFilter selects audit entries for listing and export.
type AuditFilter struct {
	ActorID  string
	Action   string
	Severity string
	From     time.Time
	To       time.Time
	Page     int64
	Limit    int64
}

func (f AuditFilter) query() bson.M {
	q := bson.M{}
	if f.ActorID != "" {
		q["actor_id"] = f.ActorID
	}
	if f.Action != "" {
		q["action"] = f.Action
	}
	if f.Severity != "" {
		q["severity"] = f.Severity
	}
	created := bson.M{}
	if !f.From.IsZero() {
		created["$gte"] = f.From
	}
	if !f.To.IsZero() {
		created["$lte"] = f.To
	}
	if len(created) > 0 {
		q["created_at"] = created
	}
	return q
}

// InsertAuditEntry appends one immutable entry.
func (s *Store) InsertAuditEntry(ctx context.Context, e *shared.AuditLogEntry) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.auditLogs.InsertOne(queryCtx, e)
	return wrapMongoErr(err, "audit entry")
}

// ListAuditEntries returns entries newest-first, paginated.
func (s *Store) ListAuditEntries(ctx context.Context, f AuditFilter) ([]shared.AuditLogEntry, int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	total, err := s.auditLogs.CountDocuments(queryCtx, f.query())
	if err != nil {
		return nil, 0, wrapMongoErr(err, "audit entries")
	}

	cursor, err := s.auditLogs.Find(queryCtx, f.query(), options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page-1)*limit).
		SetLimit(limit))
	if err != nil {
		return nil, 0, wrapMongoErr(err, "audit entries")
	}
	defer cursor.Close(queryCtx)

	var entries []shared.AuditLogEntry
	if err := cursor.All(queryCtx, &entries); err != nil {
		return nil, 0, wrapMongoErr(err, "audit entries")
	}
	return entries, total, nil
}

// UpdateAuditEntry always fails: the audit trail is the system's evidence
// record and admits no mutation through any code path.
func (s *Store) UpdateAuditEntry(ctx context.Context, id string, set bson.M) error {
	return GuardAuditWrite("update")
}

// DeleteAuditEntry always fails for the same reason. Retention expiry is a
// storage TTL concern, not a delete path.
func (s *Store) DeleteAuditEntry(ctx context.Context, id string) error {
	return GuardAuditWrite("delete")
}
