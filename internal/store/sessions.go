// ============================================================================
// internal/store/sessions.go
// Session tracking for JWT revocation, plus the persisted bulk-operation
// rate counters.
// ============================================================================

package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crms/internal/shared"
)

// InsertSession records an issued token so logout can revoke it.
func (s *Store) InsertSession(ctx context.Context, sess *shared.Session) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.sessions.InsertOne(queryCtx, sess)
	return wrapMongoErr(err, "session")
}

// CountSessionsByToken reports whether a token still has a live session.
// Zero means revoked or expired.
func (s *Store) CountSessionsByToken(ctx context.Context, token string) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	n, err := s.sessions.CountDocuments(queryCtx, bson.M{
		"token":      token,
		"expires_at": bson.M{"$gt": time.Now()},
	})
	if err != nil {
		return 0, wrapMongoErr(err, "session")
	}
	return n, nil
}

// DeleteSessionsByToken revokes every session carrying the token. Deleting
// zero sessions is not an error; logout is idempotent.
func (s *Store) DeleteSessionsByToken(ctx context.Context, token string) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.sessions.DeleteMany(queryCtx, bson.M{"token": token}); err != nil {
		return wrapMongoErr(err, "session")
	}
	return nil
}

// DeleteSessionsByActor revokes every session an actor holds, e.g. on
// suspension or password change.
func (s *Store) DeleteSessionsByActor(ctx context.Context, actorID string) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.sessions.DeleteMany(queryCtx, bson.M{"actor_id": actorID}); err != nil {
		return wrapMongoErr(err, "session")
	}
	return nil
}

// IncrBulkCounter bumps the actor's fixed-window bulk-operation counter and
// returns the new count. The window key is derived from now truncated to the
// window size, so the counter document is shared by every instance and the
// $inc upsert keeps concurrent bumps exact.
func (s *Store) IncrBulkCounter(ctx context.Context, actorID string, now time.Time) (int32, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	windowStart := now.Truncate(shared.BulkRateWindow)
	id := fmt.Sprintf("%s:%d", actorID, windowStart.Unix())

	var counter shared.RateCounter
	err := s.rateCounters.FindOneAndUpdate(queryCtx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"count": 1},
			"$setOnInsert": bson.M{
				"actor_id":     actorID,
				"window_start": windowStart,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, wrapMongoErr(err, "rate counter")
	}
	return counter.Count, nil
}
