// ============================================================================
// internal/store/ingestion.go
// Ingestion job collection. Jobs are mutable while staged and frozen once
// COMMITTED.
// ============================================================================

package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crms/internal/shared"
)

// InsertIngestionJob stages a new upload.
func (s *Store) InsertIngestionJob(ctx context.Context, job *shared.IngestionJob) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.ingestion.InsertOne(queryCtx, job)
	return wrapMongoErr(err, "ingestion job")
}

// GetIngestionJob fetches one job by ID.
func (s *Store) GetIngestionJob(ctx context.Context, id string) (*shared.IngestionJob, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var job shared.IngestionJob
	if err := s.ingestion.FindOne(queryCtx, bson.M{"_id": id}).Decode(&job); err != nil {
		return nil, wrapMongoErr(err, "ingestion job")
	}
	return &job, nil
}

// ListIngestionJobs returns an uploader's jobs, newest-first.
func (s *Store) ListIngestionJobs(ctx context.Context, uploadedBy string, limit int64) ([]shared.IngestionJob, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := bson.M{}
	if uploadedBy != "" {
		q["uploaded_by"] = uploadedBy
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	// Row payloads can be large; listings omit them.
	cursor, err := s.ingestion.Find(queryCtx, q, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"rows": 0}))
	if err != nil {
		return nil, wrapMongoErr(err, "ingestion jobs")
	}
	defer cursor.Close(queryCtx)

	var jobs []shared.IngestionJob
	if err := cursor.All(queryCtx, &jobs); err != nil {
		return nil, wrapMongoErr(err, "ingestion jobs")
	}
	return jobs, nil
}

// UpdateIngestionJob applies a partial update after checking the job is not
// already committed. The compare-and-set on status excludes COMMITTED so a
// racing commit cannot be overwritten.
func (s *Store) UpdateIngestionJob(ctx context.Context, id, currentStatus string, set bson.M) error {
	if err := GuardIngestionUpdate(currentStatus); err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set["updated_at"] = time.Now()
	res, err := s.ingestion.UpdateOne(queryCtx,
		bson.M{"_id": id, "status": bson.M{"$ne": shared.JobCommitted}},
		bson.M{"$set": set},
	)
	if err != nil {
		return wrapMongoErr(err, "ingestion job")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindLockedRecord, "cannot modify committed ingestion job")
	}
	return nil
}

// CommitIngestionJob finalizes a job: only a PREVIEW_READY job can commit,
// and exactly once.
func (s *Store) CommitIngestionJob(ctx context.Context, id, committedBy string, outcome shared.CommitResult) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	res, err := s.ingestion.UpdateOne(queryCtx,
		bson.M{"_id": id, "status": shared.JobPreviewReady},
		bson.M{"$set": bson.M{
			"status":        shared.JobCommitted,
			"committed_at":  now,
			"committed_by":  committedBy,
			"commit_result": outcome,
			"updated_at":    now,
		}},
	)
	if err != nil {
		return wrapMongoErr(err, "ingestion job")
	}
	if res.MatchedCount == 0 {
		return shared.E(shared.KindConflict, "ingestion job is not ready to commit")
	}
	return nil
}
