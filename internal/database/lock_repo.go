package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/kestrel/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LockRepository handles distributed per-model workflow locks, so a step is
// never executed by two pods at once
type LockRepository struct {
	collection *mongo.Collection
}

// NewLockRepository creates a new lock repository
func NewLockRepository(db *MongoDB) *LockRepository {
	return &LockRepository{
		collection: db.GetCollection(CollectionWorkflowLocks),
	}
}

// AcquireLock attempts to acquire the workflow lock for a model.
// Returns true if the lock was successfully acquired, false if it's already
// held by another pod. Uses FindOneAndUpdate with upsert for atomic
// acquisition.
func (r *LockRepository) AcquireLock(ctx context.Context, modelID, podID string, ttl time.Duration) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	// Either no lock exists for this model, or the existing lock expired
	filter := bson.M{
		"model_id": modelID,
		"$or": []bson.M{
			{"expires_at": bson.M{"$lt": now}},
			{"expires_at": bson.M{"$exists": false}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"model_id":   modelID,
			"locked_by":  podID,
			"locked_at":  now,
			"expires_at": expiresAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result model.WorkflowLock
	err := r.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&result)

	if err != nil {
		if err == mongo.ErrNoDocuments {
			return false, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			// Upsert raced an unexpired lock held by another pod
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if result.LockedBy != podID {
		return false, nil
	}

	slog.Debug("Successfully acquired workflow lock",
		"model_id", modelID,
		"pod_id", podID,
		"expires_at", expiresAt,
	)

	return true, nil
}

// ReleaseLock releases a workflow lock, but only if it's owned by the
// specified pod
func (r *LockRepository) ReleaseLock(ctx context.Context, modelID, podID string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"model_id":  modelID,
		"locked_by": podID,
	}

	result, err := r.collection.DeleteOne(ctxTimeout, filter)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Debug("Successfully released workflow lock",
			"model_id", modelID,
			"pod_id", podID,
		)
	}

	return nil
}

// ReleaseAllLocks releases all locks owned by the specified pod. Called
// during graceful shutdown.
func (r *LockRepository) ReleaseAllLocks(ctx context.Context, podID string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.collection.DeleteMany(ctxTimeout, bson.M{"locked_by": podID})
	if err != nil {
		return fmt.Errorf("failed to release all locks: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Info("Released all workflow locks during shutdown",
			"pod_id", podID,
			"count", result.DeletedCount,
		)
	}

	return nil
}

// CleanExpiredLocks removes locks whose TTL has lapsed, covering pods that
// crashed without releasing them
func (r *LockRepository) CleanExpiredLocks(ctx context.Context) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	result, err := r.collection.DeleteMany(ctxTimeout, bson.M{"expires_at": bson.M{"$lt": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired locks: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Info("Cleaned expired workflow locks",
			"count", result.DeletedCount,
		)
	}

	return result.DeletedCount, nil
}
