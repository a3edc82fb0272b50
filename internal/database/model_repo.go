package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/kestrel/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ModelRecordRepository handles model record operations
type ModelRecordRepository struct {
	collection *mongo.Collection
}

// NewModelRecordRepository creates a new model record repository
func NewModelRecordRepository(db *MongoDB) *ModelRecordRepository {
	return &ModelRecordRepository{
		collection: db.GetCollection(CollectionModelRecords),
	}
}

// Create inserts a new model record
func (r *ModelRecordRepository) Create(ctx context.Context, rec *model.ModelRecord) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctxTimeout, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.NewValidationError("model '%s' already exists", rec.ModelID)
		}
		return fmt.Errorf("failed to create model record: %w", err)
	}

	return nil
}

// Upsert replaces the model record, creating it if absent. Used by the
// idempotent workflow entry step, which may be redelivered.
func (r *ModelRecordRepository) Upsert(ctx context.Context, rec *model.ModelRecord) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctxTimeout, bson.M{"_id": rec.ModelID}, rec, opts); err != nil {
		return fmt.Errorf("failed to upsert model record: %w", err)
	}

	return nil
}

// GetByID retrieves a model record by model id
func (r *ModelRecordRepository) GetByID(ctx context.Context, modelID string) (*model.ModelRecord, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec model.ModelRecord
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": modelID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model record: %w", err)
	}

	return &rec, nil
}

// List retrieves model records with filtering and pagination
func (r *ModelRecordRepository) List(ctx context.Context, filter bson.M, page, limit int) ([]model.ModelRecord, int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	total, err := r.collection.CountDocuments(ctxTimeout, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count model records: %w", err)
	}

	skip := (page - 1) * limit
	opts := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list model records: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var records []model.ModelRecord
	if err := cursor.All(ctxTimeout, &records); err != nil {
		return nil, 0, fmt.Errorf("failed to decode model records: %w", err)
	}

	return records, total, nil
}

// SetStatus updates a model's status. The failure reason is set on FAILED
// and cleared on any other status.
func (r *ModelRecordRepository) SetStatus(ctx context.Context, modelID string, status model.Status, failureReason string) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	update := bson.M{"$set": set}
	if status == model.StatusFailed {
		set["failure_reason"] = failureReason
	} else {
		update["$unset"] = bson.M{"failure_reason": ""}
	}

	return r.updateOne(ctx, modelID, update)
}

// SetDeploymentConfig replaces the model's deployment configuration
// wholesale
func (r *ModelRecordRepository) SetDeploymentConfig(ctx context.Context, modelID string, cfg *model.DeploymentConfig) error {
	return r.updateOne(ctx, modelID, bson.M{"$set": bson.M{
		"deployment_config": cfg,
		"updated_at":        time.Now().UTC(),
	}})
}

// SetInfrastructure records the stack handle and, once known, the
// deployment's endpoint and resource group
func (r *ModelRecordRepository) SetInfrastructure(ctx context.Context, modelID, handle, endpoint, resourceGroup string) error {
	set := bson.M{
		"infrastructure_handle": handle,
		"updated_at":            time.Now().UTC(),
	}
	if endpoint != "" {
		set["endpoint"] = endpoint
	}
	if resourceGroup != "" {
		set["resource_group"] = resourceGroup
	}

	return r.updateOne(ctx, modelID, bson.M{"$set": set})
}

// SetRoute records the model's route id and attached guardrail ids
func (r *ModelRecordRepository) SetRoute(ctx context.Context, modelID, routeID string, guardrailIDs []string) error {
	return r.updateOne(ctx, modelID, bson.M{"$set": bson.M{
		"route_id":      routeID,
		"guardrail_ids": guardrailIDs,
		"updated_at":    time.Now().UTC(),
	}})
}

// ClearRoute removes the model's route registration state
func (r *ModelRecordRepository) ClearRoute(ctx context.Context, modelID string) error {
	return r.updateOne(ctx, modelID, bson.M{
		"$unset": bson.M{"route_id": "", "guardrail_ids": ""},
		"$set":   bson.M{"updated_at": time.Now().UTC()},
	})
}

// SetScheduling replaces the model's embedded schedule sub-document
func (r *ModelRecordRepository) SetScheduling(ctx context.Context, modelID string, scheduling *model.ScheduleConfig) error {
	return r.updateOne(ctx, modelID, bson.M{"$set": bson.M{
		"scheduling": scheduling,
		"updated_at": time.Now().UTC(),
	}})
}

// Delete removes a model record
func (r *ModelRecordRepository) Delete(ctx context.Context, modelID string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": modelID})
	if err != nil {
		return fmt.Errorf("failed to delete model record: %w", err)
	}
	if result.DeletedCount == 0 {
		return model.ErrModelNotFound
	}

	return nil
}

func (r *ModelRecordRepository) updateOne(ctx context.Context, modelID string, update bson.M) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": modelID}, update)
	if err != nil {
		return fmt.Errorf("failed to update model record: %w", err)
	}
	if result.MatchedCount == 0 {
		return model.ErrModelNotFound
	}

	return nil
}
