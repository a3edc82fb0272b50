package database

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	if err := createModelRecordIndexes(ctx, db); err != nil {
		return err
	}

	if err := createWorkflowExecutionIndexes(ctx, db); err != nil {
		return err
	}

	if err := createWorkflowLockIndexes(ctx, db); err != nil {
		return err
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createModelRecordIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionModelRecords)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
		{
			Keys:    bson.D{{Key: "allowed_groups", Value: 1}},
			Options: options.Index().SetName("idx_allowed_groups"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_status_created_at"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	slog.Info("Created model_records indexes")
	return nil
}

func createWorkflowExecutionIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionWorkflowExecutions)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "workflow_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_workflow_id_unique"),
		},
		{
			Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "next_run_at", Value: 1},
			},
			Options: options.Index().SetName("idx_state_next_run_at"),
		},
		{
			Keys: bson.D{
				{Key: "model_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_model_id_created_at"),
		},
		{
			Keys: bson.D{
				{Key: "model_id", Value: 1},
				{Key: "state", Value: 1},
			},
			Options: options.Index().SetName("idx_model_id_state"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	slog.Info("Created workflow_executions indexes")
	return nil
}

func createWorkflowLockIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionWorkflowLocks)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "model_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_model_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_expires_at_ttl"),
		},
		{
			Keys:    bson.D{{Key: "locked_by", Value: 1}},
			Options: options.Index().SetName("idx_locked_by"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	slog.Info("Created workflow_locks indexes")
	return nil
}
