package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/kestrel/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrWorkflowNotFound is returned when a workflow execution does not exist
var ErrWorkflowNotFound = errors.New("workflow execution not found")

// WorkflowRepository handles durable workflow execution records
type WorkflowRepository struct {
	collection *mongo.Collection
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *MongoDB) *WorkflowRepository {
	return &WorkflowRepository{
		collection: db.GetCollection(CollectionWorkflowExecutions),
	}
}

// Insert stores a new workflow execution
func (r *WorkflowRepository) Insert(ctx context.Context, exec *model.WorkflowExecution) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if exec.ID.IsZero() {
		exec.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctxTimeout, exec); err != nil {
		return fmt.Errorf("failed to insert workflow execution: %w", err)
	}

	return nil
}

// GetByWorkflowID retrieves a workflow execution by its workflow id
func (r *WorkflowRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*model.WorkflowExecution, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var exec model.WorkflowExecution
	err := r.collection.FindOne(ctxTimeout, bson.M{"workflow_id": workflowID}).Decode(&exec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to get workflow execution: %w", err)
	}

	return &exec, nil
}

// HasActiveForModel reports whether the model already has an in-flight
// workflow. Callers use this as the admission check before accepting a new
// operation.
func (r *WorkflowRepository) HasActiveForModel(ctx context.Context, modelID string) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"model_id": modelID,
		"state":    bson.M{"$in": []model.ExecutionState{model.ExecutionPending, model.ExecutionRunning}},
	}

	count, err := r.collection.CountDocuments(ctxTimeout, filter)
	if err != nil {
		return false, fmt.Errorf("failed to count active workflows: %w", err)
	}

	return count > 0, nil
}

// FindDue retrieves pending executions whose next run time has arrived
func (r *WorkflowRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]model.WorkflowExecution, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"state":       model.ExecutionPending,
		"next_run_at": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "next_run_at", Value: 1}})

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find due workflows: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var executions []model.WorkflowExecution
	if err := cursor.All(ctxTimeout, &executions); err != nil {
		return nil, fmt.Errorf("failed to decode due workflows: %w", err)
	}

	return executions, nil
}

// MarkRunning atomically claims a pending execution for one step
// invocation. Returns false if another invocation got there first.
func (r *WorkflowRepository) MarkRunning(ctx context.Context, id primitive.ObjectID) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"_id": id, "state": model.ExecutionPending}
	update := bson.M{
		"$set": bson.M{
			"state":      model.ExecutionRunning,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"attempts": 1},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to claim workflow execution: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

// ResetStale returns executions stuck in the running state back to pending.
// An execution only stays running past the stale cutoff when the pod that
// claimed it died mid-step; resetting it lets another pod redeliver the step.
func (r *WorkflowRepository) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"state":      model.ExecutionRunning,
		"updated_at": bson.M{"$lt": olderThan},
	}
	update := bson.M{"$set": bson.M{
		"state":       model.ExecutionPending,
		"next_run_at": time.Now().UTC(),
		"updated_at":  time.Now().UTC(),
	}}

	result, err := r.collection.UpdateMany(ctxTimeout, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale workflow executions: %w", err)
	}

	return result.ModifiedCount, nil
}

// Requeue persists the step's output payload and schedules the next
// invocation: either the same step again (polling) or the next step of the
// definition
func (r *WorkflowRepository) Requeue(ctx context.Context, id primitive.ObjectID, stepIndex int, stepName string, payload *model.WorkflowPayload, nextRunAt time.Time) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"state":       model.ExecutionPending,
		"step_index":  stepIndex,
		"step_name":   stepName,
		"payload":     payload,
		"next_run_at": nextRunAt,
		"updated_at":  time.Now().UTC(),
	}}

	if _, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("failed to requeue workflow execution: %w", err)
	}

	return nil
}

// MarkCompleted finishes an execution successfully
func (r *WorkflowRepository) MarkCompleted(ctx context.Context, id primitive.ObjectID, payload *model.WorkflowPayload) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"state":        model.ExecutionCompleted,
		"payload":      payload,
		"updated_at":   now,
		"completed_at": now,
	}}

	if _, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("failed to complete workflow execution: %w", err)
	}

	return nil
}

// MarkFailed finishes an execution with an error
func (r *WorkflowRepository) MarkFailed(ctx context.Context, id primitive.ObjectID, payload *model.WorkflowPayload, errMsg string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"state":        model.ExecutionFailed,
		"payload":      payload,
		"error":        errMsg,
		"updated_at":   now,
		"completed_at": now,
	}}

	if _, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("failed to fail workflow execution: %w", err)
	}

	return nil
}

// ListByModel retrieves the workflow executions for one model, most recent
// first
func (r *WorkflowRepository) ListByModel(ctx context.Context, modelID string, limit int) ([]model.WorkflowExecution, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"model_id": modelID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow executions: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var executions []model.WorkflowExecution
	if err := cursor.All(ctxTimeout, &executions); err != nil {
		return nil, fmt.Errorf("failed to decode workflow executions: %w", err)
	}

	return executions, nil
}
