package workflow

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dandantas/kestrel/internal/config"
	"github.com/dandantas/kestrel/internal/model"
	"github.com/dandantas/kestrel/internal/worker"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ExecutionStore is the slice of the workflow repository the engine drives
type ExecutionStore interface {
	Insert(ctx context.Context, exec *model.WorkflowExecution) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.WorkflowExecution, error)
	MarkRunning(ctx context.Context, id primitive.ObjectID) (bool, error)
	Requeue(ctx context.Context, id primitive.ObjectID, stepIndex int, stepName string, payload *model.WorkflowPayload, nextRunAt time.Time) error
	MarkCompleted(ctx context.Context, id primitive.ObjectID, payload *model.WorkflowPayload) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, payload *model.WorkflowPayload, errMsg string) error
	ResetStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// LockStore provides the per-model distributed locks that keep two pods
// from driving the same model's workflow concurrently
type LockStore interface {
	AcquireLock(ctx context.Context, modelID, podID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, modelID, podID string) error
	ReleaseAllLocks(ctx context.Context, podID string) error
	CleanExpiredLocks(ctx context.Context) (int64, error)
}

// Engine drives durable workflow executions: a tick loop picks up due
// executions, claims them under a per-model lock, and runs one step at a
// time on a worker pool. Every step outcome is persisted before the next
// invocation, so a pod crash loses at most one in-flight step, which is
// redelivered after the stale timeout.
type Engine struct {
	cfg         *config.Config
	executions  ExecutionStore
	locks       LockStore
	steps       *Steps
	definitions map[model.WorkflowKind]*Definition
	pool        *worker.Pool
	podID       string
	ticker      *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewEngine creates a new workflow engine instance
func NewEngine(
	cfg *config.Config,
	executions ExecutionStore,
	locks LockStore,
	steps *Steps,
) *Engine {
	podID, err := os.Hostname()
	if err != nil {
		podID = uuid.New().String()
		slog.Warn("Failed to get hostname, using UUID as pod ID", "pod_id", podID)
	}

	e := &Engine{
		cfg:         cfg,
		executions:  executions,
		locks:       locks,
		steps:       steps,
		definitions: Definitions(steps),
		pool:        worker.NewPool(cfg.EngineWorkers, cfg.EngineQueueSize),
		podID:       podID,
		stopChan:    make(chan struct{}),
	}
	e.pool.SetExecutor(e.execute)
	return e
}

// Enqueue starts a new workflow execution of the given kind and returns its
// workflow id. The first step runs on the next tick.
func (e *Engine) Enqueue(ctx context.Context, kind model.WorkflowKind, payload *model.WorkflowPayload) (string, error) {
	def, ok := e.definitions[kind]
	if !ok {
		return "", model.NewValidationError("unknown workflow kind: %s", kind)
	}

	now := time.Now().UTC()
	exec := &model.WorkflowExecution{
		WorkflowID:    uuid.New().String(),
		ModelID:       payload.ModelID,
		Kind:          kind,
		StepIndex:     0,
		StepName:      def.FirstStep(),
		Payload:       *payload,
		State:         model.ExecutionPending,
		NextRunAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
		CorrelationID: payload.CorrelationID,
	}

	if err := e.executions.Insert(ctx, exec); err != nil {
		return "", err
	}

	slog.Info("Workflow enqueued",
		"workflow_id", exec.WorkflowID,
		"model_id", payload.ModelID,
		"kind", kind,
	)
	return exec.WorkflowID, nil
}

// Start begins the engine tick loop
func (e *Engine) Start(ctx context.Context) {
	if !e.cfg.EngineEnabled {
		slog.Info("Workflow engine is disabled by configuration")
		return
	}

	slog.Info("Starting workflow engine",
		"pod_id", e.podID,
		"tick_interval", e.cfg.EngineTickInterval,
		"lock_ttl", e.cfg.EngineLockTTL,
		"workers", e.cfg.EngineWorkers,
	)

	e.pool.Start()
	e.ticker = time.NewTicker(e.cfg.EngineTickInterval)
	e.wg.Add(1)

	go e.run(ctx)
}

// Stop gracefully stops the engine, draining in-flight steps first
func (e *Engine) Stop(ctx context.Context) {
	if !e.cfg.EngineEnabled {
		return
	}

	slog.Info("Stopping workflow engine", "pod_id", e.podID)

	close(e.stopChan)
	if e.ticker != nil {
		e.ticker.Stop()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All in-flight workflow steps completed")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for workflow steps to complete")
	}

	if err := e.locks.ReleaseAllLocks(context.Background(), e.podID); err != nil {
		slog.Error("Failed to release workflow locks during shutdown", "error", err)
	}

	slog.Info("Workflow engine stopped", "pod_id", e.podID)
}

// run is the main engine loop
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	// Run immediately on start
	e.tick(ctx)

	for {
		select {
		case <-e.ticker.C:
			e.tick(ctx)
		case <-e.stopChan:
			return
		case <-ctx.Done():
			slog.Info("Workflow engine context done", "pod_id", e.podID)
			return
		}
	}
}

// tick processes one engine tick: recover stale claims, then dispatch due
// executions to the worker pool under per-model locks
func (e *Engine) tick(ctx context.Context) {
	now := time.Now().UTC()

	if cleaned, err := e.locks.CleanExpiredLocks(ctx); err != nil {
		slog.Error("Failed to clean expired workflow locks", "error", err)
	} else if cleaned > 0 {
		slog.Info("Cleaned expired workflow locks", "count", cleaned)
	}

	if reset, err := e.executions.ResetStale(ctx, now.Add(-e.cfg.EngineStaleTimeout)); err != nil {
		slog.Error("Failed to reset stale workflow executions", "error", err)
	} else if reset > 0 {
		slog.Warn("Reset stale workflow executions for redelivery", "count", reset)
	}

	due, err := e.executions.FindDue(ctx, now, e.cfg.EngineBatchSize)
	if err != nil {
		slog.Error("Failed to find due workflow executions", "error", err)
		return
	}

	if len(due) == 0 {
		return
	}

	slog.Debug("Found due workflow executions",
		"pod_id", e.podID,
		"count", len(due),
	)

	for i := range due {
		exec := due[i]

		acquired, err := e.locks.AcquireLock(ctx, exec.ModelID, e.podID, e.cfg.EngineLockTTL)
		if err != nil {
			slog.Error("Failed to acquire workflow lock",
				"model_id", exec.ModelID,
				"workflow_id", exec.WorkflowID,
				"error", err,
			)
			continue
		}
		if !acquired {
			slog.Debug("Workflow lock held by another pod",
				"model_id", exec.ModelID,
				"workflow_id", exec.WorkflowID,
			)
			continue
		}

		if err := e.pool.Submit(worker.Job{Execution: &exec, Context: ctx}); err != nil {
			slog.Error("Failed to submit workflow step to pool",
				"workflow_id", exec.WorkflowID,
				"error", err,
			)
			e.releaseLock(ctx, exec.ModelID)
		}
	}
}

// execute runs one step invocation of a claimed execution
func (e *Engine) execute(ctx context.Context, exec *model.WorkflowExecution) {
	defer e.releaseLock(ctx, exec.ModelID)

	claimed, err := e.executions.MarkRunning(ctx, exec.ID)
	if err != nil {
		slog.Error("Failed to claim workflow execution",
			"workflow_id", exec.WorkflowID,
			"error", err,
		)
		return
	}
	if !claimed {
		// Another invocation got there between FindDue and now
		return
	}

	def, ok := e.definitions[exec.Kind]
	if !ok {
		slog.Error("Workflow execution has unknown kind",
			"workflow_id", exec.WorkflowID,
			"kind", exec.Kind,
		)
		e.fail(ctx, exec, &exec.Payload, "unknown workflow kind")
		return
	}

	payload := exec.Payload.Clone()

	// Advance past steps the current payload rules out
	idx := exec.StepIndex
	for idx < len(def.Steps) && def.Steps[idx].Skip != nil && def.Steps[idx].Skip(payload) {
		slog.Debug("Skipping workflow step",
			"workflow_id", exec.WorkflowID,
			"step", def.Steps[idx].Name,
		)
		idx++
	}

	if idx >= len(def.Steps) {
		e.complete(ctx, exec, payload)
		return
	}

	step := def.Steps[idx]
	slog.Info("Running workflow step",
		"workflow_id", exec.WorkflowID,
		"model_id", exec.ModelID,
		"kind", exec.Kind,
		"step", step.Name,
		"attempt", exec.Attempts,
	)

	out, err := step.Run(ctx, payload)
	if err != nil {
		failPayload := payload.Clone()
		failPayload.FailedStep = step.Name
		failPayload.ErrorMessage = err.Error()
		failPayload = e.steps.HandleFailure(ctx, failPayload)
		e.fail(ctx, exec, failPayload, err.Error())
		return
	}

	if out.ContinuePolling {
		out.ContinuePolling = false
		next := time.Now().UTC().Add(e.cfg.PollInterval)
		if err := e.executions.Requeue(ctx, exec.ID, idx, step.Name, out, next); err != nil {
			slog.Error("Failed to requeue polling step",
				"workflow_id", exec.WorkflowID,
				"step", step.Name,
				"error", err,
			)
		}
		return
	}

	next := idx + 1
	if next >= len(def.Steps) {
		e.complete(ctx, exec, out)
		return
	}

	if err := e.executions.Requeue(ctx, exec.ID, next, def.Steps[next].Name, out, time.Now().UTC()); err != nil {
		slog.Error("Failed to advance workflow execution",
			"workflow_id", exec.WorkflowID,
			"step", step.Name,
			"error", err,
		)
	}
}

func (e *Engine) complete(ctx context.Context, exec *model.WorkflowExecution, payload *model.WorkflowPayload) {
	if err := e.executions.MarkCompleted(ctx, exec.ID, payload); err != nil {
		slog.Error("Failed to mark workflow completed",
			"workflow_id", exec.WorkflowID,
			"error", err,
		)
		return
	}

	slog.Info("Workflow completed",
		"workflow_id", exec.WorkflowID,
		"model_id", exec.ModelID,
		"kind", exec.Kind,
	)
}

func (e *Engine) fail(ctx context.Context, exec *model.WorkflowExecution, payload *model.WorkflowPayload, errMsg string) {
	if err := e.executions.MarkFailed(ctx, exec.ID, payload, errMsg); err != nil {
		slog.Error("Failed to mark workflow failed",
			"workflow_id", exec.WorkflowID,
			"error", err,
		)
	}
}

func (e *Engine) releaseLock(ctx context.Context, modelID string) {
	if err := e.locks.ReleaseLock(ctx, modelID, e.podID); err != nil {
		slog.Error("Failed to release workflow lock",
			"model_id", modelID,
			"error", err,
		)
	}
}
