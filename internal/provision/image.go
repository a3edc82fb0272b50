package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dandantas/kestrel/internal/model"
)

// ImageProvisioner ensures a deployable container image exists for a model,
// polling an asynchronous build to completion within a bounded budget
type ImageProvisioner struct {
	registry   ImageRegistry
	pollBudget int
}

// NewImageProvisioner creates a new image provisioner
func NewImageProvisioner(registry ImageRegistry, pollBudget int) *ImageProvisioner {
	return &ImageProvisioner{
		registry:   registry,
		pollBudget: pollBudget,
	}
}

// EnsureResult is the outcome of an Ensure call
type EnsureResult struct {
	ImageRef   string
	Prebuilt   bool
	JobHandle  string
	PollBudget int
}

// CheckResult is the outcome of a single poll of an in-flight build
type CheckResult struct {
	Found          bool
	PollsRemaining int
}

// ImageRef resolves the registry reference the model's image is expected
// under
func ImageRef(cfg *model.DeploymentConfig) string {
	if cfg.ImageTag == "" {
		return cfg.BaseImage
	}
	return cfg.BaseImage + ":" + cfg.ImageTag
}

// Ensure resolves the model's image reference. If the image already exists
// in the registry the build is skipped entirely; otherwise an asynchronous
// build is started and a poll budget returned. Safe to re-run: an already
// finished build takes the prebuilt fast path on redelivery.
func (p *ImageProvisioner) Ensure(ctx context.Context, modelID string, cfg *model.DeploymentConfig) (*EnsureResult, error) {
	ref := ImageRef(cfg)

	exists, err := p.registry.ImageExists(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("model %s: image lookup for %s failed: %w", modelID, ref, err)
	}

	if exists {
		slog.Info("Image already present, skipping build",
			"model_id", modelID,
			"image_ref", ref,
		)
		return &EnsureResult{ImageRef: ref, Prebuilt: true}, nil
	}

	jobHandle, err := p.registry.StartBuild(ctx, BuildSpec{
		ModelID:   modelID,
		BaseImage: cfg.BaseImage,
		TargetRef: ref,
	})
	if err != nil {
		return nil, fmt.Errorf("model %s: failed to start image build: %w", modelID, err)
	}

	slog.Info("Started image build",
		"model_id", modelID,
		"image_ref", ref,
		"job_handle", jobHandle,
		"poll_budget", p.pollBudget,
	)

	return &EnsureResult{
		ImageRef:   ref,
		JobHandle:  jobHandle,
		PollBudget: p.pollBudget,
	}, nil
}

// Check polls the registry for the expected tag once. When the image
// appears, or when the budget is exhausted, the build resource is
// terminated; the remaining budget is strictly decreasing across calls.
func (p *ImageProvisioner) Check(ctx context.Context, modelID, ref, jobHandle string, pollsRemaining int) (*CheckResult, error) {
	exists, err := p.registry.ImageExists(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("model %s: image lookup for %s failed: %w", modelID, ref, err)
	}

	if exists {
		p.terminateBuild(ctx, modelID, jobHandle)
		return &CheckResult{Found: true}, nil
	}

	remaining := pollsRemaining - 1
	if remaining <= 0 {
		p.terminateBuild(ctx, modelID, jobHandle)
		return nil, &model.MaxPollsExceededError{ModelID: modelID, Resource: "image " + ref}
	}

	slog.Info("Image not ready yet",
		"model_id", modelID,
		"image_ref", ref,
		"polls_remaining", remaining,
	)

	return &CheckResult{PollsRemaining: remaining}, nil
}

// TerminateBuild releases an in-flight build resource. It is safe to call
// with an empty handle and never returns an error; failure compensation
// must not be blocked by cleanup.
func (p *ImageProvisioner) TerminateBuild(ctx context.Context, modelID, jobHandle string) {
	p.terminateBuild(ctx, modelID, jobHandle)
}

// terminateBuild releases the build resource best-effort; a cleanup failure
// is logged but never masks the primary outcome
func (p *ImageProvisioner) terminateBuild(ctx context.Context, modelID, jobHandle string) {
	if jobHandle == "" {
		return
	}
	if err := p.registry.Terminate(ctx, jobHandle); err != nil {
		slog.Error("Failed to terminate build resource",
			"model_id", modelID,
			"job_handle", jobHandle,
			"error", err,
		)
	}
}
