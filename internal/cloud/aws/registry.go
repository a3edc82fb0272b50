package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	codebuildtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/dandantas/kestrel/internal/provision"
)

// ImageRegistry implements provision.ImageRegistry with ECR as the registry
// and CodeBuild as the build backend. The build handle is the CodeBuild
// build id.
type ImageRegistry struct {
	ecrClient   *ecr.Client
	buildClient *codebuild.Client
	project     string
}

// NewImageRegistry creates a new ECR-backed image registry
func NewImageRegistry(cfg aws.Config, buildProject string) *ImageRegistry {
	return &ImageRegistry{
		ecrClient:   ecr.NewFromConfig(cfg),
		buildClient: codebuild.NewFromConfig(cfg),
		project:     buildProject,
	}
}

// ImageExists reports whether the registry holds an image under the given
// reference. A missing repository counts as a missing image, not an error.
func (r *ImageRegistry) ImageExists(ctx context.Context, ref string) (bool, error) {
	repository, tag := splitImageRef(ref)
	if repository == "" {
		return false, fmt.Errorf("invalid image reference: %s", ref)
	}

	input := &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repository),
	}
	if tag != "" {
		input.ImageIds = []ecrtypes.ImageIdentifier{{ImageTag: aws.String(tag)}}
	}

	_, err := r.ecrClient.DescribeImages(ctx, input)
	if err != nil {
		var imageNotFound *ecrtypes.ImageNotFoundException
		var repoNotFound *ecrtypes.RepositoryNotFoundException
		if errors.As(err, &imageNotFound) || errors.As(err, &repoNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe image %s: %w", ref, err)
	}
	return true, nil
}

// StartBuild triggers an asynchronous image build and returns its build id
func (r *ImageRegistry) StartBuild(ctx context.Context, spec provision.BuildSpec) (string, error) {
	out, err := r.buildClient.StartBuild(ctx, &codebuild.StartBuildInput{
		ProjectName: aws.String(r.project),
		EnvironmentVariablesOverride: []codebuildtypes.EnvironmentVariable{
			{Name: aws.String("MODEL_ID"), Value: aws.String(spec.ModelID)},
			{Name: aws.String("BASE_IMAGE"), Value: aws.String(spec.BaseImage)},
			{Name: aws.String("TARGET_REF"), Value: aws.String(spec.TargetRef)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to start image build for model %s: %w", spec.ModelID, err)
	}
	return aws.ToString(out.Build.Id), nil
}

// Terminate stops an in-flight build
func (r *ImageRegistry) Terminate(ctx context.Context, jobHandle string) error {
	_, err := r.buildClient.StopBuild(ctx, &codebuild.StopBuildInput{
		Id: aws.String(jobHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to stop build %s: %w", jobHandle, err)
	}
	return nil
}

// splitImageRef extracts the repository name and tag from an image
// reference, stripping a registry host prefix when present
func splitImageRef(ref string) (string, string) {
	repository := ref
	tag := ""
	if idx := strings.LastIndex(repository, ":"); idx >= 0 {
		tag = repository[idx+1:]
		repository = repository[:idx]
	}
	// "host/repo" or "host/namespace/repo" — the host carries dots or a port
	if idx := strings.Index(repository, "/"); idx >= 0 {
		host := repository[:idx]
		if strings.ContainsAny(host, ".:") {
			repository = repository[idx+1:]
		}
	}
	return repository, tag
}
