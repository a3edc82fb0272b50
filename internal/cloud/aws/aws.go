// Package aws provides the cloud-backend adapters: CloudFormation as the
// infrastructure backend, ECR plus CodeBuild as the image registry, and
// EC2 Auto Scaling as the resource-group scheduler.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
)

// LoadConfig resolves the SDK configuration for the given region using the
// default credential chain
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	return awsConfig.LoadDefaultConfig(
		ctx,
		awsConfig.WithRegion(region),
	)
}
