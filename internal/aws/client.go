package aws

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/directoryservice"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/workspaces"
)

// LoadConfig loads the shared AWS configuration for the given profile and region.
func LoadConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// Clients bundles the SDK-backed collaborators. It is built once per process
// and handed to the workflows explicitly.
type Clients struct {
	Config aws.Config

	Instances   *EC2Provisioner
	Commands    *SSMChannel
	Identity    *IAMService
	Directories *DirectoryClient
	Workspaces  *WorkspacesClient

	stsClient *sts.Client
	s3Client  *s3.Client
	snsClient *sns.Client
}

// NewClients creates every client from one AWS config.
func NewClients(ctx context.Context, profile, region string, logger *slog.Logger) (*Clients, error) {
	cfg, err := LoadConfig(ctx, profile, region)
	if err != nil {
		return nil, err
	}

	return &Clients{
		Config:      cfg,
		Instances:   NewEC2Provisioner(ec2.NewFromConfig(cfg), logger),
		Commands:    NewSSMChannel(ssm.NewFromConfig(cfg)),
		Identity:    NewIAMService(iam.NewFromConfig(cfg)),
		Directories: NewDirectoryClient(directoryservice.NewFromConfig(cfg)),
		Workspaces:  NewWorkspacesClient(workspaces.NewFromConfig(cfg)),
		stsClient:   sts.NewFromConfig(cfg),
		s3Client:    s3.NewFromConfig(cfg),
		snsClient:   sns.NewFromConfig(cfg),
	}, nil
}

// Artifacts returns an artifact store writing to bucket.
func (c *Clients) Artifacts(bucket string) *S3ArtifactStore {
	return NewS3ArtifactStore(c.s3Client, bucket)
}

// Notifier returns a notifier publishing to topicARN.
func (c *Clients) Notifier(topicARN string) *SNSNotifier {
	return NewSNSNotifier(c.snsClient, topicARN)
}

// VerifyCredentials checks the current AWS credentials using STS.
func (c *Clients) VerifyCredentials(ctx context.Context) (*CallerIdentity, error) {
	out, err := c.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("getting caller identity: %w", err)
	}

	return &CallerIdentity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
