package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

const (
	launchAttempts   = 3
	launchRetryDelay = 5 * time.Second
)

// ErrWaitTimeout is returned when an instance did not reach the awaited state
// within the allowed time.
var ErrWaitTimeout = errors.New("instance wait timed out")

type ec2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// EC2Provisioner implements InstanceProvisioner using EC2.
type EC2Provisioner struct {
	client     ec2API
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewEC2Provisioner creates a provisioner around an EC2 client.
func NewEC2Provisioner(client ec2API, logger *slog.Logger) *EC2Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &EC2Provisioner{client: client, logger: logger, retryDelay: launchRetryDelay}
}

// Launch starts one instance. A freshly created instance profile can take a few
// seconds to become visible to EC2, so InvalidParameterValue is retried.
func (p *EC2Provisioner) Launch(ctx context.Context, spec LaunchSpec) (*Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: ec2types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         buildTags(spec.Tags),
		}},
	}
	if spec.SubnetID != "" {
		input.SubnetId = aws.String(spec.SubnetID)
	}
	if spec.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{spec.SecurityGroupID}
	}
	if spec.InstanceProfile != "" {
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{Name: aws.String(spec.InstanceProfile)}
	}

	var out *ec2.RunInstancesOutput
	var err error
	for attempt := 1; attempt <= launchAttempts; attempt++ {
		out, err = p.client.RunInstances(ctx, input)
		if err == nil || !isErrorCode(err, "InvalidParameterValue") || attempt == launchAttempts {
			break
		}
		p.logger.Warn("instance profile not yet visible, retrying launch",
			"profile", spec.InstanceProfile, "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("running instance: %w", err)
	}
	if len(out.Instances) == 0 {
		return nil, errors.New("running instance: no instance returned")
	}

	inst := toInstance(out.Instances[0])
	return &inst, nil
}

// WaitRunning waits for the running state and returns the refreshed instance.
func (p *EC2Provisioner) WaitRunning(ctx context.Context, instanceID string, maxWait time.Duration) (*Instance, error) {
	waiter := ec2.NewInstanceRunningWaiter(p.client)
	out, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, maxWait)
	if err != nil {
		if waitExceeded(err) {
			return nil, fmt.Errorf("%w: %s not running after %s", ErrWaitTimeout, instanceID, maxWait)
		}
		return nil, fmt.Errorf("waiting for %s to run: %w", instanceID, err)
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) == instanceID {
				i := toInstance(inst)
				return &i, nil
			}
		}
	}
	return nil, fmt.Errorf("instance %s not found after wait", instanceID)
}

// DescribeByTag lists every instance carrying tag key=value, in id order.
func (p *EC2Provisioner) DescribeByTag(ctx context.Context, key, value string) ([]Instance, error) {
	paginator := ec2.NewDescribeInstancesPaginator(p.client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("tag:" + key),
			Values: []string{value},
		}},
	})

	var instances []Instance
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing instances tagged %s=%s: %w", key, value, err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				instances = append(instances, toInstance(inst))
			}
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances, nil
}

// Terminate terminates the given instances.
func (p *EC2Provisioner) Terminate(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: instanceIDs,
	})
	if err != nil {
		return fmt.Errorf("terminating %v: %w", instanceIDs, err)
	}
	return nil
}

func toInstance(inst ec2types.Instance) Instance {
	out := Instance{
		ID:        aws.ToString(inst.InstanceId),
		PublicDNS: aws.ToString(inst.PublicDnsName),
		PrivateIP: aws.ToString(inst.PrivateIpAddress),
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	return out
}

func buildTags(tags map[string]string) []ec2types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

// waitExceeded reports whether a waiter gave up because its maximum wait time
// passed. The SDK waiters report this as an untyped error.
func waitExceeded(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "exceeded max wait time")
}

// isErrorCode reports whether err carries the given AWS API error code.
func isErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
