package aws

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type ssmAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
	DescribeInstanceInformation(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMChannel implements CommandChannel and ImageResolver using Systems Manager.
type SSMChannel struct {
	client ssmAPI
}

// NewSSMChannel creates a command channel around an SSM client.
func NewSSMChannel(client ssmAPI) *SSMChannel {
	return &SSMChannel{client: client}
}

// Send issues cmd to a single managed instance.
func (c *SSMChannel) Send(ctx context.Context, target string, cmd Command) (CommandRef, error) {
	input := &ssm.SendCommandInput{
		InstanceIds:  []string{target},
		DocumentName: aws.String(cmd.Document),
		Parameters:   cmd.Parameters,
	}
	if cmd.Comment != "" {
		input.Comment = aws.String(truncate(cmd.Comment, 100))
	}

	out, err := c.client.SendCommand(ctx, input)
	if err != nil {
		return CommandRef{}, fmt.Errorf("sending %s to %s: %w", cmd.Document, target, err)
	}
	if out.Command == nil || out.Command.CommandId == nil {
		return CommandRef{}, fmt.Errorf("sending %s to %s: no command id returned", cmd.Document, target)
	}
	return CommandRef{CommandID: aws.ToString(out.Command.CommandId), Target: target}, nil
}

// Poll reads the current invocation state. An invocation the service has not
// registered yet is reported as pending.
func (c *SSMChannel) Poll(ctx context.Context, ref CommandRef) (*Invocation, error) {
	out, err := c.client.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(ref.CommandID),
		InstanceId: aws.String(ref.Target),
	})
	if err != nil {
		var notYet *ssmtypes.InvocationDoesNotExist
		if errors.As(err, &notYet) {
			return &Invocation{CommandID: ref.CommandID, Target: ref.Target, Status: InvocationPending}, nil
		}
		return nil, fmt.Errorf("polling command %s on %s: %w", ref.CommandID, ref.Target, err)
	}

	return &Invocation{
		CommandID: ref.CommandID,
		Target:    ref.Target,
		Status:    mapInvocationStatus(out.Status),
		Details:   aws.ToString(out.StatusDetails),
		Stdout:    aws.ToString(out.StandardOutputContent),
		Stderr:    aws.ToString(out.StandardErrorContent),
	}, nil
}

// AgentOnline reports whether the instance's agent is registered and pinging.
func (c *SSMChannel) AgentOnline(ctx context.Context, instanceID string) (bool, error) {
	out, err := c.client.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
		Filters: []ssmtypes.InstanceInformationStringFilter{{
			Key:    aws.String("InstanceIds"),
			Values: []string{instanceID},
		}},
	})
	if err != nil {
		return false, fmt.Errorf("describing agent on %s: %w", instanceID, err)
	}
	for _, info := range out.InstanceInformationList {
		if info.PingStatus == ssmtypes.PingStatusOnline {
			return true, nil
		}
	}
	return false, nil
}

// ResolveImage reads an image id from a parameter.
func (c *SSMChannel) ResolveImage(ctx context.Context, parameter string) (string, error) {
	out, err := c.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(parameter)})
	if err != nil {
		return "", fmt.Errorf("reading image parameter %s: %w", parameter, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("image parameter %s is empty", parameter)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// mapInvocationStatus folds the service's transitional states into ours.
func mapInvocationStatus(s ssmtypes.CommandInvocationStatus) InvocationStatus {
	switch s {
	case ssmtypes.CommandInvocationStatusSuccess:
		return InvocationSuccess
	case ssmtypes.CommandInvocationStatusFailed:
		return InvocationFailed
	case ssmtypes.CommandInvocationStatusCancelled, ssmtypes.CommandInvocationStatusCancelling:
		return InvocationCancelled
	case ssmtypes.CommandInvocationStatusTimedOut:
		return InvocationTimedOut
	case ssmtypes.CommandInvocationStatusDelayed:
		return InvocationDelayed
	case ssmtypes.CommandInvocationStatusInProgress:
		return InvocationInProgress
	default:
		return InvocationPending
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
