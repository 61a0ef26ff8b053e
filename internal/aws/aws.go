package aws

import (
	"context"
	"time"
)

// InstanceProvisioner creates, discovers and terminates compute instances.
type InstanceProvisioner interface {
	Launch(ctx context.Context, spec LaunchSpec) (*Instance, error)
	// WaitRunning blocks until the instance reports running or maxWait elapses.
	WaitRunning(ctx context.Context, instanceID string, maxWait time.Duration) (*Instance, error)
	DescribeByTag(ctx context.Context, key, value string) ([]Instance, error)
	Terminate(ctx context.Context, instanceIDs []string) error
}

// LaunchSpec describes one instance to launch.
type LaunchSpec struct {
	ImageID         string
	InstanceType    string
	SubnetID        string
	SecurityGroupID string
	InstanceProfile string
	UserData        string // plain text; implementations encode as required
	Tags            map[string]string
}

// Instance is the subset of instance state the workflows use.
type Instance struct {
	ID        string
	State     string // pending, running, shutting-down, terminated, stopping, stopped
	PublicDNS string
	PrivateIP string
}

// Address returns the host name to connect to, preferring public DNS.
func (i Instance) Address() string {
	if i.PublicDNS != "" {
		return i.PublicDNS
	}
	return i.PrivateIP
}

// Terminal reports whether the instance is already going away.
func (i Instance) Terminal() bool {
	return i.State == "shutting-down" || i.State == "terminated"
}

// CommandChannel executes commands on managed hosts through an agent.
type CommandChannel interface {
	Send(ctx context.Context, target string, cmd Command) (CommandRef, error)
	Poll(ctx context.Context, ref CommandRef) (*Invocation, error)
	AgentOnline(ctx context.Context, instanceID string) (bool, error)
}

const (
	DocumentRunPowerShell = "AWS-RunPowerShellScript"
	DocumentJoinDirectory = "AWS-JoinDirectoryServiceDomain"
)

// Command is a document invocation with its parameters.
type Command struct {
	Document   string
	Parameters map[string][]string
	Comment    string
}

// PowerShell wraps a script for the RunPowerShellScript document.
func PowerShell(script, comment string) Command {
	return Command{
		Document:   DocumentRunPowerShell,
		Parameters: map[string][]string{"commands": {script}},
		Comment:    comment,
	}
}

// CommandRef identifies one sent command on one target.
type CommandRef struct {
	CommandID string
	Target    string
}

// InvocationStatus is the agent-reported state of a command.
type InvocationStatus string

const (
	InvocationPending    InvocationStatus = "Pending"
	InvocationInProgress InvocationStatus = "InProgress"
	InvocationDelayed    InvocationStatus = "Delayed"
	InvocationSuccess    InvocationStatus = "Success"
	InvocationFailed     InvocationStatus = "Failed"
	InvocationCancelled  InvocationStatus = "Cancelled"
	InvocationTimedOut   InvocationStatus = "TimedOut"
)

// Terminal reports whether the command has finished one way or another.
func (s InvocationStatus) Terminal() bool {
	switch s {
	case InvocationSuccess, InvocationFailed, InvocationCancelled, InvocationTimedOut:
		return true
	}
	return false
}

// Invocation is a polled command result.
type Invocation struct {
	CommandID string
	Target    string
	Status    InvocationStatus
	Details   string
	Stdout    string
	Stderr    string
}

// ImageResolver looks up machine image ids published as parameters.
type ImageResolver interface {
	ResolveImage(ctx context.Context, parameter string) (string, error)
}

// IdentityService manages per-instance roles and instance profiles.
// Creation is idempotent; deletes and listings treat a missing entity as
// success and an empty result respectively.
type IdentityService interface {
	EnsureRole(ctx context.Context, name, trustPolicy, description string) (string, error)
	AttachPolicy(ctx context.Context, role, policyARN string) error
	PutInlinePolicy(ctx context.Context, role, name, document string) error
	EnsureInstanceProfile(ctx context.Context, name string) (string, error)
	AddRoleToProfile(ctx context.Context, profile, role string) error

	ProfileRoles(ctx context.Context, profile string) ([]string, error)
	RemoveRoleFromProfile(ctx context.Context, profile, role string) error
	DeleteInstanceProfile(ctx context.Context, profile string) error
	AttachedPolicies(ctx context.Context, role string) ([]string, error)
	DetachPolicy(ctx context.Context, role, policyARN string) error
	InlinePolicies(ctx context.Context, role string) ([]string, error)
	DeleteInlinePolicy(ctx context.Context, role, name string) error
	DeleteRole(ctx context.Context, role string) error
}

// DirectoryService describes managed directories.
type DirectoryService interface {
	DescribeDirectory(ctx context.Context, directoryID string) (*Directory, error)
}

// Directory holds the join parameters of a managed directory.
type Directory struct {
	ID           string
	Name         string
	ShortName    string
	DNSAddresses []string
}

// ArtifactStore holds downloadable files behind time-limited links.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
	PresignedURL(ctx context.Context, handle string, ttl time.Duration) (string, error)
}

// Notifier publishes a message to operators.
type Notifier interface {
	Publish(ctx context.Context, subject, body string) error
}

// WorkspaceService manages legacy virtual desktops.
type WorkspaceService interface {
	Terminate(ctx context.Context, workspaceID string) error
}

// CallerIdentity holds AWS STS caller identity information.
type CallerIdentity struct {
	Account string
	ARN     string
	UserID  string
}
