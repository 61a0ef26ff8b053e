package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvisioner is a test double for InstanceProvisioner.
type MockProvisioner struct {
	LaunchResult  *Instance
	LaunchErr     error
	RunningResult *Instance
	WaitErr       error
	Tagged        []Instance
	DescribeErr   error
	TerminateErr  error

	// Track calls
	Launched   []LaunchSpec
	Waited     []string
	Described  []string // key=value
	Terminated []string
}

func (m *MockProvisioner) Launch(_ context.Context, spec LaunchSpec) (*Instance, error) {
	m.Launched = append(m.Launched, spec)
	if m.LaunchErr != nil {
		return nil, m.LaunchErr
	}
	if m.LaunchResult != nil {
		inst := *m.LaunchResult
		return &inst, nil
	}
	return &Instance{ID: "i-0123456789abcdef0", State: "pending"}, nil
}

func (m *MockProvisioner) WaitRunning(_ context.Context, instanceID string, _ time.Duration) (*Instance, error) {
	m.Waited = append(m.Waited, instanceID)
	if m.WaitErr != nil {
		return nil, m.WaitErr
	}
	if m.RunningResult != nil {
		inst := *m.RunningResult
		return &inst, nil
	}
	return &Instance{
		ID:        instanceID,
		State:     "running",
		PublicDNS: "ec2-203-0-113-10.compute.amazonaws.com",
		PrivateIP: "10.0.1.10",
	}, nil
}

func (m *MockProvisioner) DescribeByTag(_ context.Context, key, value string) ([]Instance, error) {
	m.Described = append(m.Described, key+"="+value)
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}
	return m.Tagged, nil
}

func (m *MockProvisioner) Terminate(_ context.Context, instanceIDs []string) error {
	if m.TerminateErr != nil {
		return m.TerminateErr
	}
	m.Terminated = append(m.Terminated, instanceIDs...)
	return nil
}

// SentCommand records one Send call.
type SentCommand struct {
	Ref     CommandRef
	Command Command
}

// Script returns the PowerShell body of a RunPowerShellScript command.
func (s SentCommand) Script() string {
	if lines := s.Command.Parameters["commands"]; len(lines) > 0 {
		return lines[0]
	}
	return ""
}

// MockCommandChannel is a test double for CommandChannel. Respond decides the
// sequence of poll results for each sent command; the last result repeats.
// Without Respond every command succeeds on the first poll.
type MockCommandChannel struct {
	mu sync.Mutex

	Respond func(target string, cmd Command) []Invocation
	SendErr error
	PollErr error

	// AgentOnlineAfter is the number of AgentOnline calls reporting offline first.
	AgentOnlineAfter int
	AgentErr         error

	// Track calls
	Sent        []SentCommand
	Polls       int
	AgentChecks int

	pending map[string][]Invocation
}

func (m *MockCommandChannel) Send(_ context.Context, target string, cmd Command) (CommandRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return CommandRef{}, m.SendErr
	}

	ref := CommandRef{CommandID: uuid.NewString(), Target: target}
	m.Sent = append(m.Sent, SentCommand{Ref: ref, Command: cmd})

	results := []Invocation{{Status: InvocationSuccess}}
	if m.Respond != nil {
		if r := m.Respond(target, cmd); len(r) > 0 {
			results = r
		}
	}
	if m.pending == nil {
		m.pending = make(map[string][]Invocation)
	}
	m.pending[ref.CommandID] = results
	return ref, nil
}

func (m *MockCommandChannel) Poll(_ context.Context, ref CommandRef) (*Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Polls++
	if m.PollErr != nil {
		return nil, m.PollErr
	}

	queue, ok := m.pending[ref.CommandID]
	if !ok {
		return nil, fmt.Errorf("unknown command %s", ref.CommandID)
	}
	inv := queue[0]
	if len(queue) > 1 {
		m.pending[ref.CommandID] = queue[1:]
	}
	inv.CommandID = ref.CommandID
	inv.Target = ref.Target
	return &inv, nil
}

func (m *MockCommandChannel) AgentOnline(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AgentChecks++
	if m.AgentErr != nil {
		return false, m.AgentErr
	}
	return m.AgentChecks > m.AgentOnlineAfter, nil
}

// SentTo returns the commands sent to target in order.
func (m *MockCommandChannel) SentTo(target string) []SentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentCommand
	for _, s := range m.Sent {
		if s.Ref.Target == target {
			out = append(out, s)
		}
	}
	return out
}

// MockImageResolver is a test double for ImageResolver.
type MockImageResolver struct {
	Image string
	Err   error

	Resolved []string
}

func (m *MockImageResolver) ResolveImage(_ context.Context, parameter string) (string, error) {
	m.Resolved = append(m.Resolved, parameter)
	if m.Err != nil {
		return "", m.Err
	}
	if m.Image == "" {
		return "ami-0mock", nil
	}
	return m.Image, nil
}

type mockRole struct {
	attached map[string]bool
	inline   map[string]string
}

// MockIdentityService is an in-memory IdentityService. Error fields force the
// matching operation to fail.
type MockIdentityService struct {
	EnsureRoleErr    error
	AttachErr        error
	InlineErr        error
	EnsureProfileErr error
	AddRoleErr       error
	RemoveRoleErr    error
	DeleteProfileErr error
	DetachErr        error
	DeleteInlineErr  error
	DeleteRoleErr    error

	Roles    map[string]*mockRole
	Profiles map[string][]string

	// Track calls in order, e.g. "EnsureRole employee-e1".
	Calls []string
}

// NewMockIdentityService creates an empty MockIdentityService.
func NewMockIdentityService() *MockIdentityService {
	return &MockIdentityService{
		Roles:    make(map[string]*mockRole),
		Profiles: make(map[string][]string),
	}
}

func (m *MockIdentityService) call(format string, args ...any) {
	m.Calls = append(m.Calls, fmt.Sprintf(format, args...))
}

// HasRole reports whether role exists.
func (m *MockIdentityService) HasRole(role string) bool {
	_, ok := m.Roles[role]
	return ok
}

// HasProfile reports whether profile exists.
func (m *MockIdentityService) HasProfile(profile string) bool {
	_, ok := m.Profiles[profile]
	return ok
}

// InlineDocument returns the document of an inline policy.
func (m *MockIdentityService) InlineDocument(role, name string) string {
	if r, ok := m.Roles[role]; ok {
		return r.inline[name]
	}
	return ""
}

func (m *MockIdentityService) EnsureRole(_ context.Context, name, _, _ string) (string, error) {
	m.call("EnsureRole %s", name)
	if m.EnsureRoleErr != nil {
		return "", m.EnsureRoleErr
	}
	if _, ok := m.Roles[name]; !ok {
		m.Roles[name] = &mockRole{attached: map[string]bool{}, inline: map[string]string{}}
	}
	return "arn:aws:iam::123456789012:role/" + name, nil
}

func (m *MockIdentityService) AttachPolicy(_ context.Context, role, policyARN string) error {
	m.call("AttachPolicy %s %s", role, policyARN)
	if m.AttachErr != nil {
		return m.AttachErr
	}
	r, ok := m.Roles[role]
	if !ok {
		return fmt.Errorf("role %s does not exist", role)
	}
	r.attached[policyARN] = true
	return nil
}

func (m *MockIdentityService) PutInlinePolicy(_ context.Context, role, name, document string) error {
	m.call("PutInlinePolicy %s %s", role, name)
	if m.InlineErr != nil {
		return m.InlineErr
	}
	r, ok := m.Roles[role]
	if !ok {
		return fmt.Errorf("role %s does not exist", role)
	}
	r.inline[name] = document
	return nil
}

func (m *MockIdentityService) EnsureInstanceProfile(_ context.Context, name string) (string, error) {
	m.call("EnsureInstanceProfile %s", name)
	if m.EnsureProfileErr != nil {
		return "", m.EnsureProfileErr
	}
	if _, ok := m.Profiles[name]; !ok {
		m.Profiles[name] = nil
	}
	return "arn:aws:iam::123456789012:instance-profile/" + name, nil
}

func (m *MockIdentityService) AddRoleToProfile(_ context.Context, profile, role string) error {
	m.call("AddRoleToProfile %s %s", profile, role)
	if m.AddRoleErr != nil {
		return m.AddRoleErr
	}
	roles, ok := m.Profiles[profile]
	if !ok {
		return fmt.Errorf("profile %s does not exist", profile)
	}
	if len(roles) == 0 {
		m.Profiles[profile] = []string{role}
	}
	return nil
}

func (m *MockIdentityService) ProfileRoles(_ context.Context, profile string) ([]string, error) {
	m.call("ProfileRoles %s", profile)
	return append([]string(nil), m.Profiles[profile]...), nil
}

func (m *MockIdentityService) RemoveRoleFromProfile(_ context.Context, profile, role string) error {
	m.call("RemoveRoleFromProfile %s %s", profile, role)
	if m.RemoveRoleErr != nil {
		return m.RemoveRoleErr
	}
	var kept []string
	for _, r := range m.Profiles[profile] {
		if r != role {
			kept = append(kept, r)
		}
	}
	if _, ok := m.Profiles[profile]; ok {
		m.Profiles[profile] = kept
	}
	return nil
}

func (m *MockIdentityService) DeleteInstanceProfile(_ context.Context, profile string) error {
	m.call("DeleteInstanceProfile %s", profile)
	if m.DeleteProfileErr != nil {
		return m.DeleteProfileErr
	}
	delete(m.Profiles, profile)
	return nil
}

func (m *MockIdentityService) AttachedPolicies(_ context.Context, role string) ([]string, error) {
	m.call("AttachedPolicies %s", role)
	r, ok := m.Roles[role]
	if !ok {
		return nil, nil
	}
	var arns []string
	for arn := range r.attached {
		arns = append(arns, arn)
	}
	return arns, nil
}

func (m *MockIdentityService) DetachPolicy(_ context.Context, role, policyARN string) error {
	m.call("DetachPolicy %s %s", role, policyARN)
	if m.DetachErr != nil {
		return m.DetachErr
	}
	if r, ok := m.Roles[role]; ok {
		delete(r.attached, policyARN)
	}
	return nil
}

func (m *MockIdentityService) InlinePolicies(_ context.Context, role string) ([]string, error) {
	m.call("InlinePolicies %s", role)
	r, ok := m.Roles[role]
	if !ok {
		return nil, nil
	}
	var names []string
	for name := range r.inline {
		names = append(names, name)
	}
	return names, nil
}

func (m *MockIdentityService) DeleteInlinePolicy(_ context.Context, role, name string) error {
	m.call("DeleteInlinePolicy %s %s", role, name)
	if m.DeleteInlineErr != nil {
		return m.DeleteInlineErr
	}
	if r, ok := m.Roles[role]; ok {
		delete(r.inline, name)
	}
	return nil
}

func (m *MockIdentityService) DeleteRole(_ context.Context, role string) error {
	m.call("DeleteRole %s", role)
	if m.DeleteRoleErr != nil {
		return m.DeleteRoleErr
	}
	delete(m.Roles, role)
	return nil
}

// MockDirectoryService is a test double for DirectoryService.
type MockDirectoryService struct {
	Directory *Directory
	Err       error
}

func (m *MockDirectoryService) DescribeDirectory(_ context.Context, directoryID string) (*Directory, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Directory != nil {
		d := *m.Directory
		return &d, nil
	}
	return &Directory{
		ID:           directoryID,
		Name:         "corp.example.com",
		ShortName:    "CORP",
		DNSAddresses: []string{"10.0.0.10", "10.0.0.11"},
	}, nil
}

// MockArtifactStore is a test double for ArtifactStore.
type MockArtifactStore struct {
	UploadErr  error
	PresignErr error

	Objects map[string][]byte
	TTLs    []time.Duration
}

// NewMockArtifactStore creates an empty MockArtifactStore.
func NewMockArtifactStore() *MockArtifactStore {
	return &MockArtifactStore{Objects: make(map[string][]byte)}
}

func (m *MockArtifactStore) Upload(_ context.Context, key string, data []byte) (string, error) {
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	m.Objects[key] = data
	return key, nil
}

func (m *MockArtifactStore) PresignedURL(_ context.Context, handle string, ttl time.Duration) (string, error) {
	m.TTLs = append(m.TTLs, ttl)
	if m.PresignErr != nil {
		return "", m.PresignErr
	}
	return fmt.Sprintf("https://artifacts.example.com/%s?expires=%d", handle, int(ttl.Seconds())), nil
}

// Message is one published notification.
type Message struct {
	Subject string
	Body    string
}

// MockNotifier is a test double for Notifier.
type MockNotifier struct {
	Err      error
	Messages []Message
}

func (m *MockNotifier) Publish(_ context.Context, subject, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, Message{Subject: subject, Body: body})
	return nil
}

// MockWorkspaceService is a test double for WorkspaceService.
type MockWorkspaceService struct {
	Err        error
	Terminated []string
}

func (m *MockWorkspaceService) Terminate(_ context.Context, workspaceID string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Terminated = append(m.Terminated, workspaceID)
	return nil
}
