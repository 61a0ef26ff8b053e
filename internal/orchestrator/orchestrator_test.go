package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/staffctl/staffctl/internal/artifact"
	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/bootstrap"
	"github.com/staffctl/staffctl/internal/config"
	"github.com/staffctl/staffctl/internal/directory"
	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/failure"
	"github.com/staffctl/staffctl/internal/logging"
	"github.com/staffctl/staffctl/internal/notify"
	"github.com/staffctl/staffctl/internal/poll"
	"github.com/staffctl/staffctl/internal/remote"
)

const launchedID = "i-0123456789abcdef0"

type harness struct {
	store      *employee.MemoryStore
	instances  *aws.MockProvisioner
	images     *aws.MockImageResolver
	identity   *aws.MockIdentityService
	channel    *aws.MockCommandChannel
	workspaces *aws.MockWorkspaceService
	artifacts  *aws.MockArtifactStore
	notifier   *aws.MockNotifier
	clock      *poll.FakeClock
	settings   Settings
	// status replaces store as the status store when set.
	status employee.Store
}

func testSettings() Settings {
	return Settings{
		Region:    "eu-central-1",
		AccountID: "123456789012",
		Instance: config.InstanceConfig{
			Type:               "t3.micro",
			ImageParameter:     "/aws/service/ami-windows-latest/Windows_Server-2022-English-Full-Base",
			SubnetID:           "subnet-1",
			SecurityGroupID:    "sg-1",
			ProfilePrefix:      "employee-profile",
			ManagedPolicyARN:   "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore",
			ProjectTag:         "cs3-nca",
			RunningTimeout:     10 * time.Minute,
			ProfilePropagation: 10 * time.Second,
		},
		Directory: config.DirectoryConfig{
			DirectoryID:          "d-1234567890",
			Domain:               "corp.example.com",
			NetBIOS:              "CORP",
			UserOU:               "OU=Users,DC=corp,DC=example,DC=com",
			ManagementInstanceID: "i-mgmt",
			AdminUPN:             "admin@corp.example.com",
			AdminPassword:        "adminpw",
			DefaultPassword:      config.DefaultPassword,
		},
		AgentWait: 15 * time.Minute,
		Software:  bootstrap.Default(),
	}
}

func newHarness() *harness {
	return &harness{
		store:      employee.NewMemoryStore(),
		instances:  &aws.MockProvisioner{},
		images:     &aws.MockImageResolver{},
		identity:   aws.NewMockIdentityService(),
		channel:    &aws.MockCommandChannel{},
		workspaces: &aws.MockWorkspaceService{},
		artifacts:  aws.NewMockArtifactStore(),
		notifier:   &aws.MockNotifier{},
		clock:      poll.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		settings:   testSettings(),
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	logger := logging.Discard()
	runner := remote.NewRunner(h.channel, h.clock, logger)
	dirs := directory.New(runner, &aws.MockDirectoryService{}, h.settings.Directory, directory.DefaultPolicies(), logger)

	var status employee.Store = h.store
	if h.status != nil {
		status = h.status
	}
	o, err := New(Deps{
		Store:       status,
		Credentials: h.store,
		Instances:   h.instances,
		Images:      h.images,
		Identity:    h.identity,
		Runner:      runner,
		Directory:   dirs,
		Workspaces:  h.workspaces,
		Artifacts:   artifact.NewDeliverer(h.artifacts, "rdp", 24*time.Hour, t.TempDir(), logger),
		Notifier:    notify.NewPublisher(h.notifier, logger),
		Clock:       h.clock,
		Logger:      logger,
	}, h.settings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

// failOn makes the first command whose comment starts with prefix end with inv.
func failOn(prefix string, inv aws.Invocation) func(string, aws.Command) []aws.Invocation {
	return func(_ string, cmd aws.Command) []aws.Invocation {
		if strings.HasPrefix(cmd.Comment, prefix) {
			return []aws.Invocation{inv}
		}
		return nil
	}
}

// ctxStore rejects calls made with a finished context, as the database
// backends do. afterUpdate runs after every successful Update.
type ctxStore struct {
	*employee.MemoryStore
	afterUpdate func()
}

func (s *ctxStore) Get(ctx context.Context, id string) (*employee.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, id)
}

func (s *ctxStore) Put(ctx context.Context, rec *employee.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, rec)
}

func (s *ctxStore) Update(ctx context.Context, id string, u employee.Update) (*employee.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.MemoryStore.Update(ctx, id, u)
	if err == nil && s.afterUpdate != nil {
		s.afterUpdate()
	}
	return rec, err
}

func (s *ctxStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Delete(ctx, id)
}

func record(t *testing.T, s *employee.MemoryStore, id string) *employee.Record {
	t.Helper()
	rec, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return rec
}

func hrJob() employee.Job {
	return employee.Job{
		EmployeeID: "e1",
		Action:     employee.ActionOnboard,
		Name:       "Alice Jansen",
		Email:      "alice@example.com",
		Department: "hr",
	}
}

func TestOnboardHRScenario(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)

	res, err := o.Run(context.Background(), hrJob())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusActive || res.InstanceID != launchedID {
		t.Errorf("unexpected result %+v", res)
	}

	rec := record(t, h.store, "e1")
	if rec.Status != employee.StatusActive {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.InstanceID != launchedID || rec.Email != "alice@example.com" || rec.Department != "hr" || rec.Name != "Alice Jansen" {
		t.Errorf("unexpected record %+v", rec)
	}
	if !strings.HasPrefix(rec.ArtifactRef, "https://artifacts.example.com/rdp/alice-"+launchedID+".rdp") {
		t.Errorf("ArtifactRef = %s", rec.ArtifactRef)
	}
	if got := h.store.StatusHistory["e1"]; len(got) != 2 || got[0] != employee.StatusProvisioning || got[1] != employee.StatusActive {
		t.Errorf("status history = %v", got)
	}

	cred, err := h.store.GetCredential(context.Background(), "e1")
	if err != nil || cred.Username != "alice" || cred.Password != config.DefaultPassword {
		t.Errorf("credential = %+v, %v", cred, err)
	}

	if len(h.instances.Launched) != 1 {
		t.Fatalf("expected one launch, got %d", len(h.instances.Launched))
	}
	spec := h.instances.Launched[0]
	if !strings.Contains(spec.UserData, "firefox") || strings.Contains(spec.UserData, "putty") {
		t.Error("hr should get the browser installer")
	}
	if spec.Tags["employeeId"] != "e1" || spec.Tags["Project"] != "cs3-nca" || spec.Tags["Department"] != "hr" {
		t.Errorf("tags = %v", spec.Tags)
	}
	if spec.ImageID != "ami-0mock" || spec.InstanceProfile != "employee-profile-e1" {
		t.Errorf("spec = %+v", spec)
	}

	if !h.identity.HasRole("employee-e1") || !h.identity.HasProfile("employee-profile-e1") {
		t.Error("role and profile should exist")
	}
	doc := h.identity.InlineDocument("employee-e1", "allow-directory-service")
	if !strings.Contains(doc, "arn:aws:ds:eu-central-1:123456789012:directory/d-1234567890") ||
		!strings.Contains(doc, "ds:CreateComputer") {
		t.Errorf("inline policy = %s", doc)
	}

	mgmt := h.channel.SentTo("i-mgmt")
	if len(mgmt) != 2 {
		t.Fatalf("expected upsert and membership on the management host, got %d", len(mgmt))
	}
	if !strings.Contains(mgmt[0].Script(), "$User = 'alice'") {
		t.Error("account should be created as alice")
	}
	onInstance := h.channel.SentTo(launchedID)
	if len(onInstance) != 2 || onInstance[0].Command.Document != aws.DocumentJoinDirectory {
		t.Fatalf("expected join then access grant on the instance, got %+v", onInstance)
	}

	if len(h.notifier.Messages) != 1 || h.notifier.Messages[0].Subject != notify.SubjectOnboarded {
		t.Errorf("messages = %+v", h.notifier.Messages)
	}
}

func TestOnboardWithoutEmail(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)

	job := hrJob()
	job.Email = ""
	if _, err := o.Onboard(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cred, err := h.store.GetCredential(context.Background(), "e1")
	if err != nil || cred.Username != "user-e1" {
		t.Fatalf("credential = %+v, %v", cred, err)
	}
	script := h.channel.SentTo("i-mgmt")[0].Script()
	if !strings.Contains(script, "$User = 'user-e1'") {
		t.Error("directory account should use the synthesized username")
	}
}

func TestOnboardITSelectsPutty(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)

	job := hrJob()
	job.Department = "IT"
	if _, err := o.Onboard(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ud := h.instances.Launched[0].UserData; !strings.Contains(ud, "putty") {
		t.Error("it should get putty")
	}
}

func TestOnboardRemoteFailureStopsLaterSteps(t *testing.T) {
	failed := aws.Invocation{Status: aws.InvocationFailed, Stderr: "something broke"}
	tests := []struct {
		name      string
		comment   string
		wantSends int
		launched  bool
	}{
		{"account upsert", "upsert account", 1, false},
		{"domain join", "join", 2, true},
		{"group membership", "ensure membership", 3, true},
		{"remote access", "grant access", 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.channel.Respond = failOn(tt.comment, failed)
			o := h.orchestrator(t)

			res, err := o.Onboard(context.Background(), hrJob())
			if !failure.IsKind(err, failure.KindRemoteExecution) {
				t.Fatalf("expected remote execution failure, got %v", err)
			}
			if res.Status != employee.StatusFailed {
				t.Errorf("result status = %s", res.Status)
			}

			rec := record(t, h.store, "e1")
			if rec.Status != employee.StatusFailed || !strings.Contains(rec.Error, "something broke") {
				t.Errorf("record = %+v", rec)
			}
			if len(h.channel.Sent) != tt.wantSends {
				t.Errorf("expected %d commands before stopping, got %d", tt.wantSends, len(h.channel.Sent))
			}
			if (len(h.instances.Launched) > 0) != tt.launched {
				t.Errorf("launched = %d", len(h.instances.Launched))
			}
			if len(h.notifier.Messages) != 0 {
				t.Error("no notification after a failure")
			}
			if len(h.artifacts.Objects) != 0 {
				t.Error("no connection file after a failure")
			}
		})
	}
}

func TestOnboardRejectedCredentialsFails(t *testing.T) {
	for _, comment := range []string{"upsert account", "ensure membership"} {
		t.Run(comment, func(t *testing.T) {
			h := newHarness()
			h.channel.Respond = failOn(comment, aws.Invocation{
				Status: aws.InvocationSuccess,
				Stdout: "created alice",
				Stderr: "Add-ADGroupMember : AuthenticationException: The server has rejected the client credentials.",
			})
			o := h.orchestrator(t)

			_, err := o.Onboard(context.Background(), hrJob())
			if failure.KindOf(err) != failure.KindRejectedCredentials {
				t.Fatalf("expected rejected credentials, got %v", err)
			}
			if rec := record(t, h.store, "e1"); rec.Status != employee.StatusFailed || rec.Error == "" {
				t.Errorf("record = %+v", rec)
			}
			if len(h.notifier.Messages) != 0 {
				t.Error("no notification after a failure")
			}
		})
	}
}

func TestOnboardPreflightFailsBeforeAnyResource(t *testing.T) {
	h := newHarness()
	h.settings.Instance.SubnetID = ""
	h.settings.Directory.AdminPassword = ""
	o := h.orchestrator(t)

	_, err := o.Onboard(context.Background(), hrJob())
	if !failure.IsKind(err, failure.KindConfiguration) {
		t.Fatalf("expected configuration failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "instance.subnet_id") || !strings.Contains(err.Error(), "directory.admin_password") {
		t.Errorf("error should name the missing settings: %v", err)
	}
	if len(h.identity.Calls) != 0 || len(h.instances.Launched) != 0 || len(h.channel.Sent) != 0 {
		t.Error("nothing should be created")
	}
	if h.store.CredentialCount() != 0 {
		t.Error("no credential should be issued")
	}
	if rec := record(t, h.store, "e1"); rec.Status != employee.StatusFailed {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestOnboardSkipsAccountUpsertWithoutOU(t *testing.T) {
	h := newHarness()
	h.settings.Directory.UserOU = ""
	o := h.orchestrator(t)

	if _, err := o.Onboard(context.Background(), hrJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgmt := h.channel.SentTo("i-mgmt")
	if len(mgmt) != 1 || !strings.HasPrefix(mgmt[0].Command.Comment, "ensure membership") {
		t.Fatalf("only the membership script should run, got %d commands", len(mgmt))
	}
	if strings.Contains(mgmt[0].Script(), "$params.Path") {
		t.Error("without an OU the account is created in the default container")
	}
}

func TestOnboardAgentTimeout(t *testing.T) {
	h := newHarness()
	h.channel.AgentOnlineAfter = 1_000_000
	o := h.orchestrator(t)

	_, err := o.Onboard(context.Background(), hrJob())
	if !failure.IsKind(err, failure.KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(h.channel.SentTo(launchedID)) != 0 {
		t.Error("domain join should not be attempted")
	}
	rec := record(t, h.store, "e1")
	if rec.Status != employee.StatusFailed || rec.InstanceID != launchedID {
		t.Errorf("record = %+v", rec)
	}
}

func TestOnboardLaunchFailure(t *testing.T) {
	h := newHarness()
	h.instances.LaunchErr = errors.New("InsufficientInstanceCapacity")
	o := h.orchestrator(t)

	_, err := o.Onboard(context.Background(), hrJob())
	if !failure.IsKind(err, failure.KindProvisioning) {
		t.Fatalf("expected provisioning failure, got %v", err)
	}
	if rec := record(t, h.store, "e1"); !strings.Contains(rec.Error, "InsufficientInstanceCapacity") {
		t.Errorf("error = %q", rec.Error)
	}
}

func TestOnboardArtifactFailureIsBestEffort(t *testing.T) {
	h := newHarness()
	h.artifacts.UploadErr = errors.New("AccessDenied")
	o := h.orchestrator(t)

	res, err := o.Onboard(context.Background(), hrJob())
	if err != nil {
		t.Fatalf("upload failure should not fail onboarding: %v", err)
	}
	rec := record(t, h.store, "e1")
	if rec.Status != employee.StatusActive {
		t.Errorf("status = %s", rec.Status)
	}
	if !strings.HasSuffix(rec.ArtifactRef, "alice-"+launchedID+".rdp") || strings.HasPrefix(rec.ArtifactRef, "https://") {
		t.Errorf("ArtifactRef should be the local fallback, got %s", rec.ArtifactRef)
	}
	if res.ArtifactRef != rec.ArtifactRef {
		t.Errorf("result ArtifactRef = %s", res.ArtifactRef)
	}
	if len(h.notifier.Messages) != 1 || !strings.Contains(h.notifier.Messages[0].Body, rec.ArtifactRef) {
		t.Error("notification should carry the fallback reference")
	}
}

func TestOnboardNotificationFailureIsSwallowed(t *testing.T) {
	h := newHarness()
	h.notifier.Err = errors.New("topic does not exist")
	o := h.orchestrator(t)

	if _, err := o.Onboard(context.Background(), hrJob()); err != nil {
		t.Fatalf("notification failure should not fail onboarding: %v", err)
	}
	if rec := record(t, h.store, "e1"); rec.Status != employee.StatusActive {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestOnboardRerunReusesResources(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	ctx := context.Background()

	if _, err := o.Onboard(ctx, hrJob()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	h.instances.Tagged = []aws.Instance{{ID: launchedID, State: "running"}}
	res, err := o.Onboard(ctx, hrJob())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(h.instances.Launched) != 1 {
		t.Errorf("expected one launch across both runs, got %d", len(h.instances.Launched))
	}
	if res.InstanceID != launchedID {
		t.Errorf("result instance = %s", res.InstanceID)
	}
	if rec := record(t, h.store, "e1"); rec.Status != employee.StatusActive || rec.InstanceID != launchedID {
		t.Errorf("record = %+v", rec)
	}
	if h.store.CredentialCount() != 1 {
		t.Errorf("credentials = %d", h.store.CredentialCount())
	}
	if len(h.identity.Profiles["employee-profile-e1"]) != 1 {
		t.Errorf("profile roles = %v", h.identity.Profiles["employee-profile-e1"])
	}
}

func TestOnboardPrefersStoredInstance(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if err := h.store.Put(ctx, &employee.Record{ID: "e1", Status: employee.StatusFailed, InstanceID: "i-stored"}); err != nil {
		t.Fatal(err)
	}
	h.instances.Tagged = []aws.Instance{
		{ID: "i-gone", State: "terminated"},
		{ID: "i-other", State: "running"},
		{ID: "i-stored", State: "pending"},
	}
	o := h.orchestrator(t)

	if _, err := o.Onboard(ctx, hrJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.instances.Launched) != 0 {
		t.Errorf("nothing should be launched, got %d", len(h.instances.Launched))
	}
	if len(h.instances.Waited) != 1 || h.instances.Waited[0] != "i-stored" {
		t.Errorf("waited = %v", h.instances.Waited)
	}
	if rec := record(t, h.store, "e1"); rec.InstanceID != "i-stored" || rec.Status != employee.StatusActive {
		t.Errorf("record = %+v", rec)
	}
}

func TestOnboardInstanceLookupFailureStopsBeforeLaunch(t *testing.T) {
	h := newHarness()
	h.instances.DescribeErr = errors.New("RequestLimitExceeded")
	o := h.orchestrator(t)

	_, err := o.Onboard(context.Background(), hrJob())
	if !failure.IsKind(err, failure.KindProvisioning) {
		t.Fatalf("expected provisioning failure, got %v", err)
	}
	if len(h.instances.Launched) != 0 {
		t.Error("no instance should be launched when existing ones cannot be listed")
	}
}

func TestOnboardWaitRunningClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"waiter exceeded", fmt.Errorf("%w: i-1 not running after 10m0s", aws.ErrWaitTimeout), failure.KindTimeout},
		{"api error", errors.New("UnauthorizedOperation: not authorized"), failure.KindProvisioning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.instances.WaitErr = tt.err
			o := h.orchestrator(t)

			_, err := o.Onboard(context.Background(), hrJob())
			if got := failure.KindOf(err); got != tt.want {
				t.Errorf("kind = %q, want %q (%v)", got, tt.want, err)
			}
		})
	}
}

func TestOnboardCancelledRunIsRecordedAsFailed(t *testing.T) {
	h := newHarness()
	h.status = &ctxStore{MemoryStore: h.store}
	o := h.orchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Onboard(ctx, hrJob())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	rec := record(t, h.store, "e1")
	if rec.Status != employee.StatusFailed || !strings.Contains(rec.Error, "context canceled") {
		t.Errorf("record = %+v", rec)
	}
}

func TestStepKinds(t *testing.T) {
	o := newHarness().orchestrator(t)

	for _, s := range o.onboardingSteps(&onboarding{}) {
		want := failFast
		if s.name == "deliver connection file" || s.name == "notify" {
			want = bestEffort
		}
		if s.kind != want {
			t.Errorf("onboarding step %q is %s, want %s", s.name, s.kind, want)
		}
	}
	for _, s := range o.deletionSteps(&deletion{}) {
		if s.kind != bestEffort {
			t.Errorf("deletion step %q must be best effort", s.name)
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{}, testSettings())
	if err == nil || !strings.Contains(err.Error(), "status store") {
		t.Fatalf("expected missing dependency error, got %v", err)
	}
}

func TestRunRejectsInvalidJob(t *testing.T) {
	o := newHarness().orchestrator(t)
	_, err := o.Run(context.Background(), employee.Job{Action: "rename"})
	if !errors.Is(err, employee.ErrInvalidJob) {
		t.Fatalf("expected invalid job, got %v", err)
	}
}

func TestIdentityNames(t *testing.T) {
	if got := ProfileName("employee-profile", "0f8fad5b-d9cb-469f-a165-70867728950e"); got != "employee-profile-0f8fad5b" {
		t.Errorf("ProfileName = %s", got)
	}
	if got := RoleName("e1"); got != "employee-e1" {
		t.Errorf("RoleName = %s", got)
	}
	if !strings.Contains(trustPolicy(), "ec2.amazonaws.com") {
		t.Error("trust policy should allow the instance service")
	}
}
