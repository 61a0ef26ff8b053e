package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/staffctl/staffctl/internal/artifact"
	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/bootstrap"
	"github.com/staffctl/staffctl/internal/directory"
	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/failure"
	"github.com/staffctl/staffctl/internal/notify"
	"github.com/staffctl/staffctl/internal/poll"
)

const employeeTag = "employeeId"

// onboarding is the state carried between onboarding steps.
type onboarding struct {
	job        employee.Job
	credential employee.Credential
	imageID    string
	profile    string
	instance   *aws.Instance
	artifact   string
}

// Onboard provisions an employee. The first hard failure marks the record
// FAILED and is returned. Resources created before the failure are left in
// place for a later deletion to reclaim.
func (o *Orchestrator) Onboard(ctx context.Context, job employee.Job) (*Result, error) {
	run := &onboarding{job: job}
	log := o.logger.With("employee_id", job.EmployeeID, "action", employee.ActionOnboard)
	log.Info("onboarding started", "department", job.Department)

	warnings, err := o.execute(ctx, log, o.onboardingSteps(run))
	result := &Result{
		EmployeeID:  job.EmployeeID,
		Action:      employee.ActionOnboard,
		ArtifactRef: run.artifact,
		Warnings:    messages(warnings),
	}
	if run.instance != nil {
		result.InstanceID = run.instance.ID
	}

	if err != nil {
		result.Status = employee.StatusFailed
		fctx, cancel := settle(ctx)
		defer cancel()
		u := employee.Update{}.WithStatus(employee.StatusFailed).WithError(err.Error())
		if _, werr := o.write(fctx, job.EmployeeID, u); werr != nil {
			log.Error("recording failure failed", "error", werr)
		}
		log.Error("onboarding failed", "error", err)
		return result, fmt.Errorf("onboarding %s: %w", job.EmployeeID, err)
	}

	result.Status = employee.StatusActive
	log.Info("onboarding complete", "instance_id", result.InstanceID)
	return result, nil
}

func (o *Orchestrator) onboardingSteps(run *onboarding) []step {
	return []step{
		{"preflight", failFast, func(ctx context.Context) error { return o.preflight(ctx, run) }},
		{"mark provisioning", failFast, func(ctx context.Context) error { return o.markProvisioning(ctx, run) }},
		{"issue credential", failFast, func(ctx context.Context) error { return o.issueCredential(ctx, run) }},
		{"upsert directory account", failFast, func(ctx context.Context) error { return o.upsertAccount(ctx, run) }},
		{"ensure instance identity", failFast, func(ctx context.Context) error { return o.ensureIdentity(ctx, run) }},
		{"launch instance", failFast, func(ctx context.Context) error { return o.launch(ctx, run) }},
		{"wait for instance", failFast, func(ctx context.Context) error { return o.waitRunning(ctx, run) }},
		{"wait for agent", failFast, func(ctx context.Context) error {
			return o.deps.Runner.WaitForAgent(ctx, run.instance.ID, o.settings.AgentWait)
		}},
		{"join domain", failFast, func(ctx context.Context) error {
			return o.deps.Directory.JoinDomain(ctx, run.instance.ID)
		}},
		{"ensure group membership", failFast, func(ctx context.Context) error {
			return o.deps.Directory.EnsureMembership(ctx, o.account(run))
		}},
		{"grant remote access", failFast, func(ctx context.Context) error {
			return o.deps.Directory.GrantRemoteAccess(ctx, run.instance.ID, run.credential.Username)
		}},
		{"deliver connection file", bestEffort, func(ctx context.Context) error { return o.deliverArtifact(ctx, run) }},
		{"notify", bestEffort, func(ctx context.Context) error { return o.notifyOnboarded(ctx, run) }},
		{"mark active", failFast, func(ctx context.Context) error { return o.markActive(ctx, run) }},
	}
}

// preflight checks every setting a run needs before anything is created.
func (o *Orchestrator) preflight(ctx context.Context, run *onboarding) error {
	s := o.settings
	var missing []string
	check := func(val, name string) {
		if val == "" {
			missing = append(missing, name)
		}
	}
	check(s.Instance.SubnetID, "instance.subnet_id")
	check(s.Directory.DirectoryID, "directory.directory_id")
	check(s.Directory.Domain, "directory.domain")
	check(s.Directory.ManagementInstanceID, "directory.management_instance_id")
	check(s.Directory.AdminUPN, "directory.admin_upn")
	check(s.Directory.AdminPassword, "directory.admin_password")
	check(s.AccountID, "aws.account_id")
	if s.Instance.ImageID == "" && (s.Instance.ImageParameter == "" || o.deps.Images == nil) {
		missing = append(missing, "instance.image_id or instance.image_parameter")
	}
	if len(missing) > 0 {
		return failure.Configuration("preflight", "missing settings: %v", missing)
	}

	run.imageID = s.Instance.ImageID
	if run.imageID == "" {
		id, err := o.deps.Images.ResolveImage(ctx, s.Instance.ImageParameter)
		if err != nil {
			return failure.Wrap(failure.KindConfiguration, "resolve image "+s.Instance.ImageParameter, err)
		}
		run.imageID = id
	}
	return nil
}

func (o *Orchestrator) markProvisioning(ctx context.Context, run *onboarding) error {
	j := run.job
	u := employee.Update{}.
		WithStatus(employee.StatusProvisioning).
		WithName(j.Name).
		WithEmail(j.Email).
		WithDepartment(j.Department).
		WithError("")
	if j.WorkspaceID != "" {
		u = u.WithWorkspaceID(j.WorkspaceID)
	}
	_, err := o.write(ctx, j.EmployeeID, u)
	return err
}

func (o *Orchestrator) issueCredential(ctx context.Context, run *onboarding) error {
	c, err := o.issuer.Issue(ctx, run.job)
	if err != nil {
		return failure.Wrap(failure.KindStore, "issue credential", err)
	}
	run.credential = c
	return nil
}

func (o *Orchestrator) upsertAccount(ctx context.Context, run *onboarding) error {
	if !o.deps.Directory.AccountsEnabled() {
		o.logger.Info("directory accounts not configured, skipping account upsert", "employee_id", run.job.EmployeeID)
		return nil
	}
	return o.deps.Directory.UpsertAccount(ctx, o.account(run))
}

func (o *Orchestrator) ensureIdentity(ctx context.Context, run *onboarding) error {
	id := run.job.EmployeeID
	role := RoleName(id)
	profile := ProfileName(o.settings.Instance.ProfilePrefix, id)
	ids := o.deps.Identity

	if _, err := ids.EnsureRole(ctx, role, trustPolicy(), fmt.Sprintf(roleDescription, id)); err != nil {
		return failure.Wrap(failure.KindProvisioning, "ensure role", err)
	}
	if err := ids.AttachPolicy(ctx, role, o.settings.Instance.ManagedPolicyARN); err != nil {
		return failure.Wrap(failure.KindProvisioning, "attach managed policy", err)
	}
	arn := DirectoryARN(o.settings.Region, o.settings.AccountID, o.settings.Directory.DirectoryID)
	if err := ids.PutInlinePolicy(ctx, role, directoryPolicyName, directoryPolicy(arn)); err != nil {
		return failure.Wrap(failure.KindProvisioning, "put directory policy", err)
	}
	if _, err := ids.EnsureInstanceProfile(ctx, profile); err != nil {
		return failure.Wrap(failure.KindProvisioning, "ensure instance profile", err)
	}
	if err := ids.AddRoleToProfile(ctx, profile, role); err != nil {
		return failure.Wrap(failure.KindProvisioning, "add role to profile", err)
	}
	run.profile = profile

	// New profiles are not usable by the instance API right away.
	p := poll.Poller{Clock: o.deps.Clock}
	return p.Sleep(ctx, o.settings.Instance.ProfilePropagation)
}

// launch starts the employee's instance, or adopts one a previous run left
// running so a repeated onboarding does not provision twice.
func (o *Orchestrator) launch(ctx context.Context, run *onboarding) error {
	j := run.job
	existing, err := o.reusableInstance(ctx, j.EmployeeID)
	if err != nil {
		return err
	}
	if existing != nil {
		o.logger.Info("reusing instance", "employee_id", j.EmployeeID, "instance_id", existing.ID, "state", existing.State)
		run.instance = existing
		_, err = o.write(ctx, j.EmployeeID, employee.Update{}.WithInstanceID(existing.ID))
		return err
	}

	pkg := o.settings.Software.Select(j.Department)
	spec := aws.LaunchSpec{
		ImageID:         run.imageID,
		InstanceType:    o.settings.Instance.Type,
		SubnetID:        o.settings.Instance.SubnetID,
		SecurityGroupID: o.settings.Instance.SecurityGroupID,
		InstanceProfile: run.profile,
		UserData:        bootstrap.UserData(pkg),
		Tags: map[string]string{
			employeeTag:  j.EmployeeID,
			"Project":    o.settings.Instance.ProjectTag,
			"Department": j.Department,
			"Name":       "employee-" + j.EmployeeID,
		},
	}
	o.logger.Info("launching instance", "employee_id", j.EmployeeID, "software", pkg.Name, "image_id", run.imageID)

	inst, err := o.deps.Instances.Launch(ctx, spec)
	if err != nil {
		return failure.Wrap(failure.KindProvisioning, "launch instance", err)
	}
	run.instance = inst

	// Persist the id now so a deletion after a later failure finds it.
	_, err = o.write(ctx, j.EmployeeID, employee.Update{}.WithInstanceID(inst.ID))
	return err
}

// reusableInstance returns a pending or running instance tagged for the
// employee, preferring the one on record. It returns nil when there is none.
func (o *Orchestrator) reusableInstance(ctx context.Context, id string) (*aws.Instance, error) {
	tagged, err := o.deps.Instances.DescribeByTag(ctx, employeeTag, id)
	if err != nil {
		return nil, failure.Wrap(failure.KindProvisioning, "find existing instances", err)
	}
	var live []aws.Instance
	for _, inst := range tagged {
		if inst.State == "pending" || inst.State == "running" {
			live = append(live, inst)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}

	rec, err := o.deps.Store.Get(ctx, id)
	switch {
	case errors.Is(err, employee.ErrNotFound):
	case err != nil:
		return nil, failure.Wrap(failure.KindStore, "get "+id, err)
	default:
		for i := range live {
			if live[i].ID == rec.InstanceID {
				return &live[i], nil
			}
		}
	}
	return &live[0], nil
}

func (o *Orchestrator) waitRunning(ctx context.Context, run *onboarding) error {
	inst, err := o.deps.Instances.WaitRunning(ctx, run.instance.ID, o.settings.Instance.RunningTimeout)
	if err != nil {
		kind := failure.KindProvisioning
		if errors.Is(err, aws.ErrWaitTimeout) {
			kind = failure.KindTimeout
		}
		return failure.Wrap(kind, "wait for instance "+run.instance.ID, err)
	}
	run.instance = inst
	return nil
}

func (o *Orchestrator) deliverArtifact(ctx context.Context, run *onboarding) error {
	if o.deps.Artifacts == nil {
		return errors.New("no artifact delivery configured")
	}
	user := run.credential.Username
	data := artifact.RenderRDP(run.instance.Address(), user)

	d, err := o.deps.Artifacts.Deliver(ctx, artifact.FileName(user, run.instance.ID), data)
	if err != nil {
		return err
	}
	run.artifact = d.Reference()
	if d.Err != nil {
		o.logger.Warn("connection file not published, using local copy",
			"employee_id", run.job.EmployeeID, "path", d.LocalPath, "error", d.Err)
	}
	return nil
}

func (o *Orchestrator) notifyOnboarded(ctx context.Context, run *onboarding) error {
	o.deps.Notifier.Publish(ctx, notify.Onboarded(notify.Onboarding{
		EmployeeID:  run.job.EmployeeID,
		InstanceID:  run.instance.ID,
		ArtifactRef: run.artifact,
		Username:    run.credential.Username,
		Password:    run.credential.Password,
		Domain:      o.settings.Directory.Domain,
	}))
	return nil
}

func (o *Orchestrator) markActive(ctx context.Context, run *onboarding) error {
	j := run.job
	u := employee.Update{}.
		WithStatus(employee.StatusActive).
		WithInstanceID(run.instance.ID).
		WithName(j.Name).
		WithEmail(j.Email).
		WithDepartment(j.Department)
	if run.artifact != "" {
		u = u.WithArtifactRef(run.artifact)
	}
	_, err := o.write(ctx, j.EmployeeID, u)
	return err
}

func (o *Orchestrator) account(run *onboarding) directory.Account {
	return directory.Account{
		EmployeeID: run.job.EmployeeID,
		Username:   run.credential.Username,
		Password:   run.credential.Password,
		Name:       run.job.Name,
		Email:      run.job.Email,
		Department: run.job.Department,
	}
}

func messages(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
