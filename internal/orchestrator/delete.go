package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/credential"
	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/failure"
	"github.com/staffctl/staffctl/internal/notify"
)

const errorSeparator = "; "

// deletion is the state carried between deletion steps.
type deletion struct {
	job    employee.Job
	record employee.Record
}

// email prefers the job's email over the stored one.
func (d *deletion) email() string {
	if d.job.Email != "" {
		return d.job.Email
	}
	return d.record.Email
}

func (d *deletion) workspaceID() string {
	if d.job.WorkspaceID != "" {
		return d.job.WorkspaceID
	}
	return d.record.WorkspaceID
}

func (d *deletion) department() string {
	if d.job.Department != "" {
		return d.job.Department
	}
	return d.record.Department
}

// Delete removes every resource of an employee. Each step runs regardless of
// earlier failures. With no failures the record is removed; otherwise it is
// kept as DELETE_FAILED with the collected errors. Only a failure to record
// the start of the deletion is returned.
func (o *Orchestrator) Delete(ctx context.Context, job employee.Job) (*Result, error) {
	id := job.EmployeeID
	log := o.logger.With("employee_id", id, "action", employee.ActionDelete)
	log.Info("deletion started")

	if _, err := o.write(ctx, id, employee.Update{}.WithStatus(employee.StatusDeleting)); err != nil {
		return nil, fmt.Errorf("deleting %s: %w", id, err)
	}

	run := &deletion{job: job, record: employee.Record{ID: id}}
	warnings, _ := o.execute(ctx, log, o.deletionSteps(run))

	fctx, cancel := settle(ctx)
	defer cancel()
	if len(warnings) == 0 {
		if err := o.deps.Store.Delete(fctx, id); err != nil {
			warnings = append(warnings, &stepError{step: "delete record", err: failure.Wrap(failure.KindStore, "delete "+id, err)})
		}
	}

	result := &Result{
		EmployeeID: id,
		Action:     employee.ActionDelete,
		InstanceID: run.record.InstanceID,
		Warnings:   messages(warnings),
	}
	removal := notify.Removal{
		EmployeeID:  id,
		Email:       run.email(),
		Department:  run.department(),
		WorkspaceID: run.workspaceID(),
		Errors:      result.Warnings,
	}

	if len(warnings) > 0 {
		result.Status = employee.StatusDeleteFailed
		u := employee.Update{}.
			WithStatus(employee.StatusDeleteFailed).
			WithError(strings.Join(result.Warnings, errorSeparator))
		if _, err := o.write(fctx, id, u); err != nil {
			log.Error("recording deletion failure failed", "error", err)
		}
		o.deps.Notifier.Publish(fctx, notify.Deleted(removal))
		log.Warn("deletion finished with errors", "errors", len(warnings))
		return result, nil
	}

	result.Status = employee.StatusDeleted
	o.deps.Notifier.Publish(fctx, notify.Deleted(removal))
	log.Info("deletion complete")
	return result, nil
}

// Every deletion step is best effort.
func (o *Orchestrator) deletionSteps(run *deletion) []step {
	return []step{
		{"load record", bestEffort, func(ctx context.Context) error { return o.loadRecord(ctx, run) }},
		{"delete directory account", bestEffort, func(ctx context.Context) error { return o.deleteAccount(ctx, run) }},
		{"terminate workspace", bestEffort, func(ctx context.Context) error { return o.terminateWorkspace(ctx, run) }},
		{"terminate instances", bestEffort, func(ctx context.Context) error { return o.terminateInstances(ctx, run) }},
		{"remove role from profile", bestEffort, func(ctx context.Context) error { return o.removeProfileRoles(ctx, run) }},
		{"delete instance profile", bestEffort, func(ctx context.Context) error {
			return o.deps.Identity.DeleteInstanceProfile(ctx, o.profileName(run))
		}},
		{"detach managed policies", bestEffort, func(ctx context.Context) error { return o.detachPolicies(ctx, run) }},
		{"delete inline policies", bestEffort, func(ctx context.Context) error { return o.deleteInlinePolicies(ctx, run) }},
		{"delete role", bestEffort, func(ctx context.Context) error {
			return o.deps.Identity.DeleteRole(ctx, RoleName(run.job.EmployeeID))
		}},
	}
}

// loadRecord reads the stored record. An absent record is an empty one.
func (o *Orchestrator) loadRecord(ctx context.Context, run *deletion) error {
	rec, err := o.deps.Store.Get(ctx, run.job.EmployeeID)
	switch {
	case errors.Is(err, employee.ErrNotFound):
		return nil
	case err != nil:
		return failure.Wrap(failure.KindStore, "get "+run.job.EmployeeID, err)
	}
	run.record = *rec
	return nil
}

func (o *Orchestrator) deleteAccount(ctx context.Context, run *deletion) error {
	email := run.email()
	if email == "" {
		o.logger.Info("no email known, skipping directory account", "employee_id", run.job.EmployeeID)
		return nil
	}
	if !o.deps.Directory.AccountsEnabled() {
		o.logger.Info("directory accounts not configured, skipping account deletion", "employee_id", run.job.EmployeeID)
		return nil
	}
	return o.deps.Directory.DeleteAccount(ctx, credential.Username(email, run.job.EmployeeID))
}

func (o *Orchestrator) terminateWorkspace(ctx context.Context, run *deletion) error {
	ws := run.workspaceID()
	if ws == "" {
		return nil
	}
	if o.deps.Workspaces == nil {
		return fmt.Errorf("workspace %s present but no workspace service configured", ws)
	}
	return o.deps.Workspaces.Terminate(ctx, ws)
}

// terminateInstances finds instances by tag so a missing or stale stored id
// does not leave anything behind. The stored id is used only when the lookup
// itself fails.
func (o *Orchestrator) terminateInstances(ctx context.Context, run *deletion) error {
	id := run.job.EmployeeID
	tagged, err := o.deps.Instances.DescribeByTag(ctx, employeeTag, id)
	if err != nil {
		if run.record.InstanceID == "" {
			return fmt.Errorf("finding instances: %w", err)
		}
		o.logger.Warn("instance lookup failed, terminating stored instance", "employee_id", id,
			"instance_id", run.record.InstanceID, "error", err)
		if terr := o.deps.Instances.Terminate(ctx, []string{run.record.InstanceID}); terr != nil {
			return errors.Join(fmt.Errorf("finding instances: %w", err), terr)
		}
		return fmt.Errorf("finding instances: %w", err)
	}

	var ids []string
	for _, inst := range tagged {
		if inst.Terminal() {
			continue
		}
		ids = append(ids, inst.ID)
	}
	if run.record.InstanceID != "" && !containsInstance(tagged, run.record.InstanceID) {
		o.logger.Warn("stored instance not found by tag", "employee_id", id, "instance_id", run.record.InstanceID)
	}
	if len(ids) == 0 {
		o.logger.Info("no live instances to terminate", "employee_id", id)
		return nil
	}

	o.logger.Info("terminating instances", "employee_id", id, "instance_ids", ids)
	return o.deps.Instances.Terminate(ctx, ids)
}

func (o *Orchestrator) removeProfileRoles(ctx context.Context, run *deletion) error {
	profile := o.profileName(run)
	roles, err := o.deps.Identity.ProfileRoles(ctx, profile)
	if err != nil {
		return err
	}
	var errs []error
	for _, role := range roles {
		errs = append(errs, o.deps.Identity.RemoveRoleFromProfile(ctx, profile, role))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) detachPolicies(ctx context.Context, run *deletion) error {
	role := RoleName(run.job.EmployeeID)
	arns, err := o.deps.Identity.AttachedPolicies(ctx, role)
	if err != nil {
		return err
	}
	var errs []error
	for _, arn := range arns {
		errs = append(errs, o.deps.Identity.DetachPolicy(ctx, role, arn))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) deleteInlinePolicies(ctx context.Context, run *deletion) error {
	role := RoleName(run.job.EmployeeID)
	names, err := o.deps.Identity.InlinePolicies(ctx, role)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		errs = append(errs, o.deps.Identity.DeleteInlinePolicy(ctx, role, name))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) profileName(run *deletion) string {
	return ProfileName(o.settings.Instance.ProfilePrefix, run.job.EmployeeID)
}

func containsInstance(instances []aws.Instance, id string) bool {
	for _, inst := range instances {
		if inst.ID == id {
			return true
		}
	}
	return false
}
