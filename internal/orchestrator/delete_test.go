package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/staffctl/staffctl/internal/aws"
	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/notify"
)

func deleteJob(id string) employee.Job {
	return employee.Job{EmployeeID: id, Action: employee.ActionDelete}
}

func TestDeleteAfterOnboarding(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	ctx := context.Background()

	if _, err := o.Run(ctx, hrJob()); err != nil {
		t.Fatalf("onboarding: %v", err)
	}
	h.instances.Tagged = []aws.Instance{{ID: launchedID, State: "running"}}

	res, err := o.Run(ctx, deleteJob("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusDeleted || len(res.Warnings) != 0 {
		t.Errorf("unexpected result %+v", res)
	}

	if _, err := h.store.Get(ctx, "e1"); !errors.Is(err, employee.ErrNotFound) {
		t.Errorf("record should be removed, got %v", err)
	}
	if len(h.instances.Terminated) != 1 || h.instances.Terminated[0] != launchedID {
		t.Errorf("terminated = %v", h.instances.Terminated)
	}
	if h.identity.HasRole("employee-e1") || h.identity.HasProfile("employee-profile-e1") {
		t.Error("role and profile should be gone")
	}

	var deleteScript string
	for _, s := range h.channel.SentTo("i-mgmt") {
		if strings.HasPrefix(s.Command.Comment, "delete account") {
			deleteScript = s.Script()
		}
	}
	if !strings.Contains(deleteScript, "$User = 'alice'") {
		t.Error("the stored email should drive the account deletion")
	}

	last := h.notifier.Messages[len(h.notifier.Messages)-1]
	if last.Subject != notify.SubjectDeleted {
		t.Errorf("subject = %s", last.Subject)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)
	ctx := context.Background()

	for i := range 2 {
		res, err := o.Delete(ctx, deleteJob("ghost"))
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		if res.Status != employee.StatusDeleted {
			t.Errorf("run %d: status = %s, warnings %v", i, res.Status, res.Warnings)
		}
	}
	if _, err := h.store.Get(ctx, "ghost"); !errors.Is(err, employee.ErrNotFound) {
		t.Errorf("record should be absent, got %v", err)
	}
	if len(h.instances.Terminated) != 0 {
		t.Errorf("nothing to terminate, got %v", h.instances.Terminated)
	}
	for _, s := range h.channel.Sent {
		if strings.HasPrefix(s.Command.Comment, "delete account") {
			t.Error("no account should be deleted without an email")
		}
	}
}

func TestDeleteOrphanedInstance(t *testing.T) {
	h := newHarness()
	h.instances.Tagged = []aws.Instance{
		{ID: "i-orphan", State: "running"},
		{ID: "i-old", State: "terminated"},
		{ID: "i-going", State: "shutting-down"},
	}
	o := h.orchestrator(t)

	res, err := o.Delete(context.Background(), deleteJob("e7"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusDeleted || len(res.Warnings) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(h.instances.Terminated) != 1 || h.instances.Terminated[0] != "i-orphan" {
		t.Errorf("terminated = %v", h.instances.Terminated)
	}
	if len(h.instances.Described) != 1 || h.instances.Described[0] != "employeeId=e7" {
		t.Errorf("described = %v", h.instances.Described)
	}
	if len(h.notifier.Messages) != 1 || h.notifier.Messages[0].Subject != notify.SubjectDeleted {
		t.Errorf("messages = %+v", h.notifier.Messages)
	}
}

func TestDeleteFindsInstanceDespiteStaleRecord(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if err := h.store.Put(ctx, &employee.Record{ID: "e1", Status: employee.StatusActive, InstanceID: "i-stale"}); err != nil {
		t.Fatal(err)
	}
	h.instances.Tagged = []aws.Instance{{ID: "i-real", State: "stopped"}}
	o := h.orchestrator(t)

	res, err := o.Delete(ctx, deleteJob("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusDeleted {
		t.Errorf("status = %s", res.Status)
	}
	if len(h.instances.Terminated) != 1 || h.instances.Terminated[0] != "i-real" {
		t.Errorf("terminated = %v", h.instances.Terminated)
	}
}

func TestDeleteTerminateFailure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if err := h.store.Put(ctx, &employee.Record{ID: "e1", Status: employee.StatusActive, Email: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	h.instances.Tagged = []aws.Instance{{ID: "i-1", State: "running"}}
	h.instances.TerminateErr = errors.New("UnauthorizedOperation: not allowed to terminate")
	o := h.orchestrator(t)

	res, err := o.Delete(ctx, deleteJob("e1"))
	if err != nil {
		t.Fatalf("deletion should not return step errors: %v", err)
	}
	if res.Status != employee.StatusDeleteFailed {
		t.Errorf("status = %s", res.Status)
	}

	rec := record(t, h.store, "e1")
	if rec.Status != employee.StatusDeleteFailed || !strings.Contains(rec.Error, "not allowed to terminate") {
		t.Errorf("record = %+v", rec)
	}
	if len(h.store.DeleteCalls) != 0 {
		t.Error("the record must be kept")
	}
	if len(h.notifier.Messages) != 1 {
		t.Fatalf("messages = %+v", h.notifier.Messages)
	}
	msg := h.notifier.Messages[0]
	if msg.Subject != notify.SubjectDeletedWarnings || !strings.Contains(msg.Body, "not allowed to terminate") {
		t.Errorf("message = %+v", msg)
	}
	if h.identity.HasRole("employee-e1") {
		t.Error("IAM teardown should still run")
	}
}

func TestDeleteAttemptsEveryStep(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if err := h.store.Put(ctx, &employee.Record{ID: "e1", Email: "alice@example.com", WorkspaceID: "ws-1"}); err != nil {
		t.Fatal(err)
	}
	h.channel.Respond = failOn("delete account", aws.Invocation{Status: aws.InvocationFailed, Stderr: "Remove-ADUser : denied"})
	h.workspaces.Err = errors.New("workspace busy")
	h.instances.DescribeErr = errors.New("describe throttled")
	h.identity.DeleteProfileErr = errors.New("profile in use")
	h.identity.DeleteRoleErr = errors.New("role in use")
	o := h.orchestrator(t)

	res, err := o.Delete(ctx, deleteJob("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusDeleteFailed {
		t.Errorf("status = %s", res.Status)
	}
	if len(res.Warnings) != 5 {
		t.Errorf("expected 5 warnings, got %d: %v", len(res.Warnings), res.Warnings)
	}

	rec := record(t, h.store, "e1")
	for _, want := range []string{"Remove-ADUser : denied", "workspace busy", "describe throttled", "profile in use", "role in use"} {
		if !strings.Contains(rec.Error, want) {
			t.Errorf("error %q missing %q", rec.Error, want)
		}
	}
	if strings.Count(rec.Error, "; ") != 4 {
		t.Errorf("errors should be joined with '; ': %q", rec.Error)
	}

	wantCalls := []string{"ProfileRoles", "DeleteInstanceProfile", "AttachedPolicies", "InlinePolicies", "DeleteRole"}
	for _, want := range wantCalls {
		found := false
		for _, c := range h.identity.Calls {
			if strings.HasPrefix(c, want+" ") {
				found = true
			}
		}
		if !found {
			t.Errorf("identity call %s not attempted; calls %v", want, h.identity.Calls)
		}
	}
	if len(h.instances.Described) != 1 {
		t.Error("instance discovery should run after the account deletion failed")
	}
}

func TestDeleteUsesJobOverrides(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)

	job := deleteJob("e1")
	job.Email = "bob@example.com"
	job.WorkspaceID = "ws-9"
	if _, err := o.Delete(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.workspaces.Terminated) != 1 || h.workspaces.Terminated[0] != "ws-9" {
		t.Errorf("workspaces = %v", h.workspaces.Terminated)
	}
	sent := h.channel.SentTo("i-mgmt")
	if len(sent) != 1 || !strings.Contains(sent[0].Script(), "$User = 'bob'") {
		t.Error("the override email should drive the account deletion")
	}
}

func TestDeleteStoreReadFailureIsRecorded(t *testing.T) {
	h := newHarness()
	h.store.GetErr = errors.New("connection reset")
	h.instances.Tagged = []aws.Instance{{ID: "i-1", State: "running"}}
	o := h.orchestrator(t)

	res, err := o.Delete(context.Background(), deleteJob("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusDeleteFailed || !strings.Contains(strings.Join(res.Warnings, ";"), "connection reset") {
		t.Errorf("unexpected result %+v", res)
	}
	if len(h.instances.Terminated) != 1 {
		t.Error("cleanup should continue with an empty record")
	}
}

func TestDeleteRecordRemovalFailure(t *testing.T) {
	h := newHarness()
	h.store.DeleteErr = errors.New("conditional check failed")
	o := h.orchestrator(t)

	res, err := o.Delete(context.Background(), deleteJob("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusDeleteFailed {
		t.Errorf("status = %s", res.Status)
	}
	if rec := record(t, h.store, "e1"); rec.Status != employee.StatusDeleteFailed {
		t.Errorf("record status = %s", rec.Status)
	}
	if h.notifier.Messages[0].Subject != notify.SubjectDeletedWarnings {
		t.Errorf("subject = %s", h.notifier.Messages[0].Subject)
	}
}

func TestDeleteInitialWriteFailureIsReturned(t *testing.T) {
	h := newHarness()
	h.store.UpdateErr = errors.New("table not found")
	o := h.orchestrator(t)

	if _, err := o.Delete(context.Background(), deleteJob("e1")); err == nil {
		t.Fatal("expected error")
	}
	if len(h.instances.Described) != 0 {
		t.Error("no cleanup should run when the deletion cannot be recorded")
	}
}

func TestDeleteCancelledRunIsRecordedAsFailed(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.store.Put(ctx, &employee.Record{ID: "e1", Status: employee.StatusActive}); err != nil {
		t.Fatal(err)
	}
	// Cancel right after DELETING is recorded.
	h.status = &ctxStore{MemoryStore: h.store, afterUpdate: cancel}
	o := h.orchestrator(t)

	res, err := o.Delete(ctx, deleteJob("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != employee.StatusDeleteFailed {
		t.Errorf("status = %s", res.Status)
	}
	rec := record(t, h.store, "e1")
	if rec.Status != employee.StatusDeleteFailed || !strings.Contains(rec.Error, "context canceled") {
		t.Errorf("record = %+v", rec)
	}
	if len(h.notifier.Messages) != 1 || h.notifier.Messages[0].Subject != notify.SubjectDeletedWarnings {
		t.Errorf("messages = %+v", h.notifier.Messages)
	}
}
