package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/staffctl/staffctl/internal/employee"
)

func resetRunFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		runEventFile = ""
		runJob = employee.Job{}
		runAction = ""
	})
	runEventFile = ""
	runJob = employee.Job{}
	runAction = ""
}

func TestJobFromFlags(t *testing.T) {
	resetRunFlags(t)
	runJob = employee.Job{EmployeeID: " e1 ", Email: " alice@example.com", Department: "hr"}
	runAction = "create"

	job, err := jobFromInput()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.EmployeeID != "e1" || job.Action != employee.ActionOnboard || job.Email != "alice@example.com" {
		t.Errorf("job = %+v", job)
	}
}

func TestJobFromFlagsRequiresEmployee(t *testing.T) {
	resetRunFlags(t)

	_, err := jobFromInput()
	if !errors.Is(err, employee.ErrInvalidJob) || !strings.Contains(err.Error(), "EMPLOYEE_ID") {
		t.Errorf("expected an invalid job error naming EMPLOYEE_ID, got %v", err)
	}
}

func TestJobFromEventFile(t *testing.T) {
	resetRunFlags(t)
	path := filepath.Join(t.TempDir(), "event.json")
	event := `{"detail": {"employeeId": "e9", "action": "delete", "workspaceId": "ws-1"}}`
	if err := os.WriteFile(path, []byte(event), 0o644); err != nil {
		t.Fatal(err)
	}
	runEventFile = path
	runJob.EmployeeID = "ignored"

	job, err := jobFromInput()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.EmployeeID != "e9" || job.Action != employee.ActionDelete || job.WorkspaceID != "ws-1" {
		t.Errorf("job = %+v", job)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret("abc"); got != "***" {
		t.Errorf("maskSecret(abc) = %s", got)
	}
	if got := maskSecret("supersecret"); got != "su*******et" {
		t.Errorf("maskSecret(supersecret) = %s", got)
	}
}
