package employee

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an employee record.
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusProvisioning Status = "PROVISIONING"
	StatusActive       Status = "ACTIVE"
	StatusFailed       Status = "FAILED"
	StatusDeleting     Status = "DELETING"
	StatusDeleteFailed Status = "DELETE_FAILED"
	StatusDeleted      Status = "DELETED"
)

// Terminal reports whether no further transition is expected without a new job.
func (s Status) Terminal() bool {
	switch s {
	case StatusActive, StatusFailed, StatusDeleteFailed, StatusDeleted:
		return true
	}
	return false
}

// Record is the persisted state of one employee.
type Record struct {
	ID          string    `yaml:"employee_id" json:"employeeId"`
	Name        string    `yaml:"name,omitempty" json:"name,omitempty"`
	Email       string    `yaml:"email,omitempty" json:"email,omitempty"`
	Department  string    `yaml:"department,omitempty" json:"department,omitempty"`
	Status      Status    `yaml:"status" json:"status"`
	InstanceID  string    `yaml:"instance_id,omitempty" json:"instanceId,omitempty"`
	WorkspaceID string    `yaml:"workspace_id,omitempty" json:"workspaceId,omitempty"`
	ArtifactRef string    `yaml:"artifact_ref,omitempty" json:"artifactRef,omitempty"`
	Error       string    `yaml:"error,omitempty" json:"error,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updatedAt"`
}

// Apply merges the set fields of u into r.
func (r *Record) Apply(u Update) {
	for _, a := range u.Assignments() {
		switch a.Field {
		case FieldName:
			r.Name = a.Value.(string)
		case FieldEmail:
			r.Email = a.Value.(string)
		case FieldDepartment:
			r.Department = a.Value.(string)
		case FieldStatus:
			r.Status = a.Value.(Status)
		case FieldWorkspaceID:
			r.WorkspaceID = a.Value.(string)
		case FieldInstanceID:
			r.InstanceID = a.Value.(string)
		case FieldArtifactRef:
			r.ArtifactRef = a.Value.(string)
		case FieldError:
			r.Error = a.Value.(string)
		case FieldUpdatedAt:
			r.UpdatedAt = a.Value.(time.Time)
		}
	}
}

// Credential is the bootstrap login issued to an employee.
// There is exactly one per employee; a re-issue replaces it.
type Credential struct {
	EmployeeID string
	Email      string
	Username   string
	Password   string
	UpdatedAt  time.Time
}

// Action selects the workflow a job runs.
type Action string

const (
	ActionOnboard Action = "onboard"
	ActionDelete  Action = "delete"
)

// ParseAction maps dispatcher spellings onto an Action. An empty value means onboard.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "onboard", "create":
		return ActionOnboard, true
	case "delete", "offboard":
		return ActionDelete, true
	}
	return "", false
}
