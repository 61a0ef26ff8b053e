package employee

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Job is one unit of work handed to the orchestrator by the dispatcher.
type Job struct {
	EmployeeID  string `json:"employeeId"`
	Action      Action `json:"action"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Department  string `json:"department"`
	WorkspaceID string `json:"workspaceId"`
}

// Validate normalizes the job and checks it can be run.
func (j *Job) Validate() error {
	j.EmployeeID = strings.TrimSpace(j.EmployeeID)
	if j.EmployeeID == "" {
		return fmt.Errorf("%w: employee id is required", ErrInvalidJob)
	}
	action, ok := ParseAction(string(j.Action))
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidJob, j.Action)
	}
	j.Action = action
	j.Email = strings.TrimSpace(j.Email)
	j.Department = strings.TrimSpace(j.Department)
	return nil
}

// ParseEvent decodes a dispatcher message. Both the EventBridge envelope
// ({"detail": {...}}) and a bare detail object are accepted.
func ParseEvent(data []byte) (Job, error) {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Job{}, fmt.Errorf("%w: decoding event: %v", ErrInvalidJob, err)
	}

	body := data
	if len(envelope.Detail) > 0 && string(envelope.Detail) != "null" {
		body = envelope.Detail
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: decoding event detail: %v", ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}
