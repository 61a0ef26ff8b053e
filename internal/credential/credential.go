// Package credential derives and records the bootstrap login of an employee.
package credential

import (
	"context"
	"fmt"
	"strings"

	"github.com/staffctl/staffctl/internal/config"
	"github.com/staffctl/staffctl/internal/employee"
	"github.com/staffctl/staffctl/internal/poll"
)

// Username returns the local part of email, or user-<employeeID> when there is
// no usable email.
func Username(email, employeeID string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local != "" {
		return local
	}
	return "user-" + employeeID
}

// Issuer hands out bootstrap credentials and records them.
type Issuer struct {
	store    employee.CredentialStore
	password string
	clock    poll.Clock
}

// NewIssuer creates an Issuer. An empty password means config.DefaultPassword.
func NewIssuer(store employee.CredentialStore, password string, clock poll.Clock) *Issuer {
	if password == "" {
		password = config.DefaultPassword
	}
	if clock == nil {
		clock = poll.Real()
	}
	return &Issuer{store: store, password: password, clock: clock}
}

// Issue derives the credential for job and upserts it. Issuing again for the
// same employee replaces the stored credential.
func (i *Issuer) Issue(ctx context.Context, job employee.Job) (employee.Credential, error) {
	c := employee.Credential{
		EmployeeID: job.EmployeeID,
		Email:      job.Email,
		Username:   Username(job.Email, job.EmployeeID),
		Password:   i.password,
		UpdatedAt:  i.clock.Now().UTC(),
	}
	if err := i.store.PutCredential(ctx, c); err != nil {
		return employee.Credential{}, fmt.Errorf("storing credential for %s: %w", job.EmployeeID, err)
	}
	return c, nil
}
