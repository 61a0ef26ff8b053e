package employee

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for an employee id.
	ErrNotFound = errors.New("employee: not found")
	// ErrInvalidJob is returned when a job cannot be run.
	ErrInvalidJob = errors.New("employee: invalid job")
)

// Store persists employee records.
type Store interface {
	// Get returns ErrNotFound when the record is absent.
	Get(ctx context.Context, id string) (*Record, error)
	// Put inserts rec unless a record with the same id exists.
	Put(ctx context.Context, rec *Record) error
	// Update merges the set fields of u into the record and returns the result.
	// Last writer wins. Returns ErrNotFound when the record is absent.
	Update(ctx context.Context, id string, u Update) (*Record, error)
	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error
}

// CredentialStore persists bootstrap credentials.
type CredentialStore interface {
	// PutCredential inserts or replaces the credential for c.EmployeeID.
	PutCredential(ctx context.Context, c Credential) error
	// GetCredential returns ErrNotFound when no credential was issued.
	GetCredential(ctx context.Context, id string) (*Credential, error)
}
