package employee

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store and CredentialStore. It backs the
// "memory" store backend and doubles as a test fake: the error fields are
// returned from the matching method when set.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]Record
	credentials map[string]Credential

	GetErr        error
	PutErr        error
	UpdateErr     error
	DeleteErr     error
	CredentialErr error

	// Track calls
	StatusHistory map[string][]Status
	DeleteCalls   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:       make(map[string]Record),
		credentials:   make(map[string]Credential),
		StatusHistory: make(map[string][]Status),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Put(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	if _, ok := m.records[rec.ID]; ok {
		return nil
	}
	m.records[rec.ID] = *rec
	if rec.Status != "" {
		m.StatusHistory[rec.ID] = append(m.StatusHistory[rec.ID], rec.Status)
	}
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, u Update) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Apply(u)
	m.records[id] = rec
	if u.Status != nil {
		m.StatusHistory[id] = append(m.StatusHistory[id], *u.Status)
	}
	return &rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, id)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) PutCredential(_ context.Context, c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CredentialErr != nil {
		return m.CredentialErr
	}
	m.credentials[c.EmployeeID] = c
	return nil
}

func (m *MemoryStore) GetCredential(_ context.Context, id string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// CredentialCount returns the number of stored credentials.
func (m *MemoryStore) CredentialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.credentials)
}

// Close is a no-op.
func (m *MemoryStore) Close(context.Context) error { return nil }
