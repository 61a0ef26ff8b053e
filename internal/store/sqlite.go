package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/staffctl/staffctl/internal/employee"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS employees (
	employee_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	instance_id TEXT NOT NULL DEFAULT '',
	workspace_id TEXT NOT NULL DEFAULT '',
	artifact_ref TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS employee_passwords (
	employee_id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL,
	password TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore is a single-file store for running without a database server.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func encodeSQLiteTime(t time.Time) any {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

var sqliteTime = timeCodec{
	dest: func() any { return new(string) },
	decode: func(v any) (time.Time, error) {
		s := *v.(*string)
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	},
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*employee.Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecordSQL(question), id), sqliteTime)
}

func (s *SQLiteStore) Put(ctx context.Context, rec *employee.Record) error {
	_, err := s.db.ExecContext(ctx, insertRecordSQL(question),
		rec.ID, rec.Name, rec.Email, rec.Department, string(rec.Status),
		rec.InstanceID, rec.WorkspaceID, rec.ArtifactRef, rec.Error, encodeSQLiteTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, u employee.Update) (*employee.Record, error) {
	if u.Empty() {
		return s.Get(ctx, id)
	}
	assigns, err := sqlColumns.resolve(u, encodeSQLiteTime)
	if err != nil {
		return nil, err
	}
	query, args := updateRecordSQL(question, assigns, id)
	return scanRecord(s.db.QueryRowContext(ctx, query, args...), sqliteTime)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, deleteRecordSQL(question), id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) PutCredential(ctx context.Context, c employee.Credential) error {
	_, err := s.db.ExecContext(ctx, upsertCredentialSQL(question),
		c.EmployeeID, c.Email, c.Username, c.Password, encodeSQLiteTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store credential %s: %w", c.EmployeeID, err)
	}
	return nil
}

func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*employee.Credential, error) {
	var (
		c       employee.Credential
		updated string
	)
	err := s.db.QueryRowContext(ctx, selectCredentialSQL(question), id).
		Scan(&c.EmployeeID, &c.Email, &c.Username, &c.Password, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, employee.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	if c.UpdatedAt, err = sqliteTime.decode(&updated); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}
