package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/staffctl/staffctl/internal/config"
	"github.com/staffctl/staffctl/internal/employee"
)

// Queryer is the subset of pgxpool.Pool the store uses.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps records in the employees table. The schema is managed
// by Migrate.
type PostgresStore struct {
	db    Queryer
	close func()
}

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{db: pool, close: pool.Close}, nil
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db Queryer) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*employee.Record, error) {
	return scanRecord(s.db.QueryRow(ctx, selectRecordSQL(dollar), id), pgTime)
}

func (s *PostgresStore) Put(ctx context.Context, rec *employee.Record) error {
	_, err := s.db.Exec(ctx, insertRecordSQL(dollar),
		rec.ID, rec.Name, rec.Email, rec.Department, string(rec.Status),
		rec.InstanceID, rec.WorkspaceID, rec.ArtifactRef, rec.Error, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, u employee.Update) (*employee.Record, error) {
	if u.Empty() {
		return s.Get(ctx, id)
	}
	assigns, err := sqlColumns.resolve(u, func(t time.Time) any { return t.UTC() })
	if err != nil {
		return nil, err
	}
	query, args := updateRecordSQL(dollar, assigns, id)
	return scanRecord(s.db.QueryRow(ctx, query, args...), pgTime)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, deleteRecordSQL(dollar), id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) PutCredential(ctx context.Context, c employee.Credential) error {
	_, err := s.db.Exec(ctx, upsertCredentialSQL(dollar),
		c.EmployeeID, c.Email, c.Username, c.Password, c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store credential %s: %w", c.EmployeeID, err)
	}
	return nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, id string) (*employee.Credential, error) {
	var c employee.Credential
	err := s.db.QueryRow(ctx, selectCredentialSQL(dollar), id).
		Scan(&c.EmployeeID, &c.Email, &c.Username, &c.Password, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, employee.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) Close(context.Context) error {
	if s.close != nil {
		s.close()
	}
	return nil
}

var pgTime = timeCodec{
	dest: func() any { return new(time.Time) },
	decode: func(v any) (time.Time, error) {
		return v.(*time.Time).UTC(), nil
	},
}
