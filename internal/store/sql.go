package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/staffctl/staffctl/internal/employee"
)

const (
	recordsTable     = "employees"
	credentialsTable = "employee_passwords"
)

// placeholder renders the n-th (1-based) bind parameter.
type placeholder func(n int) string

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }

func selectRecordSQL(ph placeholder) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE employee_id = %s", recordColumns, recordsTable, ph(1))
}

func insertRecordSQL(ph placeholder) string {
	params := make([]string, 10)
	for i := range params {
		params[i] = ph(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (employee_id) DO NOTHING",
		recordsTable, recordColumns, strings.Join(params, ", "))
}

// updateRecordSQL builds a SET clause from the allow-listed assignments. The
// employee id is always the last argument.
func updateRecordSQL(ph placeholder, assigns []assignment, id string) (string, []any) {
	sets := make([]string, len(assigns))
	args := make([]any, 0, len(assigns)+1)
	for i, a := range assigns {
		sets[i] = fmt.Sprintf("%s = %s", a.column, ph(i+1))
		args = append(args, a.value)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE employee_id = %s RETURNING %s",
		recordsTable, strings.Join(sets, ", "), ph(len(args)), recordColumns)
	return query, args
}

func deleteRecordSQL(ph placeholder) string {
	return fmt.Sprintf("DELETE FROM %s WHERE employee_id = %s", recordsTable, ph(1))
}

func upsertCredentialSQL(ph placeholder) string {
	return fmt.Sprintf(`INSERT INTO %s (employee_id, email, username, password, updated_at)
VALUES (%s, %s, %s, %s, %s)
ON CONFLICT (employee_id) DO UPDATE SET
email = excluded.email, username = excluded.username, password = excluded.password, updated_at = excluded.updated_at`,
		credentialsTable, ph(1), ph(2), ph(3), ph(4), ph(5))
}

func selectCredentialSQL(ph placeholder) string {
	return fmt.Sprintf("SELECT employee_id, email, username, password, updated_at FROM %s WHERE employee_id = %s",
		credentialsTable, ph(1))
}

// rowScanner is satisfied by pgx.Row and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// timeCodec scans updated_at and converts it to a time.Time.
type timeCodec struct {
	dest   func() any
	decode func(any) (time.Time, error)
}

func scanRecord(row rowScanner, tc timeCodec) (*employee.Record, error) {
	var (
		rec    employee.Record
		status string
	)
	updated := tc.dest()
	err := row.Scan(&rec.ID, &rec.Name, &rec.Email, &rec.Department, &status,
		&rec.InstanceID, &rec.WorkspaceID, &rec.ArtifactRef, &rec.Error, updated)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, employee.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.Status = employee.Status(status)
	if rec.UpdatedAt, err = tc.decode(updated); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &rec, nil
}
