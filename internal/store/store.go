// Package store provides the status store backends.
package store

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/staffctl/staffctl/internal/config"
	"github.com/staffctl/staffctl/internal/employee"
)

// Backend is a status store together with its credential table.
type Backend interface {
	employee.Store
	employee.CredentialStore
	Close(ctx context.Context) error
}

// Open connects the configured backend. awsCfg is only used by dynamodb.
func Open(ctx context.Context, cfg config.StoreConfig, awsCfg *awssdk.Config) (Backend, error) {
	switch cfg.Backend {
	case "dynamodb":
		if awsCfg == nil {
			return nil, fmt.Errorf("dynamodb store needs AWS configuration")
		}
		return NewDynamoStore(newDynamoClient(*awsCfg), cfg.DynamoDB.Table, cfg.DynamoDB.PasswordTable), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres)
	case "mongodb":
		return OpenMongo(ctx, cfg.MongoDB.ConnectionString, cfg.MongoDB.Database)
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLite.Path)
	case "memory":
		return employee.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// columns is the allow-list of a backend: only fields listed here are ever
// written, under the attribute name given.
type columns map[employee.Field]string

type assignment struct {
	column string
	value  any
}

// resolve maps u onto backend attributes. Status values become plain strings
// and timestamps go through encodeTime.
func (c columns) resolve(u employee.Update, encodeTime func(time.Time) any) ([]assignment, error) {
	var out []assignment
	for _, a := range u.Assignments() {
		col, ok := c[a.Field]
		if !ok {
			return nil, fmt.Errorf("field %s is not writable", a.Field)
		}
		v := a.Value
		switch tv := v.(type) {
		case employee.Status:
			v = string(tv)
		case time.Time:
			v = encodeTime(tv)
		}
		out = append(out, assignment{column: col, value: v})
	}
	return out, nil
}

// sqlColumns is shared by the relational backends.
var sqlColumns = columns{
	employee.FieldName:        "name",
	employee.FieldEmail:       "email",
	employee.FieldDepartment:  "department",
	employee.FieldStatus:      "status",
	employee.FieldWorkspaceID: "workspace_id",
	employee.FieldInstanceID:  "instance_id",
	employee.FieldArtifactRef: "artifact_ref",
	employee.FieldError:       "error",
	employee.FieldUpdatedAt:   "updated_at",
}

const recordColumns = "employee_id, name, email, department, status, instance_id, workspace_id, artifact_ref, error, updated_at"
