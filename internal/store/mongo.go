package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/staffctl/staffctl/internal/employee"
)

const (
	recordsCollection     = "employees"
	credentialsCollection = "employee_passwords"
)

var mongoColumns = columns{
	employee.FieldName:        "name",
	employee.FieldEmail:       "email",
	employee.FieldDepartment:  "department",
	employee.FieldStatus:      "status",
	employee.FieldWorkspaceID: "workspaceId",
	employee.FieldInstanceID:  "instanceId",
	employee.FieldArtifactRef: "artifactRef",
	employee.FieldError:       "error",
	employee.FieldUpdatedAt:   "updatedAt",
}

type recordDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Email       string    `bson:"email"`
	Department  string    `bson:"department"`
	Status      string    `bson:"status"`
	InstanceID  string    `bson:"instanceId"`
	WorkspaceID string    `bson:"workspaceId"`
	ArtifactRef string    `bson:"artifactRef"`
	Error       string    `bson:"error"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d recordDoc) record() *employee.Record {
	return &employee.Record{
		ID:          d.ID,
		Name:        d.Name,
		Email:       d.Email,
		Department:  d.Department,
		Status:      employee.Status(d.Status),
		InstanceID:  d.InstanceID,
		WorkspaceID: d.WorkspaceID,
		ArtifactRef: d.ArtifactRef,
		Error:       d.Error,
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// insertFields is the $setOnInsert document for rec. The _id comes from the filter.
func insertFields(rec *employee.Record) bson.D {
	return bson.D{
		{Key: "name", Value: rec.Name},
		{Key: "email", Value: rec.Email},
		{Key: "department", Value: rec.Department},
		{Key: "status", Value: string(rec.Status)},
		{Key: "instanceId", Value: rec.InstanceID},
		{Key: "workspaceId", Value: rec.WorkspaceID},
		{Key: "artifactRef", Value: rec.ArtifactRef},
		{Key: "error", Value: rec.Error},
		{Key: "updatedAt", Value: rec.UpdatedAt.UTC()},
	}
}

// setFields is the $set document for u.
func setFields(u employee.Update) (bson.D, error) {
	assigns, err := mongoColumns.resolve(u, func(t time.Time) any { return t.UTC() })
	if err != nil {
		return nil, err
	}
	set := make(bson.D, len(assigns))
	for i, a := range assigns {
		set[i] = bson.E{Key: a.column, Value: a.value}
	}
	return set, nil
}

type credentialDoc struct {
	EmployeeID string    `bson:"_id"`
	Email      string    `bson:"email"`
	Username   string    `bson:"username"`
	Password   string    `bson:"password"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// MongoStore keeps one document per employee keyed by employee id.
type MongoStore struct {
	client      *mongo.Client
	records     *mongo.Collection
	credentials *mongo.Collection
}

// OpenMongo connects and pings the deployment at uri.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}
	db := client.Database(database)
	return &MongoStore{
		client:      client,
		records:     db.Collection(recordsCollection),
		credentials: db.Collection(credentialsCollection),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*employee.Record, error) {
	var doc recordDoc
	err := s.records.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, employee.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", id, err)
	}
	return doc.record(), nil
}

func (s *MongoStore) Put(ctx context.Context, rec *employee.Record) error {
	_, err := s.records.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: rec.ID}},
		bson.D{{Key: "$setOnInsert", Value: insertFields(rec)}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, id string, u employee.Update) (*employee.Record, error) {
	if u.Empty() {
		return s.Get(ctx, id)
	}
	set, err := setFields(u)
	if err != nil {
		return nil, err
	}

	var doc recordDoc
	err = s.records.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, employee.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	return doc.record(), nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.records.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) PutCredential(ctx context.Context, c employee.Credential) error {
	doc := credentialDoc{
		EmployeeID: c.EmployeeID,
		Email:      c.Email,
		Username:   c.Username,
		Password:   c.Password,
		UpdatedAt:  c.UpdatedAt.UTC(),
	}
	_, err := s.credentials.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: c.EmployeeID}}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store credential %s: %w", c.EmployeeID, err)
	}
	return nil
}

func (s *MongoStore) GetCredential(ctx context.Context, id string) (*employee.Credential, error) {
	var doc credentialDoc
	err := s.credentials.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, employee.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	return &employee.Credential{
		EmployeeID: doc.EmployeeID,
		Email:      doc.Email,
		Username:   doc.Username,
		Password:   doc.Password,
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
