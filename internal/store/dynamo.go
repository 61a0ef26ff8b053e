package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/staffctl/staffctl/internal/employee"
)

// dynamoAPI is the subset of the DynamoDB client the store calls.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

func newDynamoClient(cfg awssdk.Config) dynamoAPI {
	return dynamodb.NewFromConfig(cfg)
}

const dynamoKey = "employeeId"

var dynamoColumns = columns{
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

// recordItem is the table layout. updatedAt is epoch seconds.
type recordItem struct {
	EmployeeID  string `dynamodbav:"employeeId"`
	Name        string `dynamodbav:"name"`
	Email       string `dynamodbav:"email"`
	Department  string `dynamodbav:"department"`
	Status      string `dynamodbav:"status"`
	InstanceID  string `dynamodbav:"instanceId"`
	WorkspaceID string `dynamodbav:"workspaceId"`
	ArtifactRef string `dynamodbav:"artifactRef"`
	Error       string `dynamodbav:"error"`
	UpdatedAt   int64  `dynamodbav:"updatedAt"`
}

func itemFromRecord(rec *employee.Record) recordItem {
	return recordItem{
		EmployeeID:  rec.ID,
		Name:        rec.Name,
		Email:       rec.Email,
		Department:  rec.Department,
		Status:      string(rec.Status),
		InstanceID:  rec.InstanceID,
		WorkspaceID: rec.WorkspaceID,
		ArtifactRef: rec.ArtifactRef,
		Error:       rec.Error,
		UpdatedAt:   epoch(rec.UpdatedAt),
	}
}

func (i recordItem) record() *employee.Record {
	rec := &employee.Record{
		ID:          i.EmployeeID,
		Name:        i.Name,
		Email:       i.Email,
		Department:  i.Department,
		Status:      employee.Status(i.Status),
		InstanceID:  i.InstanceID,
		WorkspaceID: i.WorkspaceID,
		ArtifactRef: i.ArtifactRef,
		Error:       i.Error,
	}
	if i.UpdatedAt > 0 {
		rec.UpdatedAt = time.Unix(i.UpdatedAt, 0).UTC()
	}
	return rec
}

type credentialItem struct {
	EmployeeID string `dynamodbav:"employeeId"`
	Email      string `dynamodbav:"email"`
	Username   string `dynamodbav:"username"`
	Password   string `dynamodbav:"password"`
	UpdatedAt  int64  `dynamodbav:"updatedAt"`
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// DynamoStore keeps records in a DynamoDB table keyed by employeeId.
type DynamoStore struct {
	client        dynamoAPI
	table         string
	passwordTable string
}

// NewDynamoStore creates a store over the given tables.
func NewDynamoStore(client dynamoAPI, table, passwordTable string) *DynamoStore {
	return &DynamoStore{client: client, table: table, passwordTable: passwordTable}
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{dynamoKey: &types.AttributeValueMemberS{Value: id}}
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*employee.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      awssdk.String(s.table),
		Key:            key(id),
		ConsistentRead: awssdk.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, employee.ErrNotFound
	}
	var item recordItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return item.record(), nil
}

// Put writes rec only when no item exists for its id.
func (s *DynamoStore) Put(ctx context.Context, rec *employee.Record) error {
	av, err := attributevalue.MarshalMap(itemFromRecord(rec))
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(dynamoKey))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                awssdk.String(s.table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil && !conditionFailed(err) {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, id string, u employee.Update) (*employee.Record, error) {
	assigns, err := dynamoColumns.resolve(u, func(t time.Time) any { return epoch(t) })
	if err != nil {
		return nil, err
	}
	if len(assigns) == 0 {
		return s.Get(ctx, id)
	}

	upd := expression.Set(expression.Name(assigns[0].column), expression.Value(assigns[0].value))
	for _, a := range assigns[1:] {
		upd = upd.Set(expression.Name(a.column), expression.Value(a.value))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(upd).
		WithCondition(expression.AttributeExists(expression.Name(dynamoKey))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 awssdk.String(s.table),
		Key:                       key(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if conditionFailed(err) {
		return nil, employee.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	var item recordItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return item.record(), nil
}

func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: awssdk.String(s.table),
		Key:       key(id),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *DynamoStore) PutCredential(ctx context.Context, c employee.Credential) error {
	av, err := attributevalue.MarshalMap(credentialItem{
		EmployeeID: c.EmployeeID,
		Email:      c.Email,
		Username:   c.Username,
		Password:   c.Password,
		UpdatedAt:  epoch(c.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("encode credential %s: %w", c.EmployeeID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: awssdk.String(s.passwordTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("store credential %s: %w", c.EmployeeID, err)
	}
	return nil
}

func (s *DynamoStore) GetCredential(ctx context.Context, id string) (*employee.Credential, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: awssdk.String(s.passwordTable),
		Key:       key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, employee.ErrNotFound
	}
	var item credentialItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", id, err)
	}
	c := &employee.Credential{
		EmployeeID: item.EmployeeID,
		Email:      item.Email,
		Username:   item.Username,
		Password:   item.Password,
	}
	if item.UpdatedAt > 0 {
		c.UpdatedAt = time.Unix(item.UpdatedAt, 0).UTC()
	}
	return c, nil
}

func (s *DynamoStore) Close(context.Context) error { return nil }
