// ABOUTME: DynamoDB implementation of the Store interface using aws-sdk-go-v2
// ABOUTME: Insert-if-absent and status transitions are DynamoDB condition expressions

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoTables names the three tables backing a DynamoStore
type DynamoTables struct {
	Users string // partition key: username
	Cells string // partition key: id
	Items string // partition key: username, sort key: item_key
}

// DynamoStore implements the Store interface using DynamoDB
type DynamoStore struct {
	client DynamoAPI
	tables DynamoTables
	logger *slog.Logger
}

// NewDynamoStore wraps a DynamoDB client. Tables must already exist.
func NewDynamoStore(client DynamoAPI, tables DynamoTables) *DynamoStore {
	return &DynamoStore{
		client: client,
		tables: tables,
		logger: slog.Default().With("component", "store", "driver", "dynamodb"),
	}
}

type userRecord struct {
	Username       string    `dynamodbav:"username"`
	CredentialHash string    `dynamodbav:"credential_hash"`
	CellID         string    `dynamodbav:"cell_id"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
}

type cellRecord struct {
	ID        string    `dynamodbav:"id"`
	Stage     string    `dynamodbav:"stage"`
	Status    string    `dynamodbav:"status"`
	Address   string    `dynamodbav:"address"`
	StackRef  string    `dynamodbav:"stack_ref"`
	ImageRef  string    `dynamodbav:"image_ref"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

type itemRecord struct {
	Username  string    `dynamodbav:"username"`
	Key       string    `dynamodbav:"item_key"`
	Value     string    `dynamodbav:"value"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

func (r cellRecord) cell() *Cell {
	return &Cell{
		ID:        r.ID,
		Stage:     Stage(r.Stage),
		Status:    CellStatus(r.Status),
		Address:   r.Address,
		StackRef:  r.StackRef,
		ImageRef:  r.ImageRef,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func itemKey(username, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"username": &types.AttributeValueMemberS{Value: username},
		"item_key": &types.AttributeValueMemberS{Value: key},
	}
}

func isConditionFailed(err error) (*types.ConditionalCheckFailedException, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf, true
	}
	return nil, false
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (s *DynamoStore) Close() error {
	return nil
}

// CreateUser inserts a user, returning ErrAlreadyExists if the username is taken.
func (s *DynamoStore) CreateUser(ctx context.Context, user *User) error {
	item, err := attributevalue.MarshalMap(userRecord{
		Username:       user.Username,
		CredentialHash: user.CredentialHash,
		CellID:         user.CellID,
		CreatedAt:      user.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling user: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Users),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(username)"),
	})
	if _, ok := isConditionFailed(err); ok {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("putting user: %w", err)
	}

	s.logger.Debug("created user", "username", user.Username, "cell_id", user.CellID)
	return nil
}

// GetUser retrieves a user by username.
// Returns ErrNotFound if the user doesn't exist.
func (s *DynamoStore) GetUser(ctx context.Context, username string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Users),
		Key:            stringKey("username", username),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec userRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}
	return &User{Username: rec.Username, CredentialHash: rec.CredentialHash, CellID: rec.CellID, CreatedAt: rec.CreatedAt}, nil
}

// DeleteUser removes a user. Returns ErrNotFound if the user doesn't exist.
func (s *DynamoStore) DeleteUser(ctx context.Context, username string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tables.Users),
		Key:                 stringKey("username", username),
		ConditionExpression: aws.String("attribute_exists(username)"),
	})
	if _, ok := isConditionFailed(err); ok {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// scanAll reads every item of a table
func (s *DynamoStore) scanAll(ctx context.Context, table string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// ListUsers returns all users ordered by username
func (s *DynamoStore) ListUsers(ctx context.Context) ([]*User, error) {
	items, err := s.scanAll(ctx, s.tables.Users)
	if err != nil {
		return nil, fmt.Errorf("scanning users: %w", err)
	}

	var recs []userRecord
	if err := attributevalue.UnmarshalListOfMaps(items, &recs); err != nil {
		return nil, fmt.Errorf("unmarshaling users: %w", err)
	}

	users := make([]*User, 0, len(recs))
	for _, r := range recs {
		users = append(users, &User{Username: r.Username, CredentialHash: r.CredentialHash, CellID: r.CellID, CreatedAt: r.CreatedAt})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func marshalCell(cell *Cell) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(cellRecord{
		ID:        cell.ID,
		Stage:     string(cell.Stage),
		Status:    string(cell.Status),
		Address:   cell.Address,
		StackRef:  cell.StackRef,
		ImageRef:  cell.ImageRef,
		CreatedAt: cell.CreatedAt.UTC(),
		UpdatedAt: cell.UpdatedAt.UTC(),
	})
}

func unmarshalCell(item map[string]types.AttributeValue) (*Cell, error) {
	var rec cellRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling cell: %w", err)
	}
	return rec.cell(), nil
}

// CreateCell inserts a cell, returning ErrAlreadyExists if the id is taken.
func (s *DynamoStore) CreateCell(ctx context.Context, cell *Cell) error {
	item, err := marshalCell(cell)
	if err != nil {
		return fmt.Errorf("marshaling cell: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Cells),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if _, ok := isConditionFailed(err); ok {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("putting cell: %w", err)
	}

	s.logger.Debug("created cell", "id", cell.ID, "stage", cell.Stage)
	return nil
}

// GetCell retrieves a cell by id.
// Returns ErrNotFound if the cell doesn't exist.
func (s *DynamoStore) GetCell(ctx context.Context, id string) (*Cell, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Cells),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting cell: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return unmarshalCell(out.Item)
}

// ListCells returns the cells matching filter ordered by id.
// The cells table is small, so filtering happens after the scan.
func (s *DynamoStore) ListCells(ctx context.Context, filter CellFilter) ([]*Cell, error) {
	items, err := s.scanAll(ctx, s.tables.Cells)
	if err != nil {
		return nil, fmt.Errorf("scanning cells: %w", err)
	}

	var cells []*Cell
	for _, item := range items {
		c, err := unmarshalCell(item)
		if err != nil {
			return nil, err
		}
		if filter.Matches(c) {
			cells = append(cells, c)
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
	return cells, nil
}

// PutCell writes a cell unconditionally
func (s *DynamoStore) PutCell(ctx context.Context, cell *Cell) error {
	item, err := marshalCell(cell)
	if err != nil {
		return fmt.Errorf("marshaling cell: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Cells),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting cell: %w", err)
	}
	return nil
}

// TransitionCell applies a compare-and-set status change
func (s *DynamoStore) TransitionCell(ctx context.Context, id string, t Transition) (*Cell, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition to %s has no source statuses", t.To)
	}

	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":to":  &types.AttributeValueMemberS{Value: string(t.To)},
		":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	sets := []string{"#status = :to", "updated_at = :now"}
	if t.StackRef != "" {
		sets = append(sets, "stack_ref = :stack")
		values[":stack"] = &types.AttributeValueMemberS{Value: t.StackRef}
	}
	if t.ImageRef != "" {
		sets = append(sets, "image_ref = :image")
		values[":image"] = &types.AttributeValueMemberS{Value: t.ImageRef}
	}

	from := make([]string, len(t.From))
	for i, f := range t.From {
		ph := ":f" + strconv.Itoa(i)
		from[i] = ph
		values[ph] = &types.AttributeValueMemberS{Value: string(f)}
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.tables.Cells),
		Key:                                 stringKey("id", id),
		UpdateExpression:                    aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:                 aws.String("attribute_exists(id) AND #status IN (" + strings.Join(from, ", ") + ")"),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if ccf, ok := isConditionFailed(err); ok {
		if len(ccf.Item) == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("updating cell status: %w", err)
	}

	s.logger.Debug("cell transitioned", "id", id, "to", t.To)
	return unmarshalCell(out.Attributes)
}

// SetCellAddress memoises a resolved network address
func (s *DynamoStore) SetCellAddress(ctx context.Context, id, address string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tables.Cells),
		Key:                 stringKey("id", id),
		UpdateExpression:    aws.String("SET address = :address, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":address": &types.AttributeValueMemberS{Value: address},
			":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if _, ok := isConditionFailed(err); ok {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating cell address: %w", err)
	}
	return nil
}

// DeleteCell removes a cell atomically and returns the removed item
func (s *DynamoStore) DeleteCell(ctx context.Context, id string) (*Cell, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tables.Cells),
		Key:                 stringKey("id", id),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if _, ok := isConditionFailed(err); ok {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deleting cell: %w", err)
	}

	s.logger.Debug("deleted cell", "id", id)
	return unmarshalCell(out.Attributes)
}

// PutItem inserts or overwrites an item
func (s *DynamoStore) PutItem(ctx context.Context, username, key, value string) error {
	item, err := attributevalue.MarshalMap(itemRecord{
		Username:  username,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Items),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting item: %w", err)
	}
	return nil
}

// GetItem returns an item's value or ErrNotFound
func (s *DynamoStore) GetItem(ctx context.Context, username, key string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Items),
		Key:            itemKey(username, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("getting item: %w", err)
	}
	if len(out.Item) == 0 {
		return "", ErrNotFound
	}

	var rec itemRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return "", fmt.Errorf("unmarshaling item: %w", err)
	}
	return rec.Value, nil
}

// DeleteItem removes an item if present
func (s *DynamoStore) DeleteItem(ctx context.Context, username, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tables.Items),
		Key:       itemKey(username, key),
	}); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}
