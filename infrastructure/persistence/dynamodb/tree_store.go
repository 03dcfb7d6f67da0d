// Package dynamodb stores learning trees in a single DynamoDB table, one
// item per user.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"learngraph/application/ports"
	pkgerrors "learngraph/pkg/errors"
)

const (
	entityTypeTree = "TREE"
	treeSortKey    = "TREE"
)

// API is the subset of the DynamoDB client the store uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// TreeStore implements ports.TreeStore on DynamoDB
type TreeStore struct {
	client    API
	tableName string
	logger    *zap.Logger
}

var (
	_ ports.TreeStore   = (*TreeStore)(nil)
	_ ports.TreeCreator = (*TreeStore)(nil)
)

// NewTreeStore creates a store over tableName
func NewTreeStore(client API, tableName string, logger *zap.Logger) *TreeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TreeStore{client: client, tableName: tableName, logger: logger}
}

// treeItem is the DynamoDB item for one user's tree
type treeItem struct {
	PK         string                 `dynamodbav:"PK"`
	SK         string                 `dynamodbav:"SK"`
	EntityType string                 `dynamodbav:"EntityType"`
	UserID     string                 `dynamodbav:"UserID"`
	Nodes      []ports.TreeNodeRecord `dynamodbav:"Nodes"`
	Edges      []ports.TreeEdgeRecord `dynamodbav:"Edges"`
	NodeCount  int                    `dynamodbav:"NodeCount"`
	EdgeCount  int                    `dynamodbav:"EdgeCount"`
	CreatedAt  string                 `dynamodbav:"CreatedAt"`
	UpdatedAt  string                 `dynamodbav:"UpdatedAt"`
}

func userKey(userID string) string {
	return fmt.Sprintf("USER#%s", userID)
}

func keyFor(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userKey(userID)},
		"SK": &types.AttributeValueMemberS{Value: treeSortKey},
	}
}

func toItem(tree *ports.TreeRecord) (map[string]types.AttributeValue, error) {
	nodes := tree.Nodes
	if nodes == nil {
		nodes = []ports.TreeNodeRecord{}
	}
	edges := tree.Edges
	if edges == nil {
		edges = []ports.TreeEdgeRecord{}
	}
	item := treeItem{
		PK:         userKey(tree.UserID),
		SK:         treeSortKey,
		EntityType: entityTypeTree,
		UserID:     tree.UserID,
		Nodes:      nodes,
		Edges:      edges,
		NodeCount:  len(nodes),
		EdgeCount:  len(edges),
		CreatedAt:  tree.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  tree.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tree: %w", err)
	}
	return av, nil
}

func fromItem(av map[string]types.AttributeValue) (*ports.TreeRecord, error) {
	var item treeItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tree: %w", err)
	}
	tree := &ports.TreeRecord{
		UserID: item.UserID,
		Nodes:  item.Nodes,
		Edges:  item.Edges,
	}
	if tree.Nodes == nil {
		tree.Nodes = []ports.TreeNodeRecord{}
	}
	if tree.Edges == nil {
		tree.Edges = []ports.TreeEdgeRecord{}
	}
	var err error
	if tree.CreatedAt, err = time.Parse(time.RFC3339Nano, item.CreatedAt); err != nil {
		return nil, fmt.Errorf("invalid CreatedAt: %w", err)
	}
	if tree.UpdatedAt, err = time.Parse(time.RFC3339Nano, item.UpdatedAt); err != nil {
		return nil, fmt.Errorf("invalid UpdatedAt: %w", err)
	}
	return tree, nil
}

// GetTree loads the user's tree
func (s *TreeStore) GetTree(ctx context.Context, userID string) (*ports.TreeRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            keyFor(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err, "GetTree")
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError("tree")
	}

	tree, err := fromItem(out.Item)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetTree", err)
	}
	s.logger.Debug("Tree loaded",
		zap.String("userID", userID),
		zap.Int("nodeCount", len(tree.Nodes)),
		zap.Int("edgeCount", len(tree.Edges)),
	)
	return tree, nil
}

// PutTree overwrites the user's tree
func (s *TreeStore) PutTree(ctx context.Context, tree *ports.TreeRecord) error {
	if tree == nil || tree.UserID == "" {
		return pkgerrors.NewValidationError("tree userId is required")
	}
	item, err := toItem(tree)
	if err != nil {
		return pkgerrors.NewDatabaseError("PutTree", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return mapError(err, "PutTree")
	}

	s.logger.Info("Tree saved",
		zap.String("userID", tree.UserID),
		zap.Int("nodeCount", len(tree.Nodes)),
		zap.Int("edgeCount", len(tree.Edges)),
	)
	return nil
}

// CreateTreeIfAbsent writes tree only when no item exists for the user
func (s *TreeStore) CreateTreeIfAbsent(ctx context.Context, tree *ports.TreeRecord) (bool, error) {
	if tree == nil || tree.UserID == "" {
		return false, pkgerrors.NewValidationError("tree userId is required")
	}
	item, err := toItem(tree)
	if err != nil {
		return false, pkgerrors.NewDatabaseError("CreateTree", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("PK").AttributeNotExists()).
		Build()
	if err != nil {
		return false, pkgerrors.NewDatabaseError("CreateTree", fmt.Errorf("failed to build expression: %w", err))
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, mapError(err, "CreateTree")
	}

	s.logger.Info("Tree created", zap.String("userID", tree.UserID))
	return true, nil
}

// mapError converts SDK errors into AppErrors
func mapError(err error, operation string) error {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return pkgerrors.NewDatabaseError(operation, err)
	}
	switch ae.ErrorCode() {
	case "ConditionalCheckFailedException":
		return pkgerrors.NewConflictError("tree was modified concurrently").WithCause(err)
	case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
		return pkgerrors.NewUnavailableError("dynamodb").WithCause(err)
	case "ResourceNotFoundException":
		return pkgerrors.NewDatabaseError(operation, fmt.Errorf("table not found: %w", err))
	default:
		return pkgerrors.NewDatabaseError(operation, err)
	}
}
