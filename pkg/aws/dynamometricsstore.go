package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/upload-service/pkg/store/metricsstore"
)

// DynamoMetricsStore implements the MetricsStore interface on two dynamodb
// tables: one for service wide counters keyed by name, one for per space
// counters keyed by space and name. Increments use ADD so they are atomic.
type DynamoMetricsStore struct {
	adminTableName string
	spaceTableName string
	dynamoDbClient *dynamodb.Client
}

var _ metricsstore.MetricsStore = (*DynamoMetricsStore)(nil)

// NewDynamoMetricsStore returns a MetricsStore connected to AWS DynamoDB tables
func NewDynamoMetricsStore(cfg aws.Config, adminTableName string, spaceTableName string, opts ...func(*dynamodb.Options)) *DynamoMetricsStore {
	return &DynamoMetricsStore{
		adminTableName: adminTableName,
		spaceTableName: spaceTableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
	}
}

// IncrementAdmin implements metricsstore.MetricsStore.
func (d *DynamoMetricsStore) IncrementAdmin(ctx context.Context, name string, delta uint64) error {
	return d.increment(ctx, d.adminTableName, adminMetricKey(name), delta)
}

// IncrementSpace implements metricsstore.MetricsStore.
func (d *DynamoMetricsStore) IncrementSpace(ctx context.Context, space did.DID, name string, delta uint64) error {
	return d.increment(ctx, d.spaceTableName, spaceMetricKey(space, name), delta)
}

func (d *DynamoMetricsStore) increment(ctx context.Context, tableName string, key map[string]types.AttributeValue, delta uint64) error {
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name("value"), expression.Value(delta))).
		Build()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	_, err = d.dynamoDbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return wrapErr("updating item", err)
	}
	return nil
}

// GetAdmin implements metricsstore.MetricsStore.
func (d *DynamoMetricsStore) GetAdmin(ctx context.Context, name string) (uint64, error) {
	return d.get(ctx, d.adminTableName, adminMetricKey(name))
}

// GetSpace implements metricsstore.MetricsStore.
func (d *DynamoMetricsStore) GetSpace(ctx context.Context, space did.DID, name string) (uint64, error) {
	return d.get(ctx, d.spaceTableName, spaceMetricKey(space, name))
}

func (d *DynamoMetricsStore) get(ctx context.Context, tableName string, key map[string]types.AttributeValue) (uint64, error) {
	response, err := d.dynamoDbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(tableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, wrapErr("retrieving item", err)
	}
	if response.Item == nil {
		return 0, nil
	}
	var item metricItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return 0, fmt.Errorf("deserializing item: %w", err)
	}
	return item.Value, nil
}

// ListSpace implements metricsstore.MetricsStore.
func (d *DynamoMetricsStore) ListSpace(ctx context.Context, space did.DID) (map[string]uint64, error) {
	keyEx := expression.Key("space").Equal(expression.Value(space.String()))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	counters := map[string]uint64{}
	queryPaginator := dynamodb.NewQueryPaginator(d.dynamoDbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(d.spaceTableName),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		KeyConditionExpression:    expr.KeyCondition(),
		ConsistentRead:            aws.Bool(true),
	})
	for queryPaginator.HasMorePages() {
		response, err := queryPaginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("querying space metrics", err)
		}
		var page []metricItem
		if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
			return nil, fmt.Errorf("parsing query responses: %w", err)
		}
		for _, item := range page {
			counters[item.Name] = item.Value
		}
	}
	return counters, nil
}

type metricItem struct {
	Space string `dynamodbav:"space,omitempty"`
	Name  string `dynamodbav:"name"`
	Value uint64 `dynamodbav:"value"`
}

func adminMetricKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"name": &types.AttributeValueMemberS{Value: name},
	}
}

func spaceMetricKey(space did.DID, name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"space": &types.AttributeValueMemberS{Value: space.String()},
		"name":  &types.AttributeValueMemberS{Value: name},
	}
}

