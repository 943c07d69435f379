package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/ratelimitstore"
)

// RateLimitSubjectIndexName is the secondary index of the rate limit table
// keyed by subject and sorted by insertion time.
const RateLimitSubjectIndexName = "subject"

// DynamoRateLimitStore implements the RateLimitStore interface on dynamodb
type DynamoRateLimitStore struct {
	tableName      string
	dynamoDbClient *dynamodb.Client
	clock          func() time.Time
}

var _ ratelimitstore.RateLimitStore = (*DynamoRateLimitStore)(nil)

// NewDynamoRateLimitStore returns a RateLimitStore connected to a AWS DynamoDB table
func NewDynamoRateLimitStore(cfg aws.Config, tableName string, opts ...func(*dynamodb.Options)) *DynamoRateLimitStore {
	return &DynamoRateLimitStore{
		tableName:      tableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
		clock:          timeutil.Now,
	}
}

// Put implements ratelimitstore.RateLimitStore.
func (d *DynamoRateLimitStore) Put(ctx context.Context, subject string, rate float64, cause ucan.Link) (string, error) {
	if rate < 0 {
		return "", fmt.Errorf("rate must not be negative: %v", rate)
	}
	now := d.clock().UTC()
	item, err := attributevalue.MarshalMap(rateLimitItem{
		ID:         uuid.NewString(),
		Subject:    subject,
		Rate:       rate,
		Cause:      cause.String(),
		InsertedAt: timeutil.Format(now),
		SortKey:    timeutil.SortKey(now),
	})
	if err != nil {
		return "", fmt.Errorf("serializing item: %w", err)
	}
	_, err = d.dynamoDbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName), Item: item,
	})
	if err != nil {
		return "", wrapErr("storing item", err)
	}
	return item["id"].(*types.AttributeValueMemberS).Value, nil
}

// Get implements ratelimitstore.RateLimitStore.
func (d *DynamoRateLimitStore) Get(ctx context.Context, id string) (ratelimitstore.RateLimit, error) {
	response, err := d.dynamoDbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return ratelimitstore.RateLimit{}, wrapErr("retrieving item", err)
	}
	if response.Item == nil {
		return ratelimitstore.RateLimit{}, store.ErrNotFound
	}
	var item rateLimitItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return ratelimitstore.RateLimit{}, fmt.Errorf("deserializing item: %w", err)
	}
	return item.toRateLimit()
}

// CurrentLimit implements ratelimitstore.RateLimitStore.
func (d *DynamoRateLimitStore) CurrentLimit(ctx context.Context, subject string) (ratelimitstore.RateLimit, error) {
	limits, err := d.query(ctx, subject, 1)
	if err != nil {
		return ratelimitstore.RateLimit{}, err
	}
	if len(limits) == 0 {
		return ratelimitstore.RateLimit{}, store.ErrNotFound
	}
	return limits[0], nil
}

// List implements ratelimitstore.RateLimitStore.
func (d *DynamoRateLimitStore) List(ctx context.Context, subject string) ([]ratelimitstore.RateLimit, error) {
	return d.query(ctx, subject, 0)
}

// query lists limits for subject newest first, stopping after limit items
// unless limit is 0.
func (d *DynamoRateLimitStore) query(ctx context.Context, subject string, limit int32) ([]ratelimitstore.RateLimit, error) {
	keyEx := expression.Key("subject").Equal(expression.Value(subject))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		IndexName:                 aws.String(RateLimitSubjectIndexName),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		KeyConditionExpression:    expr.KeyCondition(),
		ScanIndexForward:          aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	limits := []ratelimitstore.RateLimit{}
	queryPaginator := dynamodb.NewQueryPaginator(d.dynamoDbClient, input)
	for queryPaginator.HasMorePages() {
		response, err := queryPaginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("querying rate limits", err)
		}
		var page []rateLimitItem
		if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
			return nil, fmt.Errorf("parsing query responses: %w", err)
		}
		for _, item := range page {
			rl, err := item.toRateLimit()
			if err != nil {
				return nil, err
			}
			limits = append(limits, rl)
		}
		if limit > 0 && len(limits) >= int(limit) {
			break
		}
	}
	return limits, nil
}

type rateLimitItem struct {
	ID         string  `dynamodbav:"id"`
	Subject    string  `dynamodbav:"subject"`
	Rate       float64 `dynamodbav:"rate"`
	Cause      string  `dynamodbav:"cause"`
	InsertedAt string  `dynamodbav:"insertedAt"`
	// SortKey orders limits of a subject chronologically.
	SortKey string `dynamodbav:"sk"`
}

func (i rateLimitItem) toRateLimit() (ratelimitstore.RateLimit, error) {
	cause, err := linkutil.Parse(i.Cause)
	if err != nil {
		return ratelimitstore.RateLimit{}, err
	}
	insertedAt, err := timeutil.Parse(i.InsertedAt)
	if err != nil {
		return ratelimitstore.RateLimit{}, err
	}
	return ratelimitstore.RateLimit{
		ID:         i.ID,
		Subject:    i.Subject,
		Rate:       i.Rate,
		Cause:      cause,
		InsertedAt: insertedAt,
	}, nil
}
