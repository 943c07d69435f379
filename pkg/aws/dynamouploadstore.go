package aws

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store/uploadstore"
)

// UploadRootIndexName is the secondary index of the upload table keyed by
// upload root.
const UploadRootIndexName = "root"

// DynamoUploadStore implements the UploadStore interface on dynamodb. There
// is one item per shard, keyed by space and "{root}#{shard}".
type DynamoUploadStore struct {
	tableName      string
	dynamoDbClient *dynamodb.Client
}

var _ uploadstore.UploadStore = (*DynamoUploadStore)(nil)

// NewDynamoUploadStore returns an UploadStore connected to a AWS DynamoDB table
func NewDynamoUploadStore(cfg aws.Config, tableName string, opts ...func(*dynamodb.Options)) *DynamoUploadStore {
	return &DynamoUploadStore{
		tableName:      tableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
	}
}

// AddShard implements uploadstore.UploadStore. After the shard row, it writes
// an upload marker keyed by space and "{root}" on the condition that none
// exists yet, so exactly one call reports the upload as created. The marker
// write is attempted on every call, so a retry after a failed marker write
// still reports it. Markers have no root attribute and never match a shard
// key prefix, so they are invisible to both listings.
func (d *DynamoUploadStore) AddShard(ctx context.Context, space did.DID, root ucan.Link, shard ucan.Link, insertedAt time.Time) (bool, error) {
	if insertedAt.IsZero() {
		insertedAt = timeutil.Now()
	}
	item, err := attributevalue.MarshalMap(shardItem{
		Space:      space.String(),
		SortKey:    shardSortKey(root, shard),
		Root:       root.String(),
		Shard:      shard.String(),
		InsertedAt: timeutil.Format(insertedAt),
	})
	if err != nil {
		return false, fmt.Errorf("serializing item: %w", err)
	}
	if err := d.putIfAbsent(ctx, item); err != nil && !isConditionalCheckFailed(err) {
		return false, wrapErr("storing item", err)
	}

	marker, err := attributevalue.MarshalMap(uploadMarkerItem{
		Space:      space.String(),
		SortKey:    root.String(),
		InsertedAt: timeutil.Format(insertedAt),
	})
	if err != nil {
		return false, fmt.Errorf("serializing marker: %w", err)
	}
	err = d.putIfAbsent(ctx, marker)
	if err == nil {
		return true, nil
	}
	if isConditionalCheckFailed(err) {
		return false, nil
	}
	return false, wrapErr("storing upload marker", err)
}

func (d *DynamoUploadStore) putIfAbsent(ctx context.Context, item map[string]types.AttributeValue) error {
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("sk"))).
		Build()
	if err != nil {
		return fmt.Errorf("building condition: %w", err)
	}
	_, err = d.dynamoDbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.tableName),
		Item:                     item,
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	return err
}

// ListShards implements uploadstore.UploadStore.
func (d *DynamoUploadStore) ListShards(ctx context.Context, space did.DID, root ucan.Link) ([]ucan.Link, error) {
	keyEx := expression.Key("space").Equal(expression.Value(space.String())).
		And(expression.Key("sk").BeginsWith(root.String() + "#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	shards := []ucan.Link{}
	queryPaginator := dynamodb.NewQueryPaginator(d.dynamoDbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		KeyConditionExpression:    expr.KeyCondition(),
		ConsistentRead:            aws.Bool(true),
	})
	for queryPaginator.HasMorePages() {
		response, err := queryPaginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("querying shards", err)
		}
		var page []shardItem
		if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
			return nil, fmt.Errorf("parsing query responses: %w", err)
		}
		for _, item := range page {
			shard, err := linkutil.Parse(item.Shard)
			if err != nil {
				return nil, err
			}
			shards = append(shards, shard)
		}
	}
	return shards, nil
}

// ListUploads implements uploadstore.UploadStore. The root index is sorted by
// space, so the shards of each space arrive together and are folded into a
// single entry with the earliest insertion time.
func (d *DynamoUploadStore) ListUploads(ctx context.Context, root ucan.Link) iter.Seq2[uploadstore.UploadEntry, error] {
	return func(yield func(uploadstore.UploadEntry, error) bool) {
		keyEx := expression.Key("root").Equal(expression.Value(root.String()))
		expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
		if err != nil {
			yield(uploadstore.UploadEntry{}, fmt.Errorf("building query: %w", err))
			return
		}
		queryPaginator := dynamodb.NewQueryPaginator(d.dynamoDbClient, &dynamodb.QueryInput{
			TableName:                 aws.String(d.tableName),
			IndexName:                 aws.String(UploadRootIndexName),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			KeyConditionExpression:    expr.KeyCondition(),
		})

		var current *uploadstore.UploadEntry
		for queryPaginator.HasMorePages() {
			response, err := queryPaginator.NextPage(ctx)
			if err != nil {
				yield(uploadstore.UploadEntry{}, wrapErr("querying uploads", err))
				return
			}
			var page []shardItem
			if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
				yield(uploadstore.UploadEntry{}, fmt.Errorf("parsing query responses: %w", err))
				return
			}
			for _, item := range page {
				space, err := did.Parse(item.Space)
				if err != nil {
					yield(uploadstore.UploadEntry{}, fmt.Errorf("parsing space DID: %w", err))
					return
				}
				insertedAt, err := timeutil.Parse(item.InsertedAt)
				if err != nil {
					yield(uploadstore.UploadEntry{}, err)
					return
				}
				if current != nil && current.Space == space {
					if insertedAt.Before(current.InsertedAt) {
						current.InsertedAt = insertedAt
					}
					continue
				}
				if current != nil && !yield(*current, nil) {
					return
				}
				current = &uploadstore.UploadEntry{Space: space, InsertedAt: insertedAt}
			}
		}
		if current != nil {
			yield(*current, nil)
		}
	}
}

type shardItem struct {
	Space      string `dynamodbav:"space"`
	SortKey    string `dynamodbav:"sk"`
	Root       string `dynamodbav:"root"`
	Shard      string `dynamodbav:"shard"`
	InsertedAt string `dynamodbav:"insertedAt"`
}

type uploadMarkerItem struct {
	Space      string `dynamodbav:"space"`
	SortKey    string `dynamodbav:"sk"`
	InsertedAt string `dynamodbav:"insertedAt"`
}

func shardSortKey(root ucan.Link, shard ucan.Link) string {
	return root.String() + "#" + shard.String()
}
