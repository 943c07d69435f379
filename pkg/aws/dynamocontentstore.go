package aws

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/contentstore"
)

// ContentLinkIndexName is the secondary index of the content table keyed by
// content link.
const ContentLinkIndexName = "cid"

// DynamoContentStore implements the ContentStore interface on dynamodb
type DynamoContentStore struct {
	tableName      string
	dynamoDbClient *dynamodb.Client
}

var _ contentstore.ContentStore = (*DynamoContentStore)(nil)

// NewDynamoContentStore returns a ContentStore connected to a AWS DynamoDB table
func NewDynamoContentStore(cfg aws.Config, tableName string, opts ...func(*dynamodb.Options)) *DynamoContentStore {
	return &DynamoContentStore{
		tableName:      tableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
	}
}

// Put implements contentstore.ContentStore.
func (d *DynamoContentStore) Put(ctx context.Context, obj contentstore.StoredObject) (bool, error) {
	if err := contentstore.CheckSize(obj.Size); err != nil {
		return false, err
	}
	if obj.InsertedAt.IsZero() {
		obj.InsertedAt = timeutil.Now()
	}
	item, err := attributevalue.MarshalMap(storedObjectItem{
		Space:      obj.Space.String(),
		Link:       obj.Link.String(),
		Size:       obj.Size,
		Origin:     linkutil.Format(obj.Origin),
		Issuer:     obj.Issuer.String(),
		Invocation: obj.Invocation.String(),
		InsertedAt: timeutil.Format(obj.InsertedAt),
	})
	if err != nil {
		return false, fmt.Errorf("serializing item: %w", err)
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("space"))).
		Build()
	if err != nil {
		return false, fmt.Errorf("building condition: %w", err)
	}
	_, err = d.dynamoDbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.tableName),
		Item:                     item,
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	if err == nil {
		return true, nil
	}
	if !isConditionalCheckFailed(err) {
		return false, wrapErr("storing item", err)
	}

	existing, err := d.Get(ctx, obj.Space, obj.Link)
	if err != nil {
		return false, err
	}
	if existing.Size != obj.Size {
		return false, store.NewConflictError(
			store.ContentMismatch,
			obj.Space.String()+"/"+obj.Link.String(),
			fmt.Sprintf("stored with size %d, got %d", existing.Size, obj.Size),
		)
	}
	return false, nil
}

// Get implements contentstore.ContentStore.
func (d *DynamoContentStore) Get(ctx context.Context, space did.DID, link ucan.Link) (contentstore.StoredObject, error) {
	key := storedObjectItem{Space: space.String(), Link: link.String()}
	response, err := d.dynamoDbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            key.GetKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return contentstore.StoredObject{}, wrapErr("retrieving item", err)
	}
	if response.Item == nil {
		return contentstore.StoredObject{}, store.ErrNotFound
	}
	var item storedObjectItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return contentstore.StoredObject{}, fmt.Errorf("deserializing item: %w", err)
	}
	return item.toStoredObject()
}

// ListSpaces implements contentstore.ContentStore.
func (d *DynamoContentStore) ListSpaces(ctx context.Context, link ucan.Link) iter.Seq2[contentstore.SpaceEntry, error] {
	return func(yield func(contentstore.SpaceEntry, error) bool) {
		keyEx := expression.Key("link").Equal(expression.Value(link.String()))
		expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
		if err != nil {
			yield(contentstore.SpaceEntry{}, fmt.Errorf("building query: %w", err))
			return
		}
		queryPaginator := dynamodb.NewQueryPaginator(d.dynamoDbClient, &dynamodb.QueryInput{
			TableName:                 aws.String(d.tableName),
			IndexName:                 aws.String(ContentLinkIndexName),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			KeyConditionExpression:    expr.KeyCondition(),
		})
		for queryPaginator.HasMorePages() {
			response, err := queryPaginator.NextPage(ctx)
			if err != nil {
				yield(contentstore.SpaceEntry{}, wrapErr("querying spaces", err))
				return
			}
			var page []storedObjectItem
			if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
				yield(contentstore.SpaceEntry{}, fmt.Errorf("parsing query responses: %w", err))
				return
			}
			for _, item := range page {
				entry, err := item.toSpaceEntry()
				if !yield(entry, err) || err != nil {
					return
				}
			}
		}
	}
}

type storedObjectItem struct {
	Space      string `dynamodbav:"space"`
	Link       string `dynamodbav:"link"`
	Size       uint64 `dynamodbav:"size"`
	Origin     string `dynamodbav:"origin,omitempty"`
	Issuer     string `dynamodbav:"issuer"`
	Invocation string `dynamodbav:"invocation"`
	InsertedAt string `dynamodbav:"insertedAt"`
}

// GetKey returns the composite primary key of the space & link in a format
// that can be sent to DynamoDB.
func (s storedObjectItem) GetKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"space": &types.AttributeValueMemberS{Value: s.Space},
		"link":  &types.AttributeValueMemberS{Value: s.Link},
	}
}

func (s storedObjectItem) toSpaceEntry() (contentstore.SpaceEntry, error) {
	space, err := did.Parse(s.Space)
	if err != nil {
		return contentstore.SpaceEntry{}, fmt.Errorf("parsing space DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(s.InsertedAt)
	if err != nil {
		return contentstore.SpaceEntry{}, err
	}
	return contentstore.SpaceEntry{Space: space, InsertedAt: insertedAt}, nil
}

func (s storedObjectItem) toStoredObject() (contentstore.StoredObject, error) {
	entry, err := s.toSpaceEntry()
	if err != nil {
		return contentstore.StoredObject{}, err
	}
	link, err := linkutil.Parse(s.Link)
	if err != nil {
		return contentstore.StoredObject{}, err
	}
	origin, err := linkutil.ParseOptional(s.Origin)
	if err != nil {
		return contentstore.StoredObject{}, err
	}
	issuer, err := did.Parse(s.Issuer)
	if err != nil {
		return contentstore.StoredObject{}, fmt.Errorf("parsing issuer DID: %w", err)
	}
	invocation, err := linkutil.Parse(s.Invocation)
	if err != nil {
		return contentstore.StoredObject{}, err
	}
	return contentstore.StoredObject{
		Space:      entry.Space,
		Link:       link,
		Size:       s.Size,
		Origin:     origin,
		Issuer:     issuer,
		Invocation: invocation,
		InsertedAt: entry.InsertedAt,
	}, nil
}
