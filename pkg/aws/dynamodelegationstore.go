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
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
)

// DelegationAudienceIndexName is the secondary index of the delegation table
// keyed by audience.
const DelegationAudienceIndexName = "audience"

// DynamoDelegationStore implements the DelegationStore interface on dynamodb
type DynamoDelegationStore struct {
	tableName      string
	dynamoDbClient *dynamodb.Client
}

var _ delegationstore.DelegationStore = (*DynamoDelegationStore)(nil)

// NewDynamoDelegationStore returns a DelegationStore connected to a AWS DynamoDB table
func NewDynamoDelegationStore(cfg aws.Config, tableName string, opts ...func(*dynamodb.Options)) *DynamoDelegationStore {
	return &DynamoDelegationStore{
		tableName:      tableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
	}
}

// Put implements delegationstore.DelegationStore. The first write creates the
// item. Later writes of the same payload only update the cause.
func (d *DynamoDelegationStore) Put(ctx context.Context, dlg delegationstore.Delegation) error {
	now := timeutil.Format(timeutil.Now())
	item, err := attributevalue.MarshalMap(delegationItem{
		Link:       dlg.Link.String(),
		Cause:      dlg.Cause.String(),
		Audience:   dlg.Audience.String(),
		Issuer:     dlg.Issuer.String(),
		Expiration: dlg.Expiration,
		InsertedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("serializing item: %w", err)
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("link"))).
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
	if err == nil {
		return nil
	}
	if !isConditionalCheckFailed(err) {
		return wrapErr("storing item", err)
	}

	existing, err := d.Get(ctx, dlg.Link)
	if err != nil {
		return err
	}
	if reason := delegationstore.Diverges(existing, dlg); reason != "" {
		return store.NewCorruptionError(dlg.Link.String(), reason)
	}

	update, err := expression.NewBuilder().
		WithUpdate(expression.
			Set(expression.Name("cause"), expression.Value(dlg.Cause.String())).
			Set(expression.Name("updatedAt"), expression.Value(now))).
		WithCondition(expression.AttributeExists(expression.Name("link"))).
		Build()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	_, err = d.dynamoDbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       delegationItem{Link: dlg.Link.String()}.GetKey(),
		UpdateExpression:          update.Update(),
		ConditionExpression:       update.Condition(),
		ExpressionAttributeNames:  update.Names(),
		ExpressionAttributeValues: update.Values(),
	})
	if err != nil {
		return wrapErr("updating item", err)
	}
	return nil
}

// Get implements delegationstore.DelegationStore.
func (d *DynamoDelegationStore) Get(ctx context.Context, link ucan.Link) (delegationstore.Delegation, error) {
	response, err := d.dynamoDbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            delegationItem{Link: link.String()}.GetKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return delegationstore.Delegation{}, wrapErr("retrieving item", err)
	}
	if response.Item == nil {
		return delegationstore.Delegation{}, store.ErrNotFound
	}
	var item delegationItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return delegationstore.Delegation{}, fmt.Errorf("deserializing item: %w", err)
	}
	return item.toDelegation()
}

// ListByAudience implements delegationstore.DelegationStore.
func (d *DynamoDelegationStore) ListByAudience(ctx context.Context, audience did.DID) ([]ucan.Link, error) {
	keyEx := expression.Key("audience").Equal(expression.Value(audience.String()))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var links []ucan.Link
	queryPaginator := dynamodb.NewQueryPaginator(d.dynamoDbClient, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		IndexName:                 aws.String(DelegationAudienceIndexName),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		KeyConditionExpression:    expr.KeyCondition(),
	})
	for queryPaginator.HasMorePages() {
		response, err := queryPaginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("querying delegations", err)
		}
		var page []delegationItem
		if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
			return nil, fmt.Errorf("parsing query responses: %w", err)
		}
		for _, item := range page {
			link, err := linkutil.Parse(item.Link)
			if err != nil {
				return nil, err
			}
			links = append(links, link)
		}
	}
	return links, nil
}

type delegationItem struct {
	Link       string `dynamodbav:"link"`
	Cause      string `dynamodbav:"cause"`
	Audience   string `dynamodbav:"audience"`
	Issuer     string `dynamodbav:"issuer"`
	Expiration int64  `dynamodbav:"expiration"`
	InsertedAt string `dynamodbav:"insertedAt"`
	UpdatedAt  string `dynamodbav:"updatedAt"`
}

func (i delegationItem) GetKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"link": &types.AttributeValueMemberS{Value: i.Link},
	}
}

func (i delegationItem) toDelegation() (delegationstore.Delegation, error) {
	link, err := linkutil.Parse(i.Link)
	if err != nil {
		return delegationstore.Delegation{}, err
	}
	cause, err := linkutil.Parse(i.Cause)
	if err != nil {
		return delegationstore.Delegation{}, err
	}
	audience, err := did.Parse(i.Audience)
	if err != nil {
		return delegationstore.Delegation{}, fmt.Errorf("parsing audience DID: %w", err)
	}
	issuer, err := did.Parse(i.Issuer)
	if err != nil {
		return delegationstore.Delegation{}, fmt.Errorf("parsing issuer DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(i.InsertedAt)
	if err != nil {
		return delegationstore.Delegation{}, err
	}
	updatedAt, err := timeutil.Parse(i.UpdatedAt)
	if err != nil {
		return delegationstore.Delegation{}, err
	}
	return delegationstore.Delegation{
		Cause:      cause,
		Link:       link,
		Audience:   audience,
		Issuer:     issuer,
		Expiration: i.Expiration,
		InsertedAt: insertedAt,
		UpdatedAt:  updatedAt,
	}, nil
}
