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

	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/subscriptionstore"
)

const (
	// SubscriptionCustomerIndexName is the secondary index of the
	// subscription table keyed by customer and provider.
	SubscriptionCustomerIndexName = "customer"
	// SubscriptionProviderIndexName is the secondary index of the
	// subscription table keyed by provider and customer.
	SubscriptionProviderIndexName = "provider"
)

// DynamoSubscriptionStore implements the SubscriptionStore interface on dynamodb
type DynamoSubscriptionStore struct {
	tableName      string
	dynamoDbClient *dynamodb.Client
}

var _ subscriptionstore.SubscriptionStore = (*DynamoSubscriptionStore)(nil)

// NewDynamoSubscriptionStore returns a SubscriptionStore connected to a AWS DynamoDB table
func NewDynamoSubscriptionStore(cfg aws.Config, tableName string, opts ...func(*dynamodb.Options)) *DynamoSubscriptionStore {
	return &DynamoSubscriptionStore{
		tableName:      tableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
	}
}

// Put implements subscriptionstore.SubscriptionStore. The write is
// conditional on the item being new or belonging to the same customer.
func (d *DynamoSubscriptionStore) Put(ctx context.Context, sub subscriptionstore.Subscription) error {
	now := timeutil.Format(timeutil.Now())
	expr, err := expression.NewBuilder().
		WithUpdate(expression.
			Set(expression.Name("customer"), expression.Value(sub.Customer.String())).
			Set(expression.Name("cause"), expression.Value(sub.Cause.String())).
			Set(expression.Name("updatedAt"), expression.Value(now)).
			Set(expression.Name("insertedAt"), expression.IfNotExists(expression.Name("insertedAt"), expression.Value(now)))).
		WithCondition(expression.Or(
			expression.AttributeNotExists(expression.Name("subscription")),
			expression.Name("customer").Equal(expression.Value(sub.Customer.String())),
		)).
		Build()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	_, err = d.dynamoDbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       subscriptionKey(sub.Subscription, sub.Provider),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return store.NewConflictError(
				store.Rebind,
				sub.Subscription,
				fmt.Sprintf("subscription at %s belongs to another customer", sub.Provider),
			)
		}
		return wrapErr("updating item", err)
	}
	return nil
}

// Get implements subscriptionstore.SubscriptionStore.
func (d *DynamoSubscriptionStore) Get(ctx context.Context, subscription string, provider did.DID) (subscriptionstore.Subscription, error) {
	response, err := d.dynamoDbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            subscriptionKey(subscription, provider),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return subscriptionstore.Subscription{}, wrapErr("retrieving item", err)
	}
	if response.Item == nil {
		return subscriptionstore.Subscription{}, store.ErrNotFound
	}
	var item subscriptionItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return subscriptionstore.Subscription{}, fmt.Errorf("deserializing item: %w", err)
	}
	return item.toSubscription()
}

// ListByCustomer implements subscriptionstore.SubscriptionStore.
func (d *DynamoSubscriptionStore) ListByCustomer(ctx context.Context, customer did.DID, provider did.DID) ([]subscriptionstore.CustomerEntry, error) {
	keyEx := expression.Key("customer").Equal(expression.Value(customer.String()))
	if provider != did.Undef {
		keyEx = keyEx.And(expression.Key("provider").Equal(expression.Value(provider.String())))
	}
	items, err := queryIndex[subscriptionItem](ctx, d.dynamoDbClient, d.tableName, SubscriptionCustomerIndexName, keyEx)
	if err != nil {
		return nil, err
	}
	entries := make([]subscriptionstore.CustomerEntry, 0, len(items))
	for _, item := range items {
		prov, err := did.Parse(item.Provider)
		if err != nil {
			return nil, fmt.Errorf("parsing provider DID: %w", err)
		}
		cause, err := linkutil.Parse(item.Cause)
		if err != nil {
			return nil, err
		}
		entries = append(entries, subscriptionstore.CustomerEntry{
			Provider:     prov,
			Subscription: item.Subscription,
			Cause:        cause,
		})
	}
	return entries, nil
}

// ListCustomers implements subscriptionstore.SubscriptionStore.
func (d *DynamoSubscriptionStore) ListCustomers(ctx context.Context, provider did.DID) ([]did.DID, error) {
	keyEx := expression.Key("provider").Equal(expression.Value(provider.String()))
	items, err := queryIndex[subscriptionItem](ctx, d.dynamoDbClient, d.tableName, SubscriptionProviderIndexName, keyEx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	customers := []did.DID{}
	for _, item := range items {
		if _, ok := seen[item.Customer]; ok {
			continue
		}
		seen[item.Customer] = struct{}{}
		customer, err := did.Parse(item.Customer)
		if err != nil {
			return nil, fmt.Errorf("parsing customer DID: %w", err)
		}
		customers = append(customers, customer)
	}
	return customers, nil
}

// queryIndex runs a query against a secondary index and returns every item.
func queryIndex[T any](ctx context.Context, client *dynamodb.Client, tableName string, indexName string, keyEx expression.KeyConditionBuilder) ([]T, error) {
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var items []T
	queryPaginator := dynamodb.NewQueryPaginator(client, &dynamodb.QueryInput{
		TableName:                 aws.String(tableName),
		IndexName:                 aws.String(indexName),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		KeyConditionExpression:    expr.KeyCondition(),
	})
	for queryPaginator.HasMorePages() {
		response, err := queryPaginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr(fmt.Sprintf("querying %s index", indexName), err)
		}
		var page []T
		if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
			return nil, fmt.Errorf("parsing query responses: %w", err)
		}
		items = append(items, page...)
	}
	return items, nil
}

type subscriptionItem struct {
	Subscription string `dynamodbav:"subscription"`
	Provider     string `dynamodbav:"provider"`
	Customer     string `dynamodbav:"customer"`
	Cause        string `dynamodbav:"cause"`
	InsertedAt   string `dynamodbav:"insertedAt"`
	UpdatedAt    string `dynamodbav:"updatedAt"`
}

func subscriptionKey(subscription string, provider did.DID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"subscription": &types.AttributeValueMemberS{Value: subscription},
		"provider":     &types.AttributeValueMemberS{Value: provider.String()},
	}
}

func (i subscriptionItem) toSubscription() (subscriptionstore.Subscription, error) {
	provider, err := did.Parse(i.Provider)
	if err != nil {
		return subscriptionstore.Subscription{}, fmt.Errorf("parsing provider DID: %w", err)
	}
	customer, err := did.Parse(i.Customer)
	if err != nil {
		return subscriptionstore.Subscription{}, fmt.Errorf("parsing customer DID: %w", err)
	}
	cause, err := linkutil.Parse(i.Cause)
	if err != nil {
		return subscriptionstore.Subscription{}, err
	}
	insertedAt, err := timeutil.Parse(i.InsertedAt)
	if err != nil {
		return subscriptionstore.Subscription{}, err
	}
	updatedAt, err := timeutil.Parse(i.UpdatedAt)
	if err != nil {
		return subscriptionstore.Subscription{}, err
	}
	return subscriptionstore.Subscription{
		Subscription: i.Subscription,
		Provider:     provider,
		Customer:     customer,
		Cause:        cause,
		InsertedAt:   insertedAt,
		UpdatedAt:    updatedAt,
	}, nil
}
