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

	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/consumerstore"
)

const (
	// ConsumerConsumerIndexName is the secondary index of the consumer table
	// keyed by consumer and provider.
	ConsumerConsumerIndexName = "consumer"
	// ConsumerProviderIndexName is the secondary index of the consumer table
	// keyed by provider and consumer.
	ConsumerProviderIndexName = "provider"
)

// DynamoConsumerStore implements the ConsumerStore interface on dynamodb
type DynamoConsumerStore struct {
	tableName      string
	dynamoDbClient *dynamodb.Client
}

var _ consumerstore.ConsumerStore = (*DynamoConsumerStore)(nil)

// NewDynamoConsumerStore returns a ConsumerStore connected to a AWS DynamoDB table
func NewDynamoConsumerStore(cfg aws.Config, tableName string, opts ...func(*dynamodb.Options)) *DynamoConsumerStore {
	return &DynamoConsumerStore{
		tableName:      tableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
	}
}

// Put implements consumerstore.ConsumerStore. The consumer row is written in
// one transaction with a binding item keyed by (consumer, provider), which
// holds the only subscription the consumer may use at that provider. Binding
// items carry no consumer attribute, so they stay out of both indexes.
func (d *DynamoConsumerStore) Put(ctx context.Context, c consumerstore.Consumer) error {
	binding, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name("bound"), expression.Value(c.Subscription))).
		WithCondition(expression.Or(
			expression.AttributeNotExists(expression.Name("subscription")),
			expression.Name("bound").Equal(expression.Value(c.Subscription)),
		)).
		Build()
	if err != nil {
		return fmt.Errorf("building binding update: %w", err)
	}

	now := timeutil.Format(timeutil.Now())
	update := expression.
		Set(expression.Name("consumer"), expression.Value(c.Consumer.String())).
		Set(expression.Name("cause"), expression.Value(c.Cause.String())).
		Set(expression.Name("updatedAt"), expression.Value(now)).
		Set(expression.Name("insertedAt"), expression.IfNotExists(expression.Name("insertedAt"), expression.Value(now)))
	if c.Customer != did.Undef {
		update = update.Set(expression.Name("customer"), expression.Value(c.Customer.String()))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.Or(
			expression.AttributeNotExists(expression.Name("subscription")),
			expression.Name("consumer").Equal(expression.Value(c.Consumer.String())),
		)).
		Build()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	_, err = d.dynamoDbClient.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:                 aws.String(d.tableName),
					Key:                       consumerKey(bindingKey(c.Consumer), c.Provider),
					UpdateExpression:          binding.Update(),
					ConditionExpression:       binding.Condition(),
					ExpressionAttributeNames:  binding.Names(),
					ExpressionAttributeValues: binding.Values(),
				},
			},
			{
				Update: &types.Update{
					TableName:                 aws.String(d.tableName),
					Key:                       consumerKey(c.Subscription, c.Provider),
					UpdateExpression:          expr.Update(),
					ConditionExpression:       expr.Condition(),
					ExpressionAttributeNames:  expr.Names(),
					ExpressionAttributeValues: expr.Values(),
				},
			},
		},
	})
	if err == nil {
		return nil
	}
	switch cancelledAt(err) {
	case 0:
		return store.NewConflictError(
			store.Duplicate,
			c.Consumer.String(),
			fmt.Sprintf("already provisioned by %s under another subscription", c.Provider),
		)
	case 1:
		return store.NewConflictError(
			store.Rebind,
			c.Subscription,
			fmt.Sprintf("subscription at %s is consumed by another consumer", c.Provider),
		)
	}
	return wrapErr("writing consumer", err)
}

// Get implements consumerstore.ConsumerStore.
func (d *DynamoConsumerStore) Get(ctx context.Context, subscription string, provider did.DID) (consumerstore.Consumer, error) {
	response, err := d.dynamoDbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            consumerKey(subscription, provider),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return consumerstore.Consumer{}, wrapErr("retrieving item", err)
	}
	if response.Item == nil {
		return consumerstore.Consumer{}, store.ErrNotFound
	}
	var item consumerItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return consumerstore.Consumer{}, fmt.Errorf("deserializing item: %w", err)
	}
	return item.toConsumer()
}

// ListByConsumer implements consumerstore.ConsumerStore.
func (d *DynamoConsumerStore) ListByConsumer(ctx context.Context, consumer did.DID) ([]consumerstore.ConsumerEntry, error) {
	keyEx := expression.Key("consumer").Equal(expression.Value(consumer.String()))
	items, err := queryIndex[consumerItem](ctx, d.dynamoDbClient, d.tableName, ConsumerConsumerIndexName, keyEx)
	if err != nil {
		return nil, err
	}
	entries := make([]consumerstore.ConsumerEntry, 0, len(items))
	for _, item := range items {
		provider, err := did.Parse(item.Provider)
		if err != nil {
			return nil, fmt.Errorf("parsing provider DID: %w", err)
		}
		entries = append(entries, consumerstore.ConsumerEntry{Provider: provider, Subscription: item.Subscription})
	}
	return entries, nil
}

// ListConsumers implements consumerstore.ConsumerStore.
func (d *DynamoConsumerStore) ListConsumers(ctx context.Context, provider did.DID) ([]did.DID, error) {
	keyEx := expression.Key("provider").Equal(expression.Value(provider.String()))
	items, err := queryIndex[consumerItem](ctx, d.dynamoDbClient, d.tableName, ConsumerProviderIndexName, keyEx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	consumers := []did.DID{}
	for _, item := range items {
		if _, ok := seen[item.Consumer]; ok {
			continue
		}
		seen[item.Consumer] = struct{}{}
		consumer, err := did.Parse(item.Consumer)
		if err != nil {
			return nil, fmt.Errorf("parsing consumer DID: %w", err)
		}
		consumers = append(consumers, consumer)
	}
	return consumers, nil
}

// All implements consumerstore.ConsumerStore by scanning the table.
func (d *DynamoConsumerStore) All(ctx context.Context) iter.Seq2[consumerstore.Consumer, error] {
	return func(yield func(consumerstore.Consumer, error) bool) {
		expr, err := expression.NewBuilder().
			WithFilter(expression.AttributeExists(expression.Name("consumer"))).
			Build()
		if err != nil {
			yield(consumerstore.Consumer{}, fmt.Errorf("building scan: %w", err))
			return
		}
		scanPaginator := dynamodb.NewScanPaginator(d.dynamoDbClient, &dynamodb.ScanInput{
			TableName:                 aws.String(d.tableName),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		for scanPaginator.HasMorePages() {
			response, err := scanPaginator.NextPage(ctx)
			if err != nil {
				yield(consumerstore.Consumer{}, wrapErr("scanning consumers", err))
				return
			}
			var page []consumerItem
			if err := attributevalue.UnmarshalListOfMaps(response.Items, &page); err != nil {
				yield(consumerstore.Consumer{}, fmt.Errorf("parsing scan responses: %w", err))
				return
			}
			for _, item := range page {
				c, err := item.toConsumer()
				if !yield(c, err) || err != nil {
					return
				}
			}
		}
	}
}

type consumerItem struct {
	Subscription string `dynamodbav:"subscription"`
	Provider     string `dynamodbav:"provider"`
	Consumer     string `dynamodbav:"consumer"`
	Customer     string `dynamodbav:"customer,omitempty"`
	Cause        string `dynamodbav:"cause"`
	InsertedAt   string `dynamodbav:"insertedAt"`
	UpdatedAt    string `dynamodbav:"updatedAt"`
}

// bindingKey is the partition key of the binding item of a consumer. The
// "binding#" prefix is reserved and never used as a subscription identifier.
func bindingKey(consumer did.DID) string {
	return "binding#" + consumer.String()
}

func consumerKey(subscription string, provider did.DID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"subscription": &types.AttributeValueMemberS{Value: subscription},
		"provider":     &types.AttributeValueMemberS{Value: provider.String()},
	}
}

func (i consumerItem) toConsumer() (consumerstore.Consumer, error) {
	provider, err := did.Parse(i.Provider)
	if err != nil {
		return consumerstore.Consumer{}, fmt.Errorf("parsing provider DID: %w", err)
	}
	consumer, err := did.Parse(i.Consumer)
	if err != nil {
		return consumerstore.Consumer{}, fmt.Errorf("parsing consumer DID: %w", err)
	}
	cause, err := linkutil.Parse(i.Cause)
	if err != nil {
		return consumerstore.Consumer{}, err
	}
	insertedAt, err := timeutil.Parse(i.InsertedAt)
	if err != nil {
		return consumerstore.Consumer{}, err
	}
	updatedAt, err := timeutil.Parse(i.UpdatedAt)
	if err != nil {
		return consumerstore.Consumer{}, err
	}
	c := consumerstore.Consumer{
		Subscription: i.Subscription,
		Provider:     provider,
		Consumer:     consumer,
		Cause:        cause,
		InsertedAt:   insertedAt,
		UpdatedAt:    updatedAt,
	}
	if i.Customer != "" {
		customer, err := did.Parse(i.Customer)
		if err != nil {
			return consumerstore.Consumer{}, fmt.Errorf("parsing customer DID: %w", err)
		}
		c.Customer = customer
	}
	return c, nil
}
