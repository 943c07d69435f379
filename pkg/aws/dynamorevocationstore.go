package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/storacha/go-ucanto/ucan"
	"golang.org/x/sync/errgroup"

	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/revocationstore"
)

const (
	// maximum number of keys in a single BatchGetItem request
	batchGetLimit = 100
	// attempts at fetching unprocessed keys before giving up
	batchGetAttempts = 5
	batchGetBackoff  = 50 * time.Millisecond
)

// revocationClient is the part of the dynamodb API the revocation store uses.
type revocationClient interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoRevocationStore implements the RevocationStore interface on dynamodb.
// Each revoked delegation has one item holding a string set of
// "scope:cause" pairs, grown with ADD so concurrent revocations merge.
type DynamoRevocationStore struct {
	tableName      string
	dynamoDbClient revocationClient
	concurrency    int
	backoff        time.Duration
}

var _ revocationstore.RevocationStore = (*DynamoRevocationStore)(nil)

// NewDynamoRevocationStore returns a RevocationStore connected to a AWS DynamoDB table
func NewDynamoRevocationStore(cfg aws.Config, tableName string, opts ...func(*dynamodb.Options)) *DynamoRevocationStore {
	return &DynamoRevocationStore{
		tableName:      tableName,
		dynamoDbClient: dynamodb.NewFromConfig(cfg, opts...),
		concurrency:    4,
		backoff:        batchGetBackoff,
	}
}

// Revoke implements revocationstore.RevocationStore.
func (d *DynamoRevocationStore) Revoke(ctx context.Context, delegation ucan.Link, scope ucan.Link, cause ucan.Link) error {
	member := revocationstore.Encode(revocationstore.Revocation{Scope: scope, Cause: cause})
	_, err := d.dynamoDbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              revocationKey(delegation.String()),
		UpdateExpression: aws.String("ADD #contexts :contexts"),
		ExpressionAttributeNames: map[string]string{
			"#contexts": "contexts",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":contexts": &types.AttributeValueMemberSS{Value: []string{member}},
		},
	})
	if err != nil {
		return wrapErr("updating item", err)
	}
	return nil
}

// BatchIsRevoked implements revocationstore.RevocationStore. Links are
// fetched in chunks of 100 using BatchGetItem.
func (d *DynamoRevocationStore) BatchIsRevoked(ctx context.Context, links []ucan.Link) (map[ucan.Link]bool, error) {
	unique := revocationstore.Unique(links)

	var mutex sync.Mutex
	byString := make(map[string]bool, len(unique))
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for start := 0; start < len(unique); start += batchGetLimit {
		chunk := unique[start:min(start+batchGetLimit, len(unique))]
		g.Go(func() error {
			found, err := d.batchGet(gctx, chunk)
			mutex.Lock()
			defer mutex.Unlock()
			for _, l := range chunk {
				_, revoked := found[l.String()]
				// anything left unanswered counts as revoked
				byString[l.String()] = revoked || err != nil
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	revoked := make(map[ucan.Link]bool, len(links))
	for _, l := range links {
		revoked[l] = byString[l.String()]
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		if errors.Is(err, store.ErrUnavailable) {
			return revoked, err
		}
		return revoked, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return revoked, nil
}

// batchGet returns the set of links in chunk that have an item. Unprocessed
// keys are retried with exponential backoff.
func (d *DynamoRevocationStore) batchGet(ctx context.Context, chunk []ucan.Link) (map[string]struct{}, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(chunk))
	for _, l := range chunk {
		keys = append(keys, revocationKey(l.String()))
	}
	request := map[string]types.KeysAndAttributes{
		d.tableName: {
			Keys:                     keys,
			ConsistentRead:           aws.Bool(true),
			ProjectionExpression:     aws.String("#revoke"),
			ExpressionAttributeNames: map[string]string{"#revoke": "revoke"},
		},
	}

	found := map[string]struct{}{}
	backoff := d.backoff
	for attempt := 0; ; attempt++ {
		response, err := d.dynamoDbClient.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return found, wrapErr("batch getting items", err)
		}
		var page []revocationItem
		if err := attributevalue.UnmarshalListOfMaps(response.Responses[d.tableName], &page); err != nil {
			return found, fmt.Errorf("parsing batch responses: %w", err)
		}
		for _, item := range page {
			found[item.Revoke] = struct{}{}
		}

		unprocessed, ok := response.UnprocessedKeys[d.tableName]
		if !ok || len(unprocessed.Keys) == 0 {
			return found, nil
		}
		if attempt+1 >= batchGetAttempts {
			return found, fmt.Errorf("%w: %d keys unprocessed after %d attempts", store.ErrUnavailable, len(unprocessed.Keys), batchGetAttempts)
		}
		request = map[string]types.KeysAndAttributes{d.tableName: unprocessed}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return found, fmt.Errorf("%w: %w", store.ErrUnavailable, ctx.Err())
		}
		backoff *= 2
	}
}

// List implements revocationstore.RevocationStore.
func (d *DynamoRevocationStore) List(ctx context.Context, delegation ucan.Link) ([]revocationstore.Revocation, error) {
	response, err := d.dynamoDbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            revocationKey(delegation.String()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrapErr("retrieving item", err)
	}
	if response.Item == nil {
		return nil, store.ErrNotFound
	}
	var item revocationItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return nil, fmt.Errorf("deserializing item: %w", err)
	}
	revocations := make([]revocationstore.Revocation, 0, len(item.Contexts))
	for _, c := range item.Contexts {
		r, err := revocationstore.Decode(c)
		if err != nil {
			return nil, err
		}
		revocations = append(revocations, r)
	}
	return revocations, nil
}

type revocationItem struct {
	Revoke   string   `dynamodbav:"revoke"`
	Contexts []string `dynamodbav:"contexts,stringset,omitempty"`
}

func revocationKey(link string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"revoke": &types.AttributeValueMemberS{Value: link},
	}
}
