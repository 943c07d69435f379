package aws

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/store"
)

// stubBatchGetter answers BatchGetItem calls. With answerAll every key is
// answered and none is revoked. Otherwise the first call returns the keys in
// revoked and every other key stays unprocessed forever.
type stubBatchGetter struct {
	revocationClient
	answerAll bool
	revoked   map[string]bool
	err       error
	calls     atomic.Int32
}

func (s *stubBatchGetter) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	first := s.calls.Add(1) == 1
	if s.err != nil {
		return nil, s.err
	}
	output := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	if s.answerAll {
		return output, nil
	}
	for table, request := range params.RequestItems {
		var unprocessed []map[string]types.AttributeValue
		for _, key := range request.Keys {
			link := key["revoke"].(*types.AttributeValueMemberS).Value
			if first && s.revoked[link] {
				output.Responses[table] = append(output.Responses[table], key)
				continue
			}
			unprocessed = append(unprocessed, key)
		}
		if len(unprocessed) > 0 {
			output.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: unprocessed}
		}
	}
	return output, nil
}

func newStubRevocationStore(client revocationClient, backoff time.Duration) *DynamoRevocationStore {
	return &DynamoRevocationStore{
		tableName:      "revocation",
		dynamoDbClient: client,
		concurrency:    4,
		backoff:        backoff,
	}
}

func TestBatchIsRevokedFailsClosed(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		client := &stubBatchGetter{answerAll: true}
		s := newStubRevocationStore(client, time.Millisecond)

		revoked, err := s.BatchIsRevoked(context.Background(), nil)
		require.NoError(t, err)
		require.Empty(t, revoked)
		require.Zero(t, client.calls.Load())
	})

	t.Run("all answered", func(t *testing.T) {
		client := &stubBatchGetter{answerAll: true}
		s := newStubRevocationStore(client, time.Millisecond)
		links := testutil.RandomCIDs(3)

		revoked, err := s.BatchIsRevoked(context.Background(), links)
		require.NoError(t, err)
		for _, l := range links {
			require.False(t, revoked[l])
		}
	})

	t.Run("unprocessed keys exhaust attempts", func(t *testing.T) {
		links := testutil.RandomCIDs(3)
		client := &stubBatchGetter{revoked: map[string]bool{links[0].String(): true}}
		s := newStubRevocationStore(client, time.Millisecond)

		found, err := s.batchGet(context.Background(), links)
		require.ErrorIs(t, err, store.ErrUnavailable)
		require.Equal(t, int32(batchGetAttempts), client.calls.Load())
		require.Contains(t, found, links[0].String())
		require.NotContains(t, found, links[1].String())

		client.calls.Store(0)
		revoked, err := s.BatchIsRevoked(context.Background(), links)
		require.ErrorIs(t, err, store.ErrUnavailable)
		require.Len(t, revoked, len(links))
		for _, l := range links {
			require.True(t, revoked[l], "unanswered link %s must count as revoked", l)
		}
	})

	t.Run("cancelled while backing off", func(t *testing.T) {
		links := testutil.RandomCIDs(2)
		client := &stubBatchGetter{revoked: map[string]bool{links[0].String(): true}}
		s := newStubRevocationStore(client, time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		revoked, err := s.BatchIsRevoked(ctx, links)
		require.ErrorIs(t, err, store.ErrUnavailable)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, int32(1), client.calls.Load())
		for _, l := range links {
			require.True(t, revoked[l])
		}
	})

	t.Run("request failure", func(t *testing.T) {
		client := &stubBatchGetter{err: &types.ProvisionedThroughputExceededException{Message: new(string)}}
		s := newStubRevocationStore(client, time.Millisecond)
		links := testutil.RandomCIDs(batchGetLimit + 1)

		revoked, err := s.BatchIsRevoked(context.Background(), links)
		require.ErrorIs(t, err, store.ErrUnavailable)
		var throttled *types.ProvisionedThroughputExceededException
		require.True(t, errors.As(err, &throttled))
		require.Equal(t, int32(2), client.calls.Load())
		for _, l := range links {
			require.True(t, revoked[l])
		}
	})
}
