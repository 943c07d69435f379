package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/pkg/aws"
	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/metrics"
	"github.com/storacha/upload-service/pkg/store/metricsstore"
)

type failingSink struct{}

func (failingSink) Emit(context.Context, ...metrics.Event) error {
	return errors.New("boom")
}

func TestHandler(t *testing.T) {
	ctx := context.Background()
	space := testutil.RandomDID()
	body, err := aws.EncodeMetricsMessage(metrics.StoreAdded(space, 10)...)
	require.NoError(t, err)

	sqsEvent := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "1", Body: body},
		{MessageId: "2", Body: "not json"},
		{MessageId: "3", Body: body},
	}}

	t.Run("applies messages", func(t *testing.T) {
		store, err := metricsstore.NewDsMetricsStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		res, err := newHandler(metrics.NewAggregateSink(store))(ctx, sqsEvent)
		require.NoError(t, err)
		require.Empty(t, res.BatchItemFailures)

		total, err := store.GetAdmin(ctx, metrics.StoreAddTotal)
		require.NoError(t, err)
		require.Equal(t, uint64(2), total)

		size, err := store.GetSpace(ctx, space, metrics.StoreAddSizeTotal)
		require.NoError(t, err)
		require.Equal(t, uint64(20), size)
	})

	t.Run("reports failures", func(t *testing.T) {
		res, err := newHandler(failingSink{})(ctx, sqsEvent)
		require.NoError(t, err)
		require.Equal(t, []events.SQSBatchItemFailure{{ItemIdentifier: "1"}, {ItemIdentifier: "3"}}, res.BatchItemFailures)
	})
}
