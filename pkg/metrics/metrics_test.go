package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/store/metricsstore"
)

type recordingSink struct {
	mutex  sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (r *recordingSink) Emit(ctx context.Context, events ...Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, events...)
	return r.err
}

func (r *recordingSink) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Event(nil), r.events...)
}

func TestAggregateSink(t *testing.T) {
	ctx := context.Background()
	ms, err := metricsstore.NewDsMetricsStore(datastore.NewMapDatastore())
	require.NoError(t, err)
	sink := NewAggregateSink(ms)

	alice := testutil.RandomDID()
	bob := testutil.RandomDID()
	require.NoError(t, sink.Emit(ctx, StoreAdded(alice, 100)...))
	require.NoError(t, sink.Emit(ctx, StoreAdded(bob, 20)...))
	require.NoError(t, sink.Emit(ctx, UploadAdded(alice)...))

	total, err := ms.GetAdmin(ctx, StoreAddTotal)
	require.NoError(t, err)
	require.Equal(t, uint64(2), total)

	size, err := ms.GetAdmin(ctx, StoreAddSizeTotal)
	require.NoError(t, err)
	require.Equal(t, uint64(120), size)

	aliceSize, err := ms.GetSpace(ctx, alice, StoreAddSizeTotal)
	require.NoError(t, err)
	require.Equal(t, uint64(100), aliceSize)

	uploads, err := ms.GetSpace(ctx, bob, UploadAddTotal)
	require.NoError(t, err)
	require.Zero(t, uploads)
}

func TestAsyncSink(t *testing.T) {
	ctx := context.Background()

	t.Run("flushes on close", func(t *testing.T) {
		next := &recordingSink{}
		sink := NewAsyncSink(next, 10)
		space := testutil.RandomDID()
		require.NoError(t, sink.Emit(ctx, UploadAdded(space)...))
		require.NoError(t, sink.Emit(ctx, StoreAdded(space, 5)...))
		require.NoError(t, sink.Close(ctx))
		require.Len(t, next.Events(), 6)

		// emitting after close is a silent drop
		require.NoError(t, sink.Emit(ctx, UploadAdded(space)...))
		require.Len(t, next.Events(), 6)
	})

	t.Run("drops when full", func(t *testing.T) {
		next := &recordingSink{block: make(chan struct{})}
		sink := NewAsyncSink(next, 1)
		space := testutil.RandomDID()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 10 {
				require.NoError(t, sink.Emit(ctx, UploadAdded(space)...))
			}
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("emit blocked")
		}

		close(next.block)
		require.NoError(t, sink.Close(ctx))
		// at most one batch in flight plus one buffered
		require.LessOrEqual(t, len(next.Events()), 4)
		require.NotEmpty(t, next.Events())
	})

	t.Run("failing sink does not surface", func(t *testing.T) {
		next := &recordingSink{err: errors.New("boom")}
		sink := NewAsyncSink(next, 1)
		require.NoError(t, sink.Emit(ctx, UploadAdded(testutil.RandomDID())...))
		require.NoError(t, sink.Close(ctx))
	})
}

func TestTee(t *testing.T) {
	ctx := context.Background()
	a := &recordingSink{err: errors.New("boom")}
	b := &recordingSink{}

	err := Tee(a, b).Emit(ctx, UploadAdded(testutil.RandomDID())...)
	require.ErrorContains(t, err, "boom")
	require.Len(t, a.Events(), 2)
	require.Len(t, b.Events(), 2)

	require.NoError(t, NoopSink.Emit(ctx, UploadAdded(testutil.RandomDID())...))
}

func TestOTelSink(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() {
		require.NoError(t, provider.Shutdown(ctx))
	}()

	sink := NewOTelSink(provider)
	space := testutil.RandomDID()
	require.NoError(t, sink.Emit(ctx, StoreAdded(space, 100)...))
	require.NoError(t, sink.Emit(ctx, StoreAdded(space, 28)...))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			sums[m.Name] = map[string]int64{}
			for _, dp := range data.DataPoints {
				key := ""
				if v, ok := dp.Attributes.Value("space"); ok {
					key = v.AsString()
				}
				sums[m.Name][key] = dp.Value
			}
		}
	}
	require.Equal(t, int64(128), sums[StoreAddSizeTotal][""])
	require.Equal(t, int64(128), sums[StoreAddSizeTotal][space.String()])
	require.Equal(t, int64(2), sums[StoreAddTotal][space.String()])
}
