package metricsstore

import (
	"context"
	"sync"
	"testing"

	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/internal/testutil"
)

func TestDsMetricsStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing counters read zero", func(t *testing.T) {
		s, err := NewDsMetricsStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		v, err := s.GetAdmin(ctx, "store/add-total")
		require.NoError(t, err)
		require.Zero(t, v)

		v, err = s.GetSpace(ctx, testutil.RandomDID(), "store/add-total")
		require.NoError(t, err)
		require.Zero(t, v)
	})

	t.Run("admin and space counters are separate", func(t *testing.T) {
		s, err := NewDsMetricsStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		space := testutil.RandomDID()
		require.NoError(t, s.IncrementAdmin(ctx, "store/add-size-total", 100))
		require.NoError(t, s.IncrementAdmin(ctx, "store/add-size-total", 23))
		require.NoError(t, s.IncrementSpace(ctx, space, "store/add-size-total", 7))
		require.NoError(t, s.IncrementSpace(ctx, space, "upload/add-total", 1))

		v, err := s.GetAdmin(ctx, "store/add-size-total")
		require.NoError(t, err)
		require.Equal(t, uint64(123), v)

		v, err = s.GetSpace(ctx, space, "store/add-size-total")
		require.NoError(t, err)
		require.Equal(t, uint64(7), v)

		counters, err := s.ListSpace(ctx, space)
		require.NoError(t, err)
		require.Equal(t, map[string]uint64{"store/add-size-total": 7, "upload/add-total": 1}, counters)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		s, err := NewDsMetricsStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NoError(t, s.IncrementAdmin(ctx, "upload/add-total", 1))
			}()
		}
		wg.Wait()

		v, err := s.GetAdmin(ctx, "upload/add-total")
		require.NoError(t, err)
		require.Equal(t, uint64(50), v)
	})
}
