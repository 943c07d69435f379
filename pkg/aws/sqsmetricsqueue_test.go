package aws

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/metrics"
)

func TestMetricsMessage(t *testing.T) {
	space := testutil.RandomDID()
	events := metrics.StoreAdded(space, 512)

	body, err := EncodeMetricsMessage(events...)
	require.NoError(t, err)
	// service wide counters carry no space
	require.Contains(t, body, `{"name":"store/add-total","value":1}`)

	decoded, err := DecodeMetricsMessage(body)
	require.NoError(t, err)
	require.Equal(t, events, decoded)

	t.Run("invalid space", func(t *testing.T) {
		_, err := DecodeMetricsMessage(`{"events":[{"name":"store/add-total","space":"nope","value":1}]}`)
		require.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := DecodeMetricsMessage(`{`)
		require.Error(t, err)
	})
}
