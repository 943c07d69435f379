package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/pkg/store"
)

func TestWrapErr(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"deadline", fmt.Errorf("calling: %w", context.DeadlineExceeded), true},
		{"throttled", &types.ProvisionedThroughputExceededException{Message: new(string)}, true},
		{"server fault", &smithy.GenericAPIError{Code: "Boom", Fault: smithy.FaultServer}, true},
		{"client fault", &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrapErr("getting item", tc.err)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.unavailable, errors.Is(err, store.ErrUnavailable))
		})
	}
}

func TestIsConditionalCheckFailed(t *testing.T) {
	err := fmt.Errorf("putting: %w", &types.ConditionalCheckFailedException{})
	require.True(t, isConditionalCheckFailed(err))
	require.False(t, isConditionalCheckFailed(errors.New("boom")))
}

func TestCancelledAt(t *testing.T) {
	reason := func(code string) types.CancellationReason {
		return types.CancellationReason{Code: &code}
	}
	err := fmt.Errorf("writing: %w", &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{reason("None"), reason("ConditionalCheckFailed")},
	})
	require.Equal(t, 1, cancelledAt(err))

	err = &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{reason("ConditionalCheckFailed"), reason("None")},
	}
	require.Equal(t, 0, cancelledAt(err))

	err = &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{reason("ThrottlingError")},
	}
	require.Equal(t, -1, cancelledAt(err))
	require.Equal(t, -1, cancelledAt(errors.New("boom")))
}
