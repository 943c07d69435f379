package testutil

import (
	"testing"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/result/ok"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/stretchr/testify/require"
)

// RandomDelegation issues a "store/add" delegation from a random signer to a
// random audience.
func RandomDelegation(t *testing.T, opts ...delegation.Option) delegation.Delegation {
	t.Helper()
	issuer := RandomSigner()
	caps := []ucan.Capability[ok.Unit]{
		ucan.NewCapability("store/add", issuer.DID().String(), ok.Unit{}),
	}
	dlg, err := delegation.Delegate(issuer, RandomDID(), caps, opts...)
	require.NoError(t, err)
	return dlg
}

// RequireEqualDelegation fails unless both delegations have the same root
// block. The fields recorded by the delegation index are compared first so a
// mismatch names the field that differs.
func RequireEqualDelegation(t *testing.T, expected delegation.Delegation, actual delegation.Delegation) {
	t.Helper()
	if expected == nil {
		require.Nil(t, actual)
		return
	}
	require.NotNil(t, actual)
	require.Equal(t, expected.Issuer().DID(), actual.Issuer().DID())
	require.Equal(t, expected.Audience().DID(), actual.Audience().DID())
	require.Equal(t, expected.Expiration(), actual.Expiration())
	require.Equal(t, expected.Link().String(), actual.Link().String())
}
