package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Must returns val from a (value, error) pair, failing the test when err is
// set.
func Must[T any](val T, err error) func(*testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		require.NoError(t, err)
		return val
	}
}
