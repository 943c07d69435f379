package revocationstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/store"
)

type failingDatastore struct {
	datastore.Datastore
}

func (failingDatastore) Has(context.Context, datastore.Key) (bool, error) {
	return false, errors.New("connection reset")
}

func TestDsRevocationStore(t *testing.T) {
	ctx := context.Background()

	t.Run("revoke and list", func(t *testing.T) {
		s, err := NewDsRevocationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		dlg := testutil.RandomCID()
		scope := testutil.RandomCID()
		cause := testutil.RandomCID()
		require.NoError(t, s.Revoke(ctx, dlg, scope, cause))

		revs, err := s.List(ctx, dlg)
		require.NoError(t, err)
		require.Len(t, revs, 1)
		require.Equal(t, scope.String(), revs[0].Scope.String())
		require.Equal(t, cause.String(), revs[0].Cause.String())
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		s, err := NewDsRevocationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		dlg := testutil.RandomCID()
		scope := testutil.RandomCID()
		cause := testutil.RandomCID()
		require.NoError(t, s.Revoke(ctx, dlg, scope, cause))
		require.NoError(t, s.Revoke(ctx, dlg, scope, cause))

		revs, err := s.List(ctx, dlg)
		require.NoError(t, err)
		require.Len(t, revs, 1)
	})

	t.Run("revocations accumulate", func(t *testing.T) {
		s, err := NewDsRevocationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		dlg := testutil.RandomCID()
		require.NoError(t, s.Revoke(ctx, dlg, testutil.RandomCID(), testutil.RandomCID()))
		require.NoError(t, s.Revoke(ctx, dlg, testutil.RandomCID(), testutil.RandomCID()))

		revs, err := s.List(ctx, dlg)
		require.NoError(t, err)
		require.Len(t, revs, 2)
	})

	t.Run("concurrent revocations are all kept", func(t *testing.T) {
		s, err := NewDsRevocationStore(dssync.MutexWrap(datastore.NewMapDatastore()))
		require.NoError(t, err)

		dlg := testutil.RandomCID()
		scopes := testutil.RandomCIDs(50)
		var wg sync.WaitGroup
		for _, scope := range scopes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Revoke(ctx, dlg, scope, testutil.RandomCID()); err != nil {
					t.Errorf("revoking: %v", err)
				}
			}()
		}
		wg.Wait()

		revs, err := s.List(ctx, dlg)
		require.NoError(t, err)
		got := make([]string, 0, len(revs))
		for _, r := range revs {
			got = append(got, r.Scope.String())
		}
		require.ElementsMatch(t, testutil.LinkStrings(scopes), got)
	})

	t.Run("list not found", func(t *testing.T) {
		s, err := NewDsRevocationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		_, err = s.List(ctx, testutil.RandomCID())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("batch with one revoked", func(t *testing.T) {
		s, err := NewDsRevocationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		links := testutil.RandomCIDs(100)
		require.NoError(t, s.Revoke(ctx, links[42], testutil.RandomCID(), testutil.RandomCID()))

		revoked, err := s.BatchIsRevoked(ctx, links)
		require.NoError(t, err)
		require.Len(t, revoked, 100)
		for i, l := range links {
			require.Equal(t, i == 42, revoked[l])
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		s, err := NewDsRevocationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		revoked, err := s.BatchIsRevoked(ctx, nil)
		require.NoError(t, err)
		require.Empty(t, revoked)
	})

	t.Run("lookup failure fails closed", func(t *testing.T) {
		s, err := NewDsRevocationStore(failingDatastore{datastore.NewMapDatastore()})
		require.NoError(t, err)

		links := testutil.RandomCIDs(3)
		revoked, err := s.BatchIsRevoked(ctx, links)
		require.ErrorIs(t, err, store.ErrUnavailable)
		for _, l := range links {
			require.True(t, revoked[l])
		}
	})
}

func TestEncodeDecode(t *testing.T) {
	rev := Revocation{Scope: testutil.RandomCID(), Cause: testutil.RandomCID()}
	out, err := Decode(Encode(rev))
	require.NoError(t, err)
	require.Equal(t, rev.Scope.String(), out.Scope.String())
	require.Equal(t, rev.Cause.String(), out.Cause.String())

	_, err = Decode("nocolon")
	require.Error(t, err)
}
