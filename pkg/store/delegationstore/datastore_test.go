package delegationstore

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/result/ok"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/store"
)

func TestDsArchiveStore(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		archive, err := NewDsArchiveStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		dlg := testutil.RandomDelegation(t)

		err = archive.Put(context.Background(), dlg)
		require.NoError(t, err)

		res, err := archive.Get(context.Background(), dlg.Link())
		require.NoError(t, err)
		testutil.RequireEqualDelegation(t, dlg, res)
	})

	t.Run("not found", func(t *testing.T) {
		archive, err := NewDsArchiveStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		_, err = archive.Get(context.Background(), testutil.RandomCID())
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestDsDelegationStore(t *testing.T) {
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		s, err := NewDsDelegationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		dlg := randomDelegation()
		require.NoError(t, s.Put(ctx, dlg))

		res, err := s.Get(ctx, dlg.Link)
		require.NoError(t, err)
		require.Equal(t, dlg.Cause.String(), res.Cause.String())
		require.Equal(t, dlg.Link.String(), res.Link.String())
		require.Equal(t, dlg.Audience, res.Audience)
		require.Equal(t, dlg.Issuer, res.Issuer)
		require.Equal(t, dlg.Expiration, res.Expiration)
		require.False(t, res.InsertedAt.IsZero())
		require.Equal(t, res.InsertedAt, res.UpdatedAt)
	})

	t.Run("not found", func(t *testing.T) {
		s, err := NewDsDelegationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		_, err = s.Get(ctx, testutil.RandomCID())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("same payload supersedes", func(t *testing.T) {
		s, err := NewDsDelegationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		dlg := randomDelegation()
		require.NoError(t, s.Put(ctx, dlg))
		first, err := s.Get(ctx, dlg.Link)
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
		dlg.Cause = testutil.RandomCID()
		require.NoError(t, s.Put(ctx, dlg))
		second, err := s.Get(ctx, dlg.Link)
		require.NoError(t, err)

		require.Equal(t, first.InsertedAt, second.InsertedAt)
		require.True(t, second.UpdatedAt.After(first.UpdatedAt))
		require.Equal(t, dlg.Cause.String(), second.Cause.String())
	})

	t.Run("divergent payload is corruption", func(t *testing.T) {
		s, err := NewDsDelegationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		dlg := randomDelegation()
		require.NoError(t, s.Put(ctx, dlg))

		forged := dlg
		forged.Audience = testutil.RandomDID()
		err = s.Put(ctx, forged)
		require.ErrorIs(t, err, store.ErrCorruption)

		res, err := s.Get(ctx, dlg.Link)
		require.NoError(t, err)
		require.Equal(t, dlg.Audience, res.Audience)
	})

	t.Run("list by audience", func(t *testing.T) {
		s, err := NewDsDelegationStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		audience := testutil.RandomDID()
		var want []ucan.Link
		for range 3 {
			dlg := randomDelegation()
			dlg.Audience = audience
			require.NoError(t, s.Put(ctx, dlg))
			want = append(want, dlg.Link)
		}
		require.NoError(t, s.Put(ctx, randomDelegation()))

		links, err := s.ListByAudience(ctx, audience)
		require.NoError(t, err)
		require.ElementsMatch(t, testutil.LinkStrings(want), testutil.LinkStrings(links))

		links, err = s.ListByAudience(ctx, testutil.RandomDID())
		require.NoError(t, err)
		require.Empty(t, links)
	})
}

func TestFromDelegation(t *testing.T) {
	issuer := testutil.RandomSigner()
	audience := testutil.RandomDID()
	caps := []ucan.Capability[ok.Unit]{
		ucan.NewCapability("store/add", testutil.RandomDID().String(), ok.Unit{}),
	}
	cause := testutil.RandomCID()

	t.Run("with expiration", func(t *testing.T) {
		exp := int(time.Now().Add(time.Hour).Unix())
		dlg, err := delegation.Delegate(issuer, audience, caps, delegation.WithExpiration(exp))
		require.NoError(t, err)

		rec := FromDelegation(cause, dlg)
		require.Equal(t, dlg.Link().String(), rec.Link.String())
		require.Equal(t, cause.String(), rec.Cause.String())
		require.Equal(t, issuer.DID(), rec.Issuer)
		require.Equal(t, audience, rec.Audience)
		require.Equal(t, int64(exp), rec.Expiration)
		require.False(t, IsExpired(rec, time.Now()))
		require.True(t, IsExpired(rec, time.Now().Add(2*time.Hour)))
	})

	t.Run("without expiration", func(t *testing.T) {
		dlg, err := delegation.Delegate(issuer, audience, caps, delegation.WithNoExpiration())
		require.NoError(t, err)

		rec := FromDelegation(cause, dlg)
		require.Equal(t, NoExpiration, rec.Expiration)
		require.False(t, IsExpired(rec, time.Now().AddDate(100, 0, 0)))
	})
}

func TestIsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	require.True(t, IsExpired(Delegation{Expiration: now.Unix()}, now))
	require.True(t, IsExpired(Delegation{Expiration: now.Unix() - 1}, now))
	require.False(t, IsExpired(Delegation{Expiration: now.Unix() + 1}, now))
}

func randomDelegation() Delegation {
	return Delegation{
		Cause:      testutil.RandomCID(),
		Link:       testutil.RandomCID(),
		Audience:   testutil.RandomDID(),
		Issuer:     testutil.RandomDID(),
		Expiration: time.Now().Add(time.Hour).Unix(),
	}
}
