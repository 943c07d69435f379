package subscriptionstore

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/storacha/go-ucanto/did"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/store"
)

func TestDsSubscriptionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		s, err := NewDsSubscriptionStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		sub := Subscription{
			Subscription: "sub-1",
			Provider:     testutil.RandomDID(),
			Customer:     testutil.RandomDID(),
			Cause:        testutil.RandomCID(),
		}
		require.NoError(t, s.Put(ctx, sub))

		res, err := s.Get(ctx, sub.Subscription, sub.Provider)
		require.NoError(t, err)
		require.Equal(t, sub.Subscription, res.Subscription)
		require.Equal(t, sub.Provider, res.Provider)
		require.Equal(t, sub.Customer, res.Customer)
		require.Equal(t, sub.Cause.String(), res.Cause.String())
		require.False(t, res.InsertedAt.IsZero())
		require.Equal(t, res.InsertedAt, res.UpdatedAt)
	})

	t.Run("not found", func(t *testing.T) {
		s, err := NewDsSubscriptionStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		_, err = s.Get(ctx, "missing", testutil.RandomDID())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("same customer supersedes", func(t *testing.T) {
		s, err := NewDsSubscriptionStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		sub := Subscription{
			Subscription: "sub-1",
			Provider:     testutil.RandomDID(),
			Customer:     testutil.RandomDID(),
			Cause:        testutil.RandomCID(),
		}
		require.NoError(t, s.Put(ctx, sub))
		first, err := s.Get(ctx, sub.Subscription, sub.Provider)
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
		sub.Cause = testutil.RandomCID()
		require.NoError(t, s.Put(ctx, sub))

		second, err := s.Get(ctx, sub.Subscription, sub.Provider)
		require.NoError(t, err)
		require.Equal(t, sub.Cause.String(), second.Cause.String())
		require.Equal(t, first.InsertedAt, second.InsertedAt)
		require.True(t, second.UpdatedAt.After(first.UpdatedAt))

		entries, err := s.ListByCustomer(ctx, sub.Customer, did.Undef)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, sub.Cause.String(), entries[0].Cause.String())
	})

	t.Run("different customer is a rebind conflict", func(t *testing.T) {
		s, err := NewDsSubscriptionStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		sub := Subscription{
			Subscription: "sub-1",
			Provider:     testutil.RandomDID(),
			Customer:     testutil.RandomDID(),
			Cause:        testutil.RandomCID(),
		}
		require.NoError(t, s.Put(ctx, sub))

		other := sub
		other.Customer = testutil.RandomDID()
		err = s.Put(ctx, other)
		require.ErrorIs(t, err, store.ErrConflict)
		require.True(t, store.IsConflict(err, store.Rebind))

		res, err := s.Get(ctx, sub.Subscription, sub.Provider)
		require.NoError(t, err)
		require.Equal(t, sub.Customer, res.Customer)
	})

	t.Run("list by customer", func(t *testing.T) {
		s, err := NewDsSubscriptionStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		customer := testutil.RandomDID()
		web3 := testutil.RandomDID()
		other := testutil.RandomDID()
		for _, sub := range []Subscription{
			{Subscription: "a", Provider: web3, Customer: customer, Cause: testutil.RandomCID()},
			{Subscription: "b", Provider: web3, Customer: customer, Cause: testutil.RandomCID()},
			{Subscription: "c", Provider: other, Customer: customer, Cause: testutil.RandomCID()},
			{Subscription: "d", Provider: web3, Customer: testutil.RandomDID(), Cause: testutil.RandomCID()},
		} {
			require.NoError(t, s.Put(ctx, sub))
		}

		all, err := s.ListByCustomer(ctx, customer, did.Undef)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b", "c"}, subscriptions(all))

		atWeb3, err := s.ListByCustomer(ctx, customer, web3)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b"}, subscriptions(atWeb3))
		for _, e := range atWeb3 {
			require.Equal(t, web3, e.Provider)
		}

		none, err := s.ListByCustomer(ctx, testutil.RandomDID(), did.Undef)
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("list customers", func(t *testing.T) {
		s, err := NewDsSubscriptionStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		provider := testutil.RandomDID()
		alice := testutil.RandomDID()
		bob := testutil.RandomDID()
		for _, sub := range []Subscription{
			{Subscription: "a", Provider: provider, Customer: alice, Cause: testutil.RandomCID()},
			{Subscription: "b", Provider: provider, Customer: alice, Cause: testutil.RandomCID()},
			{Subscription: "c", Provider: provider, Customer: bob, Cause: testutil.RandomCID()},
			{Subscription: "d", Provider: testutil.RandomDID(), Customer: testutil.RandomDID(), Cause: testutil.RandomCID()},
		} {
			require.NoError(t, s.Put(ctx, sub))
		}

		customers, err := s.ListCustomers(ctx, provider)
		require.NoError(t, err)
		require.ElementsMatch(t, []did.DID{alice, bob}, customers)
	})
}

func subscriptions(entries []CustomerEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Subscription)
	}
	return out
}
