package contentstore

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/store"
)

func TestDsContentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		obj := StoredObject{
			Space:      testutil.RandomDID(),
			Link:       testutil.RandomCID(),
			Size:       101,
			Origin:     testutil.RandomCID(),
			Issuer:     testutil.RandomDID(),
			Invocation: testutil.RandomCID(),
		}
		created, err := s.Put(ctx, obj)
		require.NoError(t, err)
		require.True(t, created)

		res, err := s.Get(ctx, obj.Space, obj.Link)
		require.NoError(t, err)
		require.Equal(t, obj.Space, res.Space)
		require.Equal(t, obj.Link.String(), res.Link.String())
		require.Equal(t, obj.Size, res.Size)
		require.Equal(t, obj.Origin.String(), res.Origin.String())
		require.Equal(t, obj.Issuer, res.Issuer)
		require.Equal(t, obj.Invocation.String(), res.Invocation.String())
		require.False(t, res.InsertedAt.IsZero())
	})

	t.Run("no origin", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		obj := StoredObject{
			Space:      testutil.RandomDID(),
			Link:       testutil.RandomCID(),
			Size:       1,
			Issuer:     testutil.RandomDID(),
			Invocation: testutil.RandomCID(),
		}
		_, err = s.Put(ctx, obj)
		require.NoError(t, err)

		res, err := s.Get(ctx, obj.Space, obj.Link)
		require.NoError(t, err)
		require.Nil(t, res.Origin)
	})

	t.Run("not found", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		_, err = s.Get(ctx, testutil.RandomDID(), testutil.RandomCID())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("idempotent put", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		obj := StoredObject{
			Space:      testutil.RandomDID(),
			Link:       testutil.RandomCID(),
			Size:       101,
			Issuer:     testutil.RandomDID(),
			Invocation: testutil.RandomCID(),
		}
		created, err := s.Put(ctx, obj)
		require.NoError(t, err)
		require.True(t, created)
		first, err := s.Get(ctx, obj.Space, obj.Link)
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
		created, err = s.Put(ctx, obj)
		require.NoError(t, err)
		require.False(t, created)
		second, err := s.Get(ctx, obj.Space, obj.Link)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("size mismatch conflicts", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		obj := StoredObject{
			Space:      testutil.RandomDID(),
			Link:       testutil.RandomCID(),
			Size:       101,
			Issuer:     testutil.RandomDID(),
			Invocation: testutil.RandomCID(),
		}
		_, err = s.Put(ctx, obj)
		require.NoError(t, err)

		obj.Size = 202
		created, err := s.Put(ctx, obj)
		require.False(t, created)
		require.ErrorIs(t, err, store.ErrConflict)
		require.True(t, store.IsConflict(err, store.ContentMismatch))

		res, err := s.Get(ctx, obj.Space, obj.Link)
		require.NoError(t, err)
		require.Equal(t, uint64(101), res.Size)
	})

	t.Run("size beyond the record limit", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		obj := StoredObject{
			Space:      testutil.RandomDID(),
			Link:       testutil.RandomCID(),
			Size:       math.MaxInt64 + 1,
			Issuer:     testutil.RandomDID(),
			Invocation: testutil.RandomCID(),
		}
		_, err = s.Put(ctx, obj)
		require.ErrorIs(t, err, ErrSizeTooLarge)

		_, err = s.Get(ctx, obj.Space, obj.Link)
		require.ErrorIs(t, err, store.ErrNotFound)

		obj.Size = MaxSize
		_, err = s.Put(ctx, obj)
		require.NoError(t, err)
		res, err := s.Get(ctx, obj.Space, obj.Link)
		require.NoError(t, err)
		require.Equal(t, MaxSize, res.Size)
	})

	t.Run("concurrent puts create once", func(t *testing.T) {
		s, err := NewDsContentStore(dssync.MutexWrap(datastore.NewMapDatastore()))
		require.NoError(t, err)

		obj := StoredObject{
			Space:      testutil.RandomDID(),
			Link:       testutil.RandomCID(),
			Size:       101,
			Issuer:     testutil.RandomDID(),
			Invocation: testutil.RandomCID(),
		}
		var creations atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				created, err := s.Put(ctx, obj)
				if err != nil {
					t.Errorf("putting object: %v", err)
					return
				}
				if created {
					creations.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), creations.Load())
	})

	t.Run("list spaces", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		link := testutil.RandomCID()
		alice := testutil.RandomDID()
		bob := testutil.RandomDID()
		for _, obj := range []StoredObject{
			{Space: alice, Link: link, Size: 101, Issuer: testutil.RandomDID(), Invocation: testutil.RandomCID()},
			{Space: bob, Link: link, Size: 101, Issuer: testutil.RandomDID(), Invocation: testutil.RandomCID()},
			{Space: alice, Link: testutil.RandomCID(), Size: 5, Issuer: testutil.RandomDID(), Invocation: testutil.RandomCID()},
		} {
			_, err := s.Put(ctx, obj)
			require.NoError(t, err)
		}

		spaces := map[string]bool{}
		for entry, err := range s.ListSpaces(ctx, link) {
			require.NoError(t, err)
			require.False(t, entry.InsertedAt.IsZero())
			spaces[entry.Space.String()] = true
		}
		require.Equal(t, map[string]bool{alice.String(): true, bob.String(): true}, spaces)
	})

	t.Run("list spaces for unknown link", func(t *testing.T) {
		s, err := NewDsContentStore(datastore.NewMapDatastore())
		require.NoError(t, err)

		n := 0
		for _, err := range s.ListSpaces(ctx, testutil.RandomCID()) {
			require.NoError(t, err)
			n++
		}
		require.Zero(t, n)
	})
}
