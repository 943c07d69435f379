package aws

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/storacha/go-ucanto/did"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcdynamodb "github.com/testcontainers/testcontainers-go/modules/dynamodb"
	"golang.org/x/sync/errgroup"

	"github.com/storacha/upload-service/internal/testutil"
	"github.com/storacha/upload-service/pkg/metrics"
	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/consumerstore"
	"github.com/storacha/upload-service/pkg/store/contentstore"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
	"github.com/storacha/upload-service/pkg/store/subscriptionstore"
)

func createDynamo(t *testing.T) *url.URL {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcdynamodb.Run(ctx, "amazon/dynamodb-local:latest")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	return testutil.Must(url.Parse("http://" + endpoint))(t)
}

func dynamoOptions(endpoint *url.URL) []func(*dynamodb.Options) {
	return []func(*dynamodb.Options){
		func(o *dynamodb.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider("DUMMYIDEXAMPLE", "DUMMYEXAMPLEKEY", "")
			o.Region = "us-east-1"
			o.BaseEndpoint = aws.String(endpoint.String())
		},
	}
}

// setupTables creates a fresh set of tables, uniquely prefixed so tests can
// share a container.
func setupTables(t *testing.T, endpoint *url.URL) TableNames {
	names := DefaultTableNames(fmt.Sprintf("test-%d-", time.Now().UnixNano()))
	err := CreateTables(context.Background(), aws.Config{}, names, dynamoOptions(endpoint)...)
	require.NoError(t, err)
	return names
}

func TestTableDefinitions(t *testing.T) {
	names := DefaultTableNames("x-")
	defs := TableDefinitions(names)
	require.Len(t, defs, 9)

	for _, def := range defs {
		declared := map[string]bool{}
		for _, a := range def.AttributeDefinitions {
			require.False(t, declared[*a.AttributeName], "duplicate attribute %s in %s", *a.AttributeName, *def.TableName)
			declared[*a.AttributeName] = true
		}
		used := map[string]bool{}
		for _, k := range def.KeySchema {
			used[*k.AttributeName] = true
		}
		for _, idx := range def.GlobalSecondaryIndexes {
			for _, k := range idx.KeySchema {
				used[*k.AttributeName] = true
			}
		}
		// dynamodb rejects attribute definitions that no key uses
		require.Equal(t, used, declared, *def.TableName)
	}
}

func TestDynamoStores(t *testing.T) {
	endpoint := createDynamo(t)
	names := setupTables(t, endpoint)
	opts := dynamoOptions(endpoint)
	ctx := context.Background()

	t.Run("tables already exist", func(t *testing.T) {
		require.NoError(t, CreateTables(ctx, aws.Config{}, names, opts...))
	})

	t.Run("content", func(t *testing.T) {
		s := NewDynamoContentStore(aws.Config{}, names.Content, opts...)
		space := testutil.RandomDID()
		obj := contentstore.StoredObject{
			Space:      space,
			Link:       testutil.RandomCID(),
			Size:       138,
			Issuer:     testutil.RandomDID(),
			Invocation: testutil.RandomCID(),
		}
		created, err := s.Put(ctx, obj)
		require.NoError(t, err)
		require.True(t, created)
		// idempotent
		created, err = s.Put(ctx, obj)
		require.NoError(t, err)
		require.False(t, created)

		res, err := s.Get(ctx, space, obj.Link)
		require.NoError(t, err)
		require.Equal(t, obj.Size, res.Size)
		require.Equal(t, obj.Issuer, res.Issuer)
		require.Nil(t, res.Origin)
		require.False(t, res.InsertedAt.IsZero())

		mismatch := obj
		mismatch.Size = 139
		_, err = s.Put(ctx, mismatch)
		require.True(t, store.IsConflict(err, store.ContentMismatch))

		tooLarge := obj
		tooLarge.Link = testutil.RandomCID()
		tooLarge.Size = contentstore.MaxSize + 1
		_, err = s.Put(ctx, tooLarge)
		require.ErrorIs(t, err, contentstore.ErrSizeTooLarge)

		other := obj
		other.Space = testutil.RandomDID()
		_, err = s.Put(ctx, other)
		require.NoError(t, err)

		var spaces []did.DID
		for entry, err := range s.ListSpaces(ctx, obj.Link) {
			require.NoError(t, err)
			spaces = append(spaces, entry.Space)
		}
		require.ElementsMatch(t, []did.DID{space, other.Space}, spaces)

		_, err = s.Get(ctx, space, testutil.RandomCID())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("upload", func(t *testing.T) {
		s := NewDynamoUploadStore(aws.Config{}, names.Upload, opts...)
		space := testutil.RandomDID()
		root := testutil.RandomCID()
		shards := testutil.RandomCIDs(3)
		start := time.Now().UTC().Truncate(time.Second)
		for i, shard := range shards {
			created, err := s.AddShard(ctx, space, root, shard, start.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
			require.Equal(t, i == 0, created)
		}
		// duplicate shard is a no-op
		created, err := s.AddShard(ctx, space, root, shards[0], start.Add(time.Hour))
		require.NoError(t, err)
		require.False(t, created)

		res, err := s.ListShards(ctx, space, root)
		require.NoError(t, err)
		require.ElementsMatch(t, testutil.LinkStrings(shards), testutil.LinkStrings(res))

		t.Run("concurrent first shards create the upload once", func(t *testing.T) {
			contested := testutil.RandomCID()
			var creations atomic.Int32
			var g errgroup.Group
			for range 16 {
				g.Go(func() error {
					created, err := s.AddShard(ctx, space, contested, testutil.RandomCID(), time.Now())
					if created {
						creations.Add(1)
					}
					return err
				})
			}
			require.NoError(t, g.Wait())
			require.Equal(t, int32(1), creations.Load())
		})

		var entries int
		for entry, err := range s.ListUploads(ctx, root) {
			require.NoError(t, err)
			require.Equal(t, space, entry.Space)
			require.True(t, entry.InsertedAt.Equal(start))
			entries++
		}
		require.Equal(t, 1, entries)

		res, err = s.ListShards(ctx, space, testutil.RandomCID())
		require.NoError(t, err)
		require.Empty(t, res)
	})

	t.Run("delegation", func(t *testing.T) {
		s := NewDynamoDelegationStore(aws.Config{}, names.Delegation, opts...)
		dlg := delegationstore.Delegation{
			Cause:      testutil.RandomCID(),
			Link:       testutil.RandomCID(),
			Audience:   testutil.RandomDID(),
			Issuer:     testutil.RandomDID(),
			Expiration: time.Now().Add(time.Hour).Unix(),
		}
		require.NoError(t, s.Put(ctx, dlg))

		first, err := s.Get(ctx, dlg.Link)
		require.NoError(t, err)
		require.Equal(t, dlg.Audience, first.Audience)

		dlg.Cause = testutil.RandomCID()
		require.NoError(t, s.Put(ctx, dlg))
		second, err := s.Get(ctx, dlg.Link)
		require.NoError(t, err)
		require.Equal(t, dlg.Cause.String(), second.Cause.String())
		require.Equal(t, first.InsertedAt, second.InsertedAt)

		forged := dlg
		forged.Issuer = testutil.RandomDID()
		require.ErrorIs(t, s.Put(ctx, forged), store.ErrCorruption)

		links, err := s.ListByAudience(ctx, dlg.Audience)
		require.NoError(t, err)
		require.Equal(t, []string{dlg.Link.String()}, testutil.LinkStrings(links))
	})

	t.Run("revocation", func(t *testing.T) {
		s := NewDynamoRevocationStore(aws.Config{}, names.Revocation, opts...)
		dlg := testutil.RandomCID()

		var eg errgroup.Group
		for range 5 {
			eg.Go(func() error {
				return s.Revoke(ctx, dlg, testutil.RandomCID(), testutil.RandomCID())
			})
		}
		require.NoError(t, eg.Wait())

		revs, err := s.List(ctx, dlg)
		require.NoError(t, err)
		require.Len(t, revs, 5)

		links := testutil.RandomCIDs(150)
		links = append(links, dlg)
		res, err := s.BatchIsRevoked(ctx, links)
		require.NoError(t, err)
		require.Len(t, res, len(links))
		for _, l := range links {
			require.Equal(t, l == dlg, res[l], l.String())
		}

		_, err = s.List(ctx, testutil.RandomCID())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("subscription", func(t *testing.T) {
		s := NewDynamoSubscriptionStore(aws.Config{}, names.Subscription, opts...)
		provider := testutil.RandomDID()
		customer := testutil.RandomDID()
		sub := subscriptionstore.Subscription{
			Subscription: "sub-" + testutil.RandomCID().String(),
			Provider:     provider,
			Customer:     customer,
			Cause:        testutil.RandomCID(),
		}
		require.NoError(t, s.Put(ctx, sub))
		require.NoError(t, s.Put(ctx, sub))

		rebind := sub
		rebind.Customer = testutil.RandomDID()
		require.True(t, store.IsConflict(s.Put(ctx, rebind), store.Rebind))

		res, err := s.Get(ctx, sub.Subscription, provider)
		require.NoError(t, err)
		require.Equal(t, customer, res.Customer)

		entries, err := s.ListByCustomer(ctx, customer, did.Undef)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, sub.Subscription, entries[0].Subscription)

		entries, err = s.ListByCustomer(ctx, customer, testutil.RandomDID())
		require.NoError(t, err)
		require.Empty(t, entries)

		customers, err := s.ListCustomers(ctx, provider)
		require.NoError(t, err)
		require.Equal(t, []did.DID{customer}, customers)
	})

	t.Run("consumer", func(t *testing.T) {
		s := NewDynamoConsumerStore(aws.Config{}, names.Consumer, opts...)
		provider := testutil.RandomDID()
		consumer := testutil.RandomDID()
		c := consumerstore.Consumer{
			Subscription: "sub-" + testutil.RandomCID().String(),
			Provider:     provider,
			Consumer:     consumer,
			Cause:        testutil.RandomCID(),
		}
		require.NoError(t, s.Put(ctx, c))

		rebind := c
		rebind.Consumer = testutil.RandomDID()
		require.True(t, store.IsConflict(s.Put(ctx, rebind), store.Rebind))

		require.NoError(t, s.Put(ctx, c))

		duplicate := c
		duplicate.Subscription = "sub-" + testutil.RandomCID().String()
		require.True(t, store.IsConflict(s.Put(ctx, duplicate), store.Duplicate))
		_, err := s.Get(ctx, duplicate.Subscription, provider)
		require.ErrorIs(t, err, store.ErrNotFound)

		res, err := s.Get(ctx, c.Subscription, provider)
		require.NoError(t, err)
		require.Equal(t, consumer, res.Consumer)
		require.Equal(t, did.Undef, res.Customer)

		entries, err := s.ListByConsumer(ctx, consumer)
		require.NoError(t, err)
		require.Equal(t, []consumerstore.ConsumerEntry{{Provider: provider, Subscription: c.Subscription}}, entries)

		consumers, err := s.ListConsumers(ctx, provider)
		require.NoError(t, err)
		require.Equal(t, []did.DID{consumer}, consumers)

		var all int
		for rec, err := range s.All(ctx) {
			require.NoError(t, err)
			require.Equal(t, c.Subscription, rec.Subscription)
			all++
		}
		require.Equal(t, 1, all)

		t.Run("concurrent attach under one provider", func(t *testing.T) {
			contested := testutil.RandomDID()
			var attached atomic.Int32
			var g errgroup.Group
			for i := range 8 {
				g.Go(func() error {
					err := s.Put(ctx, consumerstore.Consumer{
						Subscription: fmt.Sprintf("sub-%d-%s", i, contested),
						Provider:     provider,
						Consumer:     contested,
						Cause:        testutil.RandomCID(),
					})
					if err == nil {
						attached.Add(1)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			require.Equal(t, int32(1), attached.Load())

			entries, err := s.ListByConsumer(ctx, contested)
			require.NoError(t, err)
			require.Len(t, entries, 1)
		})
	})

	t.Run("rate limit", func(t *testing.T) {
		s := NewDynamoRateLimitStore(aws.Config{}, names.RateLimit, opts...)
		now := time.Now()
		s.clock = func() time.Time {
			now = now.Add(time.Second)
			return now
		}
		subject := testutil.RandomDID().String()

		_, err := s.CurrentLimit(ctx, subject)
		require.ErrorIs(t, err, store.ErrNotFound)

		first, err := s.Put(ctx, subject, 10, testutil.RandomCID())
		require.NoError(t, err)
		second, err := s.Put(ctx, subject, 0, testutil.RandomCID())
		require.NoError(t, err)

		current, err := s.CurrentLimit(ctx, subject)
		require.NoError(t, err)
		require.Equal(t, second, current.ID)
		require.True(t, current.Blocked())

		limits, err := s.List(ctx, subject)
		require.NoError(t, err)
		require.Len(t, limits, 2)
		require.Equal(t, second, limits[0].ID)
		require.Equal(t, first, limits[1].ID)

		rl, err := s.Get(ctx, first)
		require.NoError(t, err)
		require.Equal(t, float64(10), rl.Rate)

		_, err = s.Put(ctx, subject, -1, testutil.RandomCID())
		require.Error(t, err)
	})

	t.Run("metrics", func(t *testing.T) {
		s := NewDynamoMetricsStore(aws.Config{}, names.AdminMetrics, names.SpaceMetrics, opts...)
		space := testutil.RandomDID()
		sink := metrics.NewAggregateSink(s)

		var eg errgroup.Group
		for range 10 {
			eg.Go(func() error {
				return sink.Emit(ctx, metrics.StoreAdded(space, 100)...)
			})
		}
		require.NoError(t, eg.Wait())

		total, err := s.GetAdmin(ctx, metrics.StoreAddTotal)
		require.NoError(t, err)
		require.Equal(t, uint64(10), total)

		size, err := s.GetSpace(ctx, space, metrics.StoreAddSizeTotal)
		require.NoError(t, err)
		require.Equal(t, uint64(1000), size)

		counters, err := s.ListSpace(ctx, space)
		require.NoError(t, err)
		require.Equal(t, map[string]uint64{
			metrics.StoreAddTotal:     10,
			metrics.StoreAddSizeTotal: 1000,
		}, counters)

		missing, err := s.GetSpace(ctx, testutil.RandomDID(), metrics.UploadAddTotal)
		require.NoError(t, err)
		require.Zero(t, missing)
	})
}

func TestConstruct(t *testing.T) {
	endpoint := createDynamo(t)
	names := setupTables(t, endpoint)
	ctx := context.Background()

	svc, err := Construct(Config{
		Config:        aws.Config{},
		DynamoOptions: dynamoOptions(endpoint),
		Tables:        names,
	})
	require.NoError(t, err)

	space := testutil.RandomDID()
	err = svc.AddStoredObject(ctx, contentstore.StoredObject{
		Space:      space,
		Link:       testutil.RandomCID(),
		Size:       42,
		Issuer:     testutil.RandomDID(),
		Invocation: testutil.RandomCID(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx))

	size, err := svc.Metrics().GetSpace(ctx, space, metrics.StoreAddSizeTotal)
	require.NoError(t, err)
	require.Equal(t, uint64(42), size)
}
