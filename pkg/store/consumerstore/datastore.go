package consumerstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/storacha/go-ucanto/core/ipld/codec/cbor"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	cdm "github.com/storacha/upload-service/pkg/store/consumerstore/datamodel"
)

const (
	recordNamespace   = "consumer"
	consumerNamespace = "consumer-consumer"
	providerNamespace = "consumer-provider"
)

// DsConsumerStore is a [ConsumerStore] backed by an IPFS datastore.
//
// Records live at /consumer/{provider}/{subscription}, indexed by
// /consumer-consumer/{consumer}/{provider}/{subscription} and
// /consumer-provider/{provider}/{consumer}/{subscription}.
type DsConsumerStore struct {
	mutex sync.Mutex
	data  datastore.Batching
}

var _ ConsumerStore = (*DsConsumerStore)(nil)

func NewDsConsumerStore(ds datastore.Batching) (*DsConsumerStore, error) {
	return &DsConsumerStore{data: ds}, nil
}

func (d *DsConsumerStore) Put(ctx context.Context, c Consumer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := timeutil.Now()
	k := dskey.New(recordNamespace, c.Provider.String(), c.Subscription)
	existing, err := d.get(ctx, k)
	switch {
	case err == nil:
		if existing.Consumer != c.Consumer {
			return store.NewConflictError(
				store.Rebind,
				c.Subscription,
				fmt.Sprintf("subscription at %s is consumed by %s", c.Provider, existing.Consumer),
			)
		}
		c.InsertedAt = existing.InsertedAt
	case errors.Is(err, store.ErrNotFound):
		c.InsertedAt = now
	default:
		return err
	}
	if err := d.checkDuplicate(ctx, c); err != nil {
		return err
	}
	c.UpdatedAt = now

	b, err := encode(c)
	if err != nil {
		return err
	}
	batch, err := d.data.Batch(ctx)
	if err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}
	if err := batch.Put(ctx, k, b); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	ck := dskey.New(consumerNamespace, c.Consumer.String(), c.Provider.String(), c.Subscription)
	if err := batch.Put(ctx, ck, []byte{}); err != nil {
		return fmt.Errorf("writing consumer index: %w", err)
	}
	pk := dskey.New(providerNamespace, c.Provider.String(), c.Consumer.String(), c.Subscription)
	if err := batch.Put(ctx, pk, []byte{}); err != nil {
		return fmt.Errorf("writing provider index: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// checkDuplicate fails if the consumer is attached to another subscription
// at the same provider. Callers must hold the mutex.
func (d *DsConsumerStore) checkDuplicate(ctx context.Context, c Consumer) error {
	segments, err := d.indexKeys(ctx, dskey.Prefix(consumerNamespace, c.Consumer.String(), c.Provider.String()))
	if err != nil {
		return err
	}
	for _, s := range segments {
		if s[1] != c.Subscription {
			return store.NewConflictError(
				store.Duplicate,
				c.Consumer.String(),
				fmt.Sprintf("already provisioned by %s under subscription %s", c.Provider, s[1]),
			)
		}
	}
	return nil
}

func (d *DsConsumerStore) Get(ctx context.Context, subscription string, provider did.DID) (Consumer, error) {
	return d.get(ctx, dskey.New(recordNamespace, provider.String(), subscription))
}

func (d *DsConsumerStore) get(ctx context.Context, k datastore.Key) (Consumer, error) {
	b, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return Consumer{}, store.ErrNotFound
		}
		return Consumer{}, fmt.Errorf("getting from datastore: %w", err)
	}
	return decode(b)
}

func (d *DsConsumerStore) ListByConsumer(ctx context.Context, consumer did.DID) ([]ConsumerEntry, error) {
	segments, err := d.indexKeys(ctx, dskey.Prefix(consumerNamespace, consumer.String()))
	if err != nil {
		return nil, err
	}
	entries := make([]ConsumerEntry, 0, len(segments))
	for _, s := range segments {
		provider, err := did.Parse(s[0])
		if err != nil {
			return nil, fmt.Errorf("parsing provider DID: %w", err)
		}
		entries = append(entries, ConsumerEntry{Provider: provider, Subscription: s[1]})
	}
	return entries, nil
}

func (d *DsConsumerStore) ListConsumers(ctx context.Context, provider did.DID) ([]did.DID, error) {
	segments, err := d.indexKeys(ctx, dskey.Prefix(providerNamespace, provider.String()))
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	consumers := []did.DID{}
	for _, s := range segments {
		if _, ok := seen[s[0]]; ok {
			continue
		}
		seen[s[0]] = struct{}{}
		consumer, err := did.Parse(s[0])
		if err != nil {
			return nil, fmt.Errorf("parsing consumer DID: %w", err)
		}
		consumers = append(consumers, consumer)
	}
	return consumers, nil
}

// indexKeys returns the decoded last two segments of every index key below
// prefix.
func (d *DsConsumerStore) indexKeys(ctx context.Context, prefix string) ([][2]string, error) {
	results, err := d.data.Query(ctx, query.Query{Prefix: prefix, KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	var out [][2]string
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", res.Error)
		}
		ns := datastore.RawKey(res.Key).Namespaces()
		if len(ns) != 4 {
			return nil, fmt.Errorf("malformed index key %q", res.Key)
		}
		first, err := dskey.Decode(ns[2])
		if err != nil {
			return nil, err
		}
		second, err := dskey.Decode(ns[3])
		if err != nil {
			return nil, err
		}
		out = append(out, [2]string{first, second})
	}
	return out, nil
}

func (d *DsConsumerStore) All(ctx context.Context) iter.Seq2[Consumer, error] {
	return func(yield func(Consumer, error) bool) {
		results, err := d.data.Query(ctx, query.Query{Prefix: "/" + recordNamespace + "/"})
		if err != nil {
			yield(Consumer{}, fmt.Errorf("querying datastore: %w", err))
			return
		}
		defer results.Close()

		for {
			res, ok := results.NextSync()
			if !ok {
				return
			}
			if res.Error != nil {
				yield(Consumer{}, fmt.Errorf("iterating query results: %w", res.Error))
				return
			}
			c, err := decode(res.Value)
			if !yield(c, err) || err != nil {
				return
			}
		}
	}
}

func encode(c Consumer) ([]byte, error) {
	model := cdm.ConsumerModel{
		Subscription: c.Subscription,
		Provider:     c.Provider.Bytes(),
		Consumer:     c.Consumer.Bytes(),
		Cause:        c.Cause,
		InsertedAt:   timeutil.Format(c.InsertedAt),
		UpdatedAt:    timeutil.Format(c.UpdatedAt),
	}
	if c.Customer != did.Undef {
		customer := c.Customer.Bytes()
		model.Customer = &customer
	}
	b, err := cbor.Encode(&model, cdm.ConsumerType())
	if err != nil {
		return nil, fmt.Errorf("encoding consumer: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Consumer, error) {
	var model cdm.ConsumerModel
	if err := cbor.Decode(b, &model, cdm.ConsumerType()); err != nil {
		return Consumer{}, fmt.Errorf("decoding consumer: %w", err)
	}
	provider, err := did.Decode(model.Provider)
	if err != nil {
		return Consumer{}, fmt.Errorf("decoding provider DID: %w", err)
	}
	consumer, err := did.Decode(model.Consumer)
	if err != nil {
		return Consumer{}, fmt.Errorf("decoding consumer DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(model.InsertedAt)
	if err != nil {
		return Consumer{}, err
	}
	updatedAt, err := timeutil.Parse(model.UpdatedAt)
	if err != nil {
		return Consumer{}, err
	}
	c := Consumer{
		Subscription: model.Subscription,
		Provider:     provider,
		Consumer:     consumer,
		Cause:        model.Cause,
		InsertedAt:   insertedAt,
		UpdatedAt:    updatedAt,
	}
	if model.Customer != nil {
		customer, err := did.Decode(*model.Customer)
		if err != nil {
			return Consumer{}, fmt.Errorf("decoding customer DID: %w", err)
		}
		c.Customer = customer
	}
	return c, nil
}
