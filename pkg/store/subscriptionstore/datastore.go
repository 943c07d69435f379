package subscriptionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/storacha/go-ucanto/core/ipld/codec/cbor"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	sdm "github.com/storacha/upload-service/pkg/store/subscriptionstore/datamodel"
)

const (
	recordNamespace   = "subscription"
	customerNamespace = "subscription-customer"
	providerNamespace = "subscription-provider"
)

// DsSubscriptionStore is a [SubscriptionStore] backed by an IPFS datastore.
//
// Records live at /subscription/{provider}/{subscription}. Two index keys are
// written alongside them:
//
//	/subscription-customer/{customer}/{provider}/{subscription} -> cause
//	/subscription-provider/{provider}/{customer}/{subscription}
type DsSubscriptionStore struct {
	mutex sync.Mutex
	data  datastore.Batching
}

var _ SubscriptionStore = (*DsSubscriptionStore)(nil)

func NewDsSubscriptionStore(ds datastore.Batching) (*DsSubscriptionStore, error) {
	return &DsSubscriptionStore{data: ds}, nil
}

func (d *DsSubscriptionStore) Put(ctx context.Context, sub Subscription) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := timeutil.Now()
	k := dskey.New(recordNamespace, sub.Provider.String(), sub.Subscription)
	existing, err := d.get(ctx, k)
	switch {
	case err == nil:
		if existing.Customer != sub.Customer {
			return store.NewConflictError(
				store.Rebind,
				sub.Subscription,
				fmt.Sprintf("subscription at %s belongs to %s", sub.Provider, existing.Customer),
			)
		}
		sub.InsertedAt = existing.InsertedAt
	case errors.Is(err, store.ErrNotFound):
		sub.InsertedAt = now
	default:
		return err
	}
	sub.UpdatedAt = now

	b, err := encode(sub)
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
	ck := dskey.New(customerNamespace, sub.Customer.String(), sub.Provider.String(), sub.Subscription)
	if err := batch.Put(ctx, ck, []byte(sub.Cause.String())); err != nil {
		return fmt.Errorf("writing customer index: %w", err)
	}
	pk := dskey.New(providerNamespace, sub.Provider.String(), sub.Customer.String(), sub.Subscription)
	if err := batch.Put(ctx, pk, []byte{}); err != nil {
		return fmt.Errorf("writing provider index: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (d *DsSubscriptionStore) Get(ctx context.Context, subscription string, provider did.DID) (Subscription, error) {
	return d.get(ctx, dskey.New(recordNamespace, provider.String(), subscription))
}

func (d *DsSubscriptionStore) get(ctx context.Context, k datastore.Key) (Subscription, error) {
	b, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return Subscription{}, store.ErrNotFound
		}
		return Subscription{}, fmt.Errorf("getting from datastore: %w", err)
	}
	return decode(b)
}

func (d *DsSubscriptionStore) ListByCustomer(ctx context.Context, customer did.DID, provider did.DID) ([]CustomerEntry, error) {
	prefix := dskey.Prefix(customerNamespace, customer.String())
	if provider != did.Undef {
		prefix = dskey.Prefix(customerNamespace, customer.String(), provider.String())
	}
	results, err := d.data.Query(ctx, query.Query{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	entries := []CustomerEntry{}
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", res.Error)
		}
		// /subscription-customer/{customer}/{provider}/{subscription}
		segments := datastore.RawKey(res.Key).Namespaces()
		if len(segments) != 4 {
			return nil, fmt.Errorf("malformed customer index key %q", res.Key)
		}
		p, err := dskey.Decode(segments[2])
		if err != nil {
			return nil, err
		}
		prov, err := did.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parsing provider DID: %w", err)
		}
		subscription, err := dskey.Decode(segments[3])
		if err != nil {
			return nil, err
		}
		cause, err := linkutil.Parse(string(res.Value))
		if err != nil {
			return nil, err
		}
		entries = append(entries, CustomerEntry{Provider: prov, Subscription: subscription, Cause: cause})
	}
	return entries, nil
}

func (d *DsSubscriptionStore) ListCustomers(ctx context.Context, provider did.DID) ([]did.DID, error) {
	results, err := d.data.Query(ctx, query.Query{
		Prefix:   dskey.Prefix(providerNamespace, provider.String()),
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	seen := map[string]struct{}{}
	customers := []did.DID{}
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", res.Error)
		}
		segments := datastore.RawKey(res.Key).Namespaces()
		if len(segments) != 4 {
			return nil, fmt.Errorf("malformed provider index key %q", res.Key)
		}
		if _, ok := seen[segments[2]]; ok {
			continue
		}
		seen[segments[2]] = struct{}{}
		c, err := dskey.Decode(segments[2])
		if err != nil {
			return nil, err
		}
		customer, err := did.Parse(c)
		if err != nil {
			return nil, fmt.Errorf("parsing customer DID: %w", err)
		}
		customers = append(customers, customer)
	}
	return customers, nil
}

func encode(sub Subscription) ([]byte, error) {
	model := sdm.SubscriptionModel{
		Subscription: sub.Subscription,
		Provider:     sub.Provider.Bytes(),
		Customer:     sub.Customer.Bytes(),
		Cause:        sub.Cause,
		InsertedAt:   timeutil.Format(sub.InsertedAt),
		UpdatedAt:    timeutil.Format(sub.UpdatedAt),
	}
	b, err := cbor.Encode(&model, sdm.SubscriptionType())
	if err != nil {
		return nil, fmt.Errorf("encoding subscription: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Subscription, error) {
	var model sdm.SubscriptionModel
	if err := cbor.Decode(b, &model, sdm.SubscriptionType()); err != nil {
		return Subscription{}, fmt.Errorf("decoding subscription: %w", err)
	}
	provider, err := did.Decode(model.Provider)
	if err != nil {
		return Subscription{}, fmt.Errorf("decoding provider DID: %w", err)
	}
	customer, err := did.Decode(model.Customer)
	if err != nil {
		return Subscription{}, fmt.Errorf("decoding customer DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(model.InsertedAt)
	if err != nil {
		return Subscription{}, err
	}
	updatedAt, err := timeutil.Parse(model.UpdatedAt)
	if err != nil {
		return Subscription{}, err
	}
	return Subscription{
		Subscription: model.Subscription,
		Provider:     provider,
		Customer:     customer,
		Cause:        model.Cause,
		InsertedAt:   insertedAt,
		UpdatedAt:    updatedAt,
	}, nil
}
