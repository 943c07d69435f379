package metricsstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/upload-service/internal/dskey"
)

const (
	adminNamespace = "metrics-admin"
	spaceNamespace = "metrics-space"
)

// DsMetricsStore is a [MetricsStore] backed by an IPFS datastore. Counter
// values are stored as decimal strings.
type DsMetricsStore struct {
	mutex sync.Mutex
	data  datastore.Datastore
}

var _ MetricsStore = (*DsMetricsStore)(nil)

func NewDsMetricsStore(ds datastore.Datastore) (*DsMetricsStore, error) {
	return &DsMetricsStore{data: ds}, nil
}

func (d *DsMetricsStore) IncrementAdmin(ctx context.Context, name string, delta uint64) error {
	return d.increment(ctx, dskey.New(adminNamespace, name), delta)
}

func (d *DsMetricsStore) IncrementSpace(ctx context.Context, space did.DID, name string, delta uint64) error {
	return d.increment(ctx, dskey.New(spaceNamespace, space.String(), name), delta)
}

func (d *DsMetricsStore) GetAdmin(ctx context.Context, name string) (uint64, error) {
	return d.get(ctx, dskey.New(adminNamespace, name))
}

func (d *DsMetricsStore) GetSpace(ctx context.Context, space did.DID, name string) (uint64, error) {
	return d.get(ctx, dskey.New(spaceNamespace, space.String(), name))
}

func (d *DsMetricsStore) ListSpace(ctx context.Context, space did.DID) (map[string]uint64, error) {
	results, err := d.data.Query(ctx, query.Query{Prefix: dskey.Prefix(spaceNamespace, space.String())})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	counters := map[string]uint64{}
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", res.Error)
		}
		name, err := dskey.Decode(datastore.RawKey(res.Key).BaseNamespace())
		if err != nil {
			return nil, err
		}
		v, err := parse(res.Value)
		if err != nil {
			return nil, err
		}
		counters[name] = v
	}
	return counters, nil
}

func (d *DsMetricsStore) increment(ctx context.Context, k datastore.Key, delta uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	v, err := d.get(ctx, k)
	if err != nil {
		return err
	}
	if err := d.data.Put(ctx, k, []byte(strconv.FormatUint(v+delta, 10))); err != nil {
		return fmt.Errorf("writing counter: %w", err)
	}
	return nil
}

func (d *DsMetricsStore) get(ctx context.Context, k datastore.Key) (uint64, error) {
	b, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting from datastore: %w", err)
	}
	return parse(b)
}

func parse(b []byte) (uint64, error) {
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing counter: %w", err)
	}
	return v, nil
}
