package ratelimitstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/storacha/go-ucanto/core/ipld/codec/cbor"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	rdm "github.com/storacha/upload-service/pkg/store/ratelimitstore/datamodel"
)

const (
	recordNamespace  = "ratelimit"
	subjectNamespace = "ratelimit-subject"
)

// DsRateLimitStore is a [RateLimitStore] backed by an IPFS datastore. Limits
// are indexed by /ratelimit-subject/{subject}/{sort key}/{id} where the sort
// key is the zero padded insertion time, so key order is insertion order.
type DsRateLimitStore struct {
	mutex sync.Mutex
	data  datastore.Batching
	clock func() time.Time
}

var _ RateLimitStore = (*DsRateLimitStore)(nil)

func NewDsRateLimitStore(ds datastore.Batching, opts ...Option) (*DsRateLimitStore, error) {
	o := options{clock: timeutil.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &DsRateLimitStore{data: ds, clock: o.clock}, nil
}

func (d *DsRateLimitStore) Put(ctx context.Context, subject string, rate float64, cause ucan.Link) (string, error) {
	if rate < 0 {
		return "", fmt.Errorf("rate must not be negative: %v", rate)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	rl := RateLimit{
		ID:         uuid.NewString(),
		Subject:    subject,
		Rate:       rate,
		Cause:      cause,
		InsertedAt: d.clock().UTC(),
	}
	b, err := encode(rl)
	if err != nil {
		return "", err
	}
	batch, err := d.data.Batch(ctx)
	if err != nil {
		return "", fmt.Errorf("creating batch: %w", err)
	}
	if err := batch.Put(ctx, dskey.New(recordNamespace, rl.ID), b); err != nil {
		return "", fmt.Errorf("writing record: %w", err)
	}
	sk := dskey.New(subjectNamespace, subject).
		ChildString(timeutil.SortKey(rl.InsertedAt)).
		ChildString(rl.ID)
	if err := batch.Put(ctx, sk, []byte{}); err != nil {
		return "", fmt.Errorf("writing subject index: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing batch: %w", err)
	}
	return rl.ID, nil
}

func (d *DsRateLimitStore) Get(ctx context.Context, id string) (RateLimit, error) {
	b, err := d.data.Get(ctx, dskey.New(recordNamespace, id))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return RateLimit{}, store.ErrNotFound
		}
		return RateLimit{}, fmt.Errorf("getting from datastore: %w", err)
	}
	return decode(b)
}

func (d *DsRateLimitStore) CurrentLimit(ctx context.Context, subject string) (RateLimit, error) {
	ids, err := d.ids(ctx, subject, 1)
	if err != nil {
		return RateLimit{}, err
	}
	if len(ids) == 0 {
		return RateLimit{}, store.ErrNotFound
	}
	return d.Get(ctx, ids[0])
}

func (d *DsRateLimitStore) List(ctx context.Context, subject string) ([]RateLimit, error) {
	ids, err := d.ids(ctx, subject, 0)
	if err != nil {
		return nil, err
	}
	limits := make([]RateLimit, 0, len(ids))
	for _, id := range ids {
		rl, err := d.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("getting rate limit %s: %w", id, err)
		}
		limits = append(limits, rl)
	}
	return limits, nil
}

// ids returns the ids of the limits for subject, newest first. A limit of 0
// returns all of them.
func (d *DsRateLimitStore) ids(ctx context.Context, subject string, limit int) ([]string, error) {
	results, err := d.data.Query(ctx, query.Query{
		Prefix:   dskey.Prefix(subjectNamespace, subject),
		Orders:   []query.Order{query.OrderByKeyDescending{}},
		Limit:    limit,
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	var ids []string
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", res.Error)
		}
		ids = append(ids, datastore.RawKey(res.Key).BaseNamespace())
	}
	return ids, nil
}

func encode(rl RateLimit) ([]byte, error) {
	model := rdm.RateLimitModel{
		Id:         rl.ID,
		Subject:    rl.Subject,
		Rate:       rl.Rate,
		Cause:      rl.Cause,
		InsertedAt: timeutil.Format(rl.InsertedAt),
	}
	b, err := cbor.Encode(&model, rdm.RateLimitType())
	if err != nil {
		return nil, fmt.Errorf("encoding rate limit: %w", err)
	}
	return b, nil
}

func decode(b []byte) (RateLimit, error) {
	var model rdm.RateLimitModel
	if err := cbor.Decode(b, &model, rdm.RateLimitType()); err != nil {
		return RateLimit{}, fmt.Errorf("decoding rate limit: %w", err)
	}
	insertedAt, err := timeutil.Parse(model.InsertedAt)
	if err != nil {
		return RateLimit{}, err
	}
	return RateLimit{
		ID:         model.Id,
		Subject:    model.Subject,
		Rate:       model.Rate,
		Cause:      model.Cause,
		InsertedAt: insertedAt,
	}, nil
}
