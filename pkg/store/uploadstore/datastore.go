package uploadstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
)

const (
	shardNamespace = "upload"
	rootNamespace  = "upload-root"
)

// DsUploadStore is an [UploadStore] backed by an IPFS datastore.
//
// Shards live under /upload/{space}/{root}/{shard}. The first shard of an
// upload in a space also writes /upload-root/{root}/{space}, so listing the
// spaces of a root yields one entry per space carrying the earliest insertion
// time.
type DsUploadStore struct {
	mutex sync.Mutex
	data  datastore.Batching
}

var _ UploadStore = (*DsUploadStore)(nil)

func NewDsUploadStore(ds datastore.Batching) (*DsUploadStore, error) {
	return &DsUploadStore{data: ds}, nil
}

func (d *DsUploadStore) AddShard(ctx context.Context, space did.DID, root ucan.Link, shard ucan.Link, insertedAt time.Time) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if insertedAt.IsZero() {
		insertedAt = timeutil.Now()
	}
	ts := []byte(timeutil.Format(insertedAt))

	sk := dskey.New(shardNamespace, space.String(), root.String(), shard.String())
	exists, err := d.data.Has(ctx, sk)
	if err != nil {
		return false, fmt.Errorf("checking shard: %w", err)
	}
	if exists {
		return false, nil
	}

	batch, err := d.data.Batch(ctx)
	if err != nil {
		return false, fmt.Errorf("creating batch: %w", err)
	}
	if err := batch.Put(ctx, sk, ts); err != nil {
		return false, fmt.Errorf("writing shard: %w", err)
	}

	rk := dskey.New(rootNamespace, root.String(), space.String())
	created := false
	prev, err := d.data.Get(ctx, rk)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		if err := batch.Put(ctx, rk, ts); err != nil {
			return false, fmt.Errorf("writing root index: %w", err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("reading root index: %w", err)
	default:
		// keep the earliest insertion time for the space
		prevAt, err := timeutil.Parse(string(prev))
		if err != nil {
			return false, err
		}
		if insertedAt.Before(prevAt) {
			if err := batch.Put(ctx, rk, ts); err != nil {
				return false, fmt.Errorf("writing root index: %w", err)
			}
		}
	}

	if err := batch.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing batch: %w", err)
	}
	return created, nil
}

func (d *DsUploadStore) ListShards(ctx context.Context, space did.DID, root ucan.Link) ([]ucan.Link, error) {
	results, err := d.data.Query(ctx, query.Query{
		Prefix:   dskey.Prefix(shardNamespace, space.String(), root.String()),
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	shards := []ucan.Link{}
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", res.Error)
		}
		s, err := dskey.Decode(datastore.RawKey(res.Key).BaseNamespace())
		if err != nil {
			return nil, err
		}
		shard, err := linkutil.Parse(s)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	return shards, nil
}

func (d *DsUploadStore) ListUploads(ctx context.Context, root ucan.Link) iter.Seq2[UploadEntry, error] {
	return func(yield func(UploadEntry, error) bool) {
		results, err := d.data.Query(ctx, query.Query{Prefix: dskey.Prefix(rootNamespace, root.String())})
		if err != nil {
			yield(UploadEntry{}, fmt.Errorf("querying datastore: %w", err))
			return
		}
		defer results.Close()

		for {
			res, ok := results.NextSync()
			if !ok {
				return
			}
			if res.Error != nil {
				yield(UploadEntry{}, fmt.Errorf("iterating query results: %w", res.Error))
				return
			}
			entry, err := decodeUploadEntry(res.Entry)
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

func decodeUploadEntry(e query.Entry) (UploadEntry, error) {
	s, err := dskey.Decode(datastore.RawKey(e.Key).BaseNamespace())
	if err != nil {
		return UploadEntry{}, err
	}
	space, err := did.Parse(s)
	if err != nil {
		return UploadEntry{}, fmt.Errorf("parsing space DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(string(e.Value))
	if err != nil {
		return UploadEntry{}, err
	}
	return UploadEntry{Space: space, InsertedAt: insertedAt}, nil
}
