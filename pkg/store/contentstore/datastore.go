package contentstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/ipld/go-ipld-prime"
	"github.com/storacha/go-ucanto/core/ipld/codec/cbor"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	cdm "github.com/storacha/upload-service/pkg/store/contentstore/datamodel"
)

const (
	recordNamespace = "content"
	spaceNamespace  = "content-space"
)

// DsContentStore is a [ContentStore] backed by an IPFS datastore. Writes are
// serialized, so the datastore must not be shared with another instance.
type DsContentStore struct {
	mutex sync.Mutex
	data  datastore.Batching
}

var _ ContentStore = (*DsContentStore)(nil)

// NewDsContentStore creates a [ContentStore] backed by an IPFS datastore.
func NewDsContentStore(ds datastore.Batching) (*DsContentStore, error) {
	return &DsContentStore{data: ds}, nil
}

func (d *DsContentStore) Put(ctx context.Context, obj StoredObject) (bool, error) {
	if err := CheckSize(obj.Size); err != nil {
		return false, err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	k := recordKey(obj.Space, obj.Link)
	existing, err := d.get(ctx, k)
	if err == nil {
		if existing.Size != obj.Size {
			return false, store.NewConflictError(
				store.ContentMismatch,
				k.String(),
				fmt.Sprintf("stored with size %d, got %d", existing.Size, obj.Size),
			)
		}
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	if obj.InsertedAt.IsZero() {
		obj.InsertedAt = timeutil.Now()
	}
	b, err := encode(obj)
	if err != nil {
		return false, err
	}

	batch, err := d.data.Batch(ctx)
	if err != nil {
		return false, fmt.Errorf("creating batch: %w", err)
	}
	if err := batch.Put(ctx, k, b); err != nil {
		return false, fmt.Errorf("writing record: %w", err)
	}
	insertedAt := []byte(timeutil.Format(obj.InsertedAt))
	if err := batch.Put(ctx, spaceKey(obj.Link, obj.Space), insertedAt); err != nil {
		return false, fmt.Errorf("writing space index: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing batch: %w", err)
	}
	return true, nil
}

func (d *DsContentStore) Get(ctx context.Context, space did.DID, link ucan.Link) (StoredObject, error) {
	return d.get(ctx, recordKey(space, link))
}

func (d *DsContentStore) get(ctx context.Context, k datastore.Key) (StoredObject, error) {
	b, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return StoredObject{}, store.ErrNotFound
		}
		return StoredObject{}, fmt.Errorf("getting from datastore: %w", err)
	}
	return decode(b)
}

func (d *DsContentStore) ListSpaces(ctx context.Context, link ucan.Link) iter.Seq2[SpaceEntry, error] {
	return func(yield func(SpaceEntry, error) bool) {
		results, err := d.data.Query(ctx, query.Query{Prefix: dskey.Prefix(spaceNamespace, link.String())})
		if err != nil {
			yield(SpaceEntry{}, fmt.Errorf("querying datastore: %w", err))
			return
		}
		defer results.Close()

		for {
			res, ok := results.NextSync()
			if !ok {
				return
			}
			if res.Error != nil {
				yield(SpaceEntry{}, fmt.Errorf("iterating query results: %w", res.Error))
				return
			}
			entry, err := decodeSpaceEntry(res.Entry)
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

func recordKey(space did.DID, link ucan.Link) datastore.Key {
	return dskey.New(recordNamespace, space.String(), link.String())
}

func spaceKey(link ucan.Link, space did.DID) datastore.Key {
	return dskey.New(spaceNamespace, link.String(), space.String())
}

func decodeSpaceEntry(e query.Entry) (SpaceEntry, error) {
	s, err := dskey.Decode(datastore.RawKey(e.Key).BaseNamespace())
	if err != nil {
		return SpaceEntry{}, err
	}
	space, err := did.Parse(s)
	if err != nil {
		return SpaceEntry{}, fmt.Errorf("parsing space DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(string(e.Value))
	if err != nil {
		return SpaceEntry{}, err
	}
	return SpaceEntry{Space: space, InsertedAt: insertedAt}, nil
}

func encode(obj StoredObject) ([]byte, error) {
	model := cdm.StoredObjectModel{
		Space:      obj.Space.Bytes(),
		Link:       obj.Link,
		Size:       int64(obj.Size),
		Issuer:     obj.Issuer.Bytes(),
		Invocation: obj.Invocation,
		InsertedAt: timeutil.Format(obj.InsertedAt),
	}
	if obj.Origin != nil {
		origin := ipld.Link(obj.Origin)
		model.Origin = &origin
	}
	b, err := cbor.Encode(&model, cdm.StoredObjectType())
	if err != nil {
		return nil, fmt.Errorf("encoding stored object: %w", err)
	}
	return b, nil
}

func decode(b []byte) (StoredObject, error) {
	var model cdm.StoredObjectModel
	if err := cbor.Decode(b, &model, cdm.StoredObjectType()); err != nil {
		return StoredObject{}, fmt.Errorf("decoding stored object: %w", err)
	}
	space, err := did.Decode(model.Space)
	if err != nil {
		return StoredObject{}, fmt.Errorf("decoding space DID: %w", err)
	}
	issuer, err := did.Decode(model.Issuer)
	if err != nil {
		return StoredObject{}, fmt.Errorf("decoding issuer DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(model.InsertedAt)
	if err != nil {
		return StoredObject{}, err
	}
	obj := StoredObject{
		Space:      space,
		Link:       model.Link,
		Size:       uint64(model.Size),
		Issuer:     issuer,
		Invocation: model.Invocation,
		InsertedAt: insertedAt,
	}
	if model.Origin != nil {
		obj.Origin = *model.Origin
	}
	return obj, nil
}
