package delegationstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/storacha/go-ucanto/core/ipld/codec/cbor"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/internal/timeutil"
	"github.com/storacha/upload-service/pkg/store"
	ddm "github.com/storacha/upload-service/pkg/store/delegationstore/datamodel"
)

const (
	recordNamespace   = "delegation"
	audienceNamespace = "delegation-audience"
)

// DsDelegationStore is a [DelegationStore] backed by an IPFS datastore.
type DsDelegationStore struct {
	mutex sync.Mutex
	data  datastore.Batching
}

var _ DelegationStore = (*DsDelegationStore)(nil)

// NewDsDelegationStore creates a [DelegationStore] backed by an IPFS datastore.
func NewDsDelegationStore(ds datastore.Batching) (*DsDelegationStore, error) {
	return &DsDelegationStore{data: ds}, nil
}

func (d *DsDelegationStore) Put(ctx context.Context, dlg Delegation) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := timeutil.Now()
	k := dskey.New(recordNamespace, dlg.Link.String())
	existing, err := d.get(ctx, k)
	switch {
	case err == nil:
		if reason := Diverges(existing, dlg); reason != "" {
			return store.NewCorruptionError(dlg.Link.String(), reason)
		}
		dlg.InsertedAt = existing.InsertedAt
	case errors.Is(err, store.ErrNotFound):
		dlg.InsertedAt = now
	default:
		return err
	}
	dlg.UpdatedAt = now

	b, err := encode(dlg)
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
	ak := dskey.New(audienceNamespace, dlg.Audience.String(), dlg.Link.String())
	if err := batch.Put(ctx, ak, []byte{}); err != nil {
		return fmt.Errorf("writing audience index: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (d *DsDelegationStore) Get(ctx context.Context, link ucan.Link) (Delegation, error) {
	return d.get(ctx, dskey.New(recordNamespace, link.String()))
}

func (d *DsDelegationStore) get(ctx context.Context, k datastore.Key) (Delegation, error) {
	b, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return Delegation{}, store.ErrNotFound
		}
		return Delegation{}, fmt.Errorf("getting from datastore: %w", err)
	}
	return decode(b)
}

func (d *DsDelegationStore) ListByAudience(ctx context.Context, audience did.DID) ([]ucan.Link, error) {
	results, err := d.data.Query(ctx, query.Query{
		Prefix:   dskey.Prefix(audienceNamespace, audience.String()),
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	var links []ucan.Link
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", res.Error)
		}
		s, err := dskey.Decode(datastore.RawKey(res.Key).BaseNamespace())
		if err != nil {
			return nil, err
		}
		link, err := linkutil.Parse(s)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

// Diverges compares the content derived fields of two records for the same
// delegation link and describes the first difference, or returns "" when
// they agree.
func Diverges(stored Delegation, incoming Delegation) string {
	var diffs []string
	if stored.Issuer != incoming.Issuer {
		diffs = append(diffs, fmt.Sprintf("issuer %s != %s", stored.Issuer, incoming.Issuer))
	}
	if stored.Audience != incoming.Audience {
		diffs = append(diffs, fmt.Sprintf("audience %s != %s", stored.Audience, incoming.Audience))
	}
	if stored.Expiration != incoming.Expiration {
		diffs = append(diffs, fmt.Sprintf("expiration %d != %d", stored.Expiration, incoming.Expiration))
	}
	return strings.Join(diffs, ", ")
}

func encode(dlg Delegation) ([]byte, error) {
	model := ddm.DelegationModel{
		Cause:      dlg.Cause,
		Link:       dlg.Link,
		Audience:   dlg.Audience.Bytes(),
		Issuer:     dlg.Issuer.Bytes(),
		Expiration: dlg.Expiration,
		InsertedAt: timeutil.Format(dlg.InsertedAt),
		UpdatedAt:  timeutil.Format(dlg.UpdatedAt),
	}
	b, err := cbor.Encode(&model, ddm.DelegationType())
	if err != nil {
		return nil, fmt.Errorf("encoding delegation: %w", err)
	}
	return b, nil
}

func decode(b []byte) (Delegation, error) {
	var model ddm.DelegationModel
	if err := cbor.Decode(b, &model, ddm.DelegationType()); err != nil {
		return Delegation{}, fmt.Errorf("decoding delegation: %w", err)
	}
	audience, err := did.Decode(model.Audience)
	if err != nil {
		return Delegation{}, fmt.Errorf("decoding audience DID: %w", err)
	}
	issuer, err := did.Decode(model.Issuer)
	if err != nil {
		return Delegation{}, fmt.Errorf("decoding issuer DID: %w", err)
	}
	insertedAt, err := timeutil.Parse(model.InsertedAt)
	if err != nil {
		return Delegation{}, err
	}
	updatedAt, err := timeutil.Parse(model.UpdatedAt)
	if err != nil {
		return Delegation{}, err
	}
	return Delegation{
		Cause:      model.Cause,
		Link:       model.Link,
		Audience:   audience,
		Issuer:     issuer,
		Expiration: model.Expiration,
		InsertedAt: insertedAt,
		UpdatedAt:  updatedAt,
	}, nil
}
