package revocationstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/core/ipld/codec/cbor"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/pkg/store"
	rdm "github.com/storacha/upload-service/pkg/store/revocationstore/datamodel"
)

var log = logging.Logger("revocationstore")

const recordNamespace = "revocation"

// DsRevocationStore is a [RevocationStore] backed by an IPFS datastore. The
// set union in Revoke is a read-modify-write under a mutex, so the datastore
// must not be written by anything else.
type DsRevocationStore struct {
	mutex sync.Mutex
	data  datastore.Datastore
}

var _ RevocationStore = (*DsRevocationStore)(nil)

func NewDsRevocationStore(ds datastore.Datastore) (*DsRevocationStore, error) {
	return &DsRevocationStore{data: ds}, nil
}

func (d *DsRevocationStore) Revoke(ctx context.Context, delegation ucan.Link, scope ucan.Link, cause ucan.Link) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	k := dskey.New(recordNamespace, delegation.String())
	revocations, err := d.list(ctx, k)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	rev := Revocation{Scope: scope, Cause: cause}
	for _, r := range revocations {
		if Encode(r) == Encode(rev) {
			return nil
		}
	}
	revocations = append(revocations, rev)

	b, err := encode(revocations)
	if err != nil {
		return err
	}
	if err := d.data.Put(ctx, k, b); err != nil {
		return fmt.Errorf("writing to datastore: %w", err)
	}
	return nil
}

func (d *DsRevocationStore) BatchIsRevoked(ctx context.Context, links []ucan.Link) (map[ucan.Link]bool, error) {
	byString := make(map[string]bool, len(links))
	var errs []error
	for _, l := range Unique(links) {
		has, err := d.data.Has(ctx, dskey.New(recordNamespace, l.String()))
		if err != nil {
			log.Warnw("revocation lookup failed, assuming revoked", "delegation", l.String(), "error", err)
			errs = append(errs, fmt.Errorf("checking %s: %w", l, err))
			has = true
		}
		byString[l.String()] = has
	}
	revoked := make(map[ucan.Link]bool, len(links))
	for _, l := range links {
		revoked[l] = byString[l.String()]
	}
	if len(errs) > 0 {
		return revoked, fmt.Errorf("%w: %w", store.ErrUnavailable, errors.Join(errs...))
	}
	return revoked, nil
}

func (d *DsRevocationStore) List(ctx context.Context, delegation ucan.Link) ([]Revocation, error) {
	return d.list(ctx, dskey.New(recordNamespace, delegation.String()))
}

func (d *DsRevocationStore) list(ctx context.Context, k datastore.Key) ([]Revocation, error) {
	b, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting from datastore: %w", err)
	}
	return decode(b)
}

func encode(revocations []Revocation) ([]byte, error) {
	model := rdm.RevocationsModel{}
	for _, r := range revocations {
		model.Revocations = append(model.Revocations, rdm.RevocationModel{Scope: r.Scope, Cause: r.Cause})
	}
	b, err := cbor.Encode(&model, rdm.RevocationsType())
	if err != nil {
		return nil, fmt.Errorf("encoding revocations: %w", err)
	}
	return b, nil
}

func decode(b []byte) ([]Revocation, error) {
	var model rdm.RevocationsModel
	if err := cbor.Decode(b, &model, rdm.RevocationsType()); err != nil {
		return nil, fmt.Errorf("decoding revocations: %w", err)
	}
	revocations := make([]Revocation, 0, len(model.Revocations))
	for _, r := range model.Revocations {
		revocations = append(revocations, Revocation{Scope: r.Scope, Cause: r.Cause})
	}
	return revocations, nil
}
