package delegationstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-datastore"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/dskey"
	"github.com/storacha/upload-service/pkg/store"
)

const archiveNamespace = "delegation-archive"

type dsArchiveStore struct {
	data datastore.Datastore
}

func (d *dsArchiveStore) Put(ctx context.Context, dlg delegation.Delegation) error {
	data, err := io.ReadAll(dlg.Archive())
	if err != nil {
		return fmt.Errorf("archiving delegation: %w", err)
	}
	err = d.data.Put(ctx, dskey.New(archiveNamespace, dlg.Link().String()), data)
	if err != nil {
		return fmt.Errorf("writing to datastore: %w", err)
	}
	return nil
}

func (d *dsArchiveStore) Get(ctx context.Context, root ucan.Link) (delegation.Delegation, error) {
	data, err := d.data.Get(ctx, dskey.New(archiveNamespace, root.String()))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting from datastore: %w", err)
	}
	dlg, err := delegation.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("extracting delegation: %w", err)
	}
	return dlg, nil
}

// NewDsArchiveStore creates an [ArchiveStore] backed by an IPFS datastore.
func NewDsArchiveStore(ds datastore.Datastore) (ArchiveStore, error) {
	return &dsArchiveStore{ds}, nil
}
