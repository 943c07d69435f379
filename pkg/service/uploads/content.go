package uploads

import (
	"context"
	"errors"
	"fmt"

	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/pkg/metrics"
	"github.com/storacha/upload-service/pkg/store/contentstore"
)

// AddStoredObject records that obj is stored in its space. Usage is only
// counted by the write that first records the object.
func (s *UploadService) AddStoredObject(ctx context.Context, obj contentstore.StoredObject) error {
	created, err := s.content.Put(ctx, obj)
	if err != nil {
		return fmt.Errorf("putting stored object: %w", err)
	}
	if created {
		s.emit(ctx, metrics.StoreAdded(obj.Space, obj.Size)...)
	}
	return nil
}

// AddUpload records shards as backing the upload of root in space. The upload
// is counted once per space, by the call whose shard created it.
func (s *UploadService) AddUpload(ctx context.Context, space did.DID, root ucan.Link, shards []ucan.Link, cause ucan.Link) error {
	if len(shards) == 0 {
		return errors.New("an upload needs at least one shard")
	}
	now := s.clock()
	created := false
	for _, shard := range shards {
		first, err := s.uploads.AddShard(ctx, space, root, shard, now)
		if err != nil {
			return fmt.Errorf("adding shard %s: %w", shard, err)
		}
		created = created || first
	}
	log.Debugw("upload added", "space", space.String(), "root", root.String(), "shards", len(shards), "cause", cause.String())
	if created {
		s.emit(ctx, metrics.UploadAdded(space)...)
	}
	return nil
}
