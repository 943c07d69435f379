package uploadstore

import (
	"context"
	"iter"
	"time"

	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"
)

// UploadEntry is a space holding an upload with a given root.
type UploadEntry struct {
	Space did.DID
	// InsertedAt is the time the first shard of the upload was added to the
	// space.
	InsertedAt time.Time
}

// UploadStore maps (space, root) to the shards backing an upload. An upload
// exists once at least one shard has been added for its root.
type UploadStore interface {
	// AddShard records that shard backs the upload identified by root in
	// space. Adding the same shard twice is a no-op. It reports true only for
	// the call that created the upload in space, even under concurrent adds.
	AddShard(ctx context.Context, space did.DID, root ucan.Link, shard ucan.Link, insertedAt time.Time) (bool, error)
	// ListShards returns the distinct shards of an upload. The result is empty
	// if the upload does not exist.
	ListShards(ctx context.Context, space did.DID, root ucan.Link) ([]ucan.Link, error)
	// ListUploads lazily lists the spaces holding an upload with the given root.
	ListUploads(ctx context.Context, root ucan.Link) iter.Seq2[UploadEntry, error]
}
