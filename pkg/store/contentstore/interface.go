package contentstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"
)

// StoredObject records that a content addressed object was stored in a space.
type StoredObject struct {
	// Space is the DID of the space the object was stored in.
	Space did.DID
	// Link is the content hash of the stored object.
	Link ucan.Link
	// Size of the object in bytes.
	Size uint64
	// Origin is the previous shard in a chain of shards, nil if there is none.
	Origin ucan.Link
	// Issuer is the DID of the agent that stored the object.
	Issuer did.DID
	// Invocation is a link to the UCAN invocation that authorized the write.
	Invocation ucan.Link
	// InsertedAt is set by the store on first write when zero.
	InsertedAt time.Time
}

// SpaceEntry is a space holding a given object.
type SpaceEntry struct {
	Space      did.DID
	InsertedAt time.Time
}

// MaxSize is the largest object size that can be recorded.
const MaxSize uint64 = math.MaxInt64

// ErrSizeTooLarge is returned when recording an object larger than [MaxSize].
var ErrSizeTooLarge = errors.New("object size too large")

// CheckSize returns [ErrSizeTooLarge] if size cannot be recorded.
func CheckSize(size uint64) error {
	if size > MaxSize {
		return fmt.Errorf("%w: %d exceeds %d", ErrSizeTooLarge, size, MaxSize)
	}
	return nil
}

// ContentStore indexes stored objects by (space, link) and by link alone.
type ContentStore interface {
	// Put records a stored object and reports whether it was new. Repeating
	// the same write is a no-op that reports false. If the object is already
	// recorded in the space with a different size a [store.ConflictError] is
	// returned.
	Put(context.Context, StoredObject) (bool, error)
	// Get retrieves the record for the object in the given space.
	Get(ctx context.Context, space did.DID, link ucan.Link) (StoredObject, error)
	// ListSpaces lazily lists the spaces holding the object.
	ListSpaces(ctx context.Context, link ucan.Link) iter.Seq2[SpaceEntry, error]
}
