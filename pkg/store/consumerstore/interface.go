package consumerstore

import (
	"context"
	"iter"
	"time"

	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"
)

// Consumer attaches a consumer (usually a space) to a subscription at a
// provider.
type Consumer struct {
	Subscription string
	Provider     did.DID
	Consumer     did.DID
	// Customer is the account paying for the subscription, [did.Undef] if it
	// was not recorded.
	Customer   did.DID
	Cause      ucan.Link
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// ConsumerEntry is a subscription a consumer is attached to.
type ConsumerEntry struct {
	Provider     did.DID
	Subscription string
}

// ConsumerStore is keyed by (subscription, provider). A subscription has at
// most one consumer.
type ConsumerStore interface {
	// Put attaches a consumer to a subscription. Writing it again for the same
	// consumer updates the cause. Writing it for a different consumer fails
	// with a [store.ConflictError] with code [store.Rebind]. A consumer holds
	// at most one subscription per provider: attaching it to a second one
	// fails with code [store.Duplicate]. Both checks are atomic with the write.
	Put(ctx context.Context, c Consumer) error
	// Get returns [store.ErrNotFound] if the subscription has no consumer.
	Get(ctx context.Context, subscription string, provider did.DID) (Consumer, error)
	// ListByConsumer returns every subscription a consumer is attached to.
	ListByConsumer(ctx context.Context, consumer did.DID) ([]ConsumerEntry, error)
	// ListConsumers returns the distinct consumers of a provider.
	ListConsumers(ctx context.Context, provider did.DID) ([]did.DID, error)
	// All lazily lists every consumer record.
	All(ctx context.Context) iter.Seq2[Consumer, error]
}
