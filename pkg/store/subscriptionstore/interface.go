package subscriptionstore

import (
	"context"
	"time"

	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"
)

// Subscription binds an opaque subscription identifier at a provider to the
// customer paying for it.
type Subscription struct {
	Subscription string
	Provider     did.DID
	Customer     did.DID
	// Cause is a link to the invocation that created the subscription.
	Cause      ucan.Link
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// CustomerEntry is a subscription held by a customer.
type CustomerEntry struct {
	Provider     did.DID
	Subscription string
	Cause        ucan.Link
}

// SubscriptionStore is keyed by (subscription, provider). Each key belongs to
// exactly one customer for its whole lifetime.
type SubscriptionStore interface {
	// Put creates a subscription. Writing it again for the same customer
	// updates the cause. Writing it for a different customer fails with a
	// [store.ConflictError] with code [store.Rebind].
	Put(ctx context.Context, sub Subscription) error
	// Get returns [store.ErrNotFound] if the subscription does not exist.
	Get(ctx context.Context, subscription string, provider did.DID) (Subscription, error)
	// ListByCustomer returns the subscriptions of a customer. Pass [did.Undef]
	// as the provider to list subscriptions at every provider.
	ListByCustomer(ctx context.Context, customer did.DID, provider did.DID) ([]CustomerEntry, error)
	// ListCustomers returns the distinct customers of a provider.
	ListCustomers(ctx context.Context, provider did.DID) ([]did.DID, error)
}
