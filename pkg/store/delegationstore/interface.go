package delegationstore

import (
	"context"
	"math"
	"time"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"
)

// NoExpiration is the expiration recorded for delegations that never expire.
const NoExpiration int64 = math.MaxInt64

// Delegation is the index record of a capability grant.
type Delegation struct {
	// Cause is a link to the invocation that carried the delegation.
	Cause ucan.Link
	// Link is the content hash of the delegation itself.
	Link     ucan.Link
	Audience did.DID
	Issuer   did.DID
	// Expiration in seconds since the unix epoch.
	Expiration int64
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// IsExpired reports whether the delegation is no longer valid at now.
func IsExpired(d Delegation, now time.Time) bool {
	return d.Expiration <= now.Unix()
}

// FromDelegation builds an index record from a verified delegation.
func FromDelegation(cause ucan.Link, dlg delegation.Delegation) Delegation {
	exp := NoExpiration
	if e := dlg.Expiration(); e != nil {
		exp = int64(*e)
	}
	return Delegation{
		Cause:      cause,
		Link:       dlg.Link(),
		Audience:   dlg.Audience().DID(),
		Issuer:     dlg.Issuer().DID(),
		Expiration: exp,
	}
}

// DelegationStore indexes delegations by link and by audience.
type DelegationStore interface {
	// Put records a delegation. Recording the same delegation again
	// supersedes the cause and update time of the existing record. A record
	// whose issuer, audience or expiration differs from the one already stored
	// under the same link is a [store.CorruptionError].
	Put(context.Context, Delegation) error
	// Get retrieves a delegation record by it's link.
	Get(context.Context, ucan.Link) (Delegation, error)
	// ListByAudience lists the links of delegations issued to audience.
	ListByAudience(ctx context.Context, audience did.DID) ([]ucan.Link, error)
}

// ArchiveStore stores UCAN delegations.
type ArchiveStore interface {
	// Get retrieves a delegation by it's root CID.
	Get(context.Context, ucan.Link) (delegation.Delegation, error)
	// Put adds or replaces a delegation in the store.
	Put(context.Context, delegation.Delegation) error
}
