package revocationstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/linkutil"
)

// Revocation is one reason a delegation was revoked.
type Revocation struct {
	// Scope is the revocation context: the delegation in whose authority the
	// revocation was issued.
	Scope ucan.Link
	// Cause is a link to the invocation that revoked the delegation.
	Cause ucan.Link
}

// RevocationStore tracks revoked delegations.
//
// All revocations of a delegation are packed into a single record keyed by
// the delegation link, so checking a whole chain of delegations is one
// batched primary key lookup.
type RevocationStore interface {
	// Revoke adds (scope, cause) to the revocations of delegation. It is a
	// set union: concurrent revocations are never lost and repeating one is a
	// no-op.
	Revoke(ctx context.Context, delegation ucan.Link, scope ucan.Link, cause ucan.Link) error
	// BatchIsRevoked reports, for every link, whether it has been revoked.
	// Lookups that fail are reported as revoked and the returned error wraps
	// [store.ErrUnavailable], so callers that ignore the error still fail
	// closed.
	BatchIsRevoked(ctx context.Context, links []ucan.Link) (map[ucan.Link]bool, error)
	// List returns the revocations recorded for a delegation, or
	// [store.ErrNotFound] when it was never revoked.
	List(ctx context.Context, delegation ucan.Link) ([]Revocation, error)
}

// Encode renders a revocation as a "scope:cause" string, the member format of
// the packed revocation set.
func Encode(r Revocation) string {
	return r.Scope.String() + ":" + r.Cause.String()
}

// Decode is the inverse of [Encode].
func Decode(s string) (Revocation, error) {
	scope, cause, ok := strings.Cut(s, ":")
	if !ok {
		return Revocation{}, fmt.Errorf("malformed revocation %q", s)
	}
	sl, err := linkutil.Parse(scope)
	if err != nil {
		return Revocation{}, fmt.Errorf("parsing scope: %w", err)
	}
	cl, err := linkutil.Parse(cause)
	if err != nil {
		return Revocation{}, fmt.Errorf("parsing cause: %w", err)
	}
	return Revocation{Scope: sl, Cause: cl}, nil
}

// Unique removes duplicate links, preserving order.
func Unique(links []ucan.Link) []ucan.Link {
	seen := make(map[string]struct{}, len(links))
	out := make([]ucan.Link, 0, len(links))
	for _, l := range links {
		if _, ok := seen[l.String()]; ok {
			continue
		}
		seen[l.String()] = struct{}{}
		out = append(out, l)
	}
	return out
}
