// Package authz checks that a chain of already verified delegations is still
// in force.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
	"github.com/storacha/upload-service/pkg/store/revocationstore"
)

var log = logging.Logger("authz")

var (
	ErrExpired = errors.New("delegation expired")
	ErrRevoked = errors.New("delegation revoked")
)

// ChainError identifies the delegation that invalidates a chain.
type ChainError struct {
	Link ucan.Link
	err  error
}

func (ce ChainError) Error() string {
	return fmt.Sprintf("%s: %s", ce.err, ce.Link)
}

func (ce ChainError) Unwrap() error {
	return ce.err
}

// CheckChain returns nil only if no delegation in chain has expired and every
// one of them is confirmed not revoked. Revocation status for the whole chain
// is fetched in a single batch. If the store cannot answer for every link the
// chain is rejected with an error wrapping [store.ErrUnavailable].
func CheckChain(ctx context.Context, revocations revocationstore.RevocationStore, chain []delegationstore.Delegation, now time.Time) error {
	links := make([]ucan.Link, 0, len(chain))
	for _, d := range chain {
		if delegationstore.IsExpired(d, now) {
			return ChainError{Link: d.Link, err: ErrExpired}
		}
		links = append(links, d.Link)
	}
	if len(links) == 0 {
		return nil
	}

	revoked, err := revocations.BatchIsRevoked(ctx, links)
	if err != nil {
		log.Warnw("revocation check incomplete, rejecting chain", "links", len(links), "error", err)
		if errors.Is(err, store.ErrUnavailable) {
			return fmt.Errorf("checking revocations: %w", err)
		}
		return fmt.Errorf("checking revocations: %w: %w", store.ErrUnavailable, err)
	}
	for _, l := range links {
		r, ok := revoked[l]
		if !ok {
			return fmt.Errorf("%w: no revocation status for %s", store.ErrUnavailable, l)
		}
		if r {
			return ChainError{Link: l, err: ErrRevoked}
		}
	}
	return nil
}
