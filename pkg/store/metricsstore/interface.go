// Package metricsstore keeps monotonically increasing usage counters, both
// service wide and per space.
package metricsstore

import (
	"context"

	"github.com/storacha/go-ucanto/did"
)

// MetricsStore holds named counters. Counters that were never incremented
// read as zero.
type MetricsStore interface {
	// IncrementAdmin atomically adds delta to a service wide counter.
	IncrementAdmin(ctx context.Context, name string, delta uint64) error
	// IncrementSpace atomically adds delta to a counter of space.
	IncrementSpace(ctx context.Context, space did.DID, name string, delta uint64) error
	GetAdmin(ctx context.Context, name string) (uint64, error)
	GetSpace(ctx context.Context, space did.DID, name string) (uint64, error)
	// ListSpace returns every counter of space by name.
	ListSpace(ctx context.Context, space did.DID) (map[string]uint64, error)
}
