package ratelimitstore

import (
	"context"
	"time"

	"github.com/storacha/go-ucanto/ucan"
)

// RateLimit throttles a subject (a DID, an email address or a domain). A rate
// of zero blocks the subject entirely.
type RateLimit struct {
	ID         string
	Subject    string
	Rate       float64
	Cause      ucan.Link
	InsertedAt time.Time
}

// Blocked reports whether the limit forbids all activity.
func (r RateLimit) Blocked() bool {
	return r.Rate == 0
}

// RateLimitStore keeps every limit ever applied to a subject. The newest one
// is in force.
type RateLimitStore interface {
	// Put records a new limit and returns its id.
	Put(ctx context.Context, subject string, rate float64, cause ucan.Link) (string, error)
	// Get returns [store.ErrNotFound] if no limit has the given id.
	Get(ctx context.Context, id string) (RateLimit, error)
	// CurrentLimit returns the most recently inserted limit for subject, or
	// [store.ErrNotFound] if the subject is not limited.
	CurrentLimit(ctx context.Context, subject string) (RateLimit, error)
	// List returns every limit for subject, newest first.
	List(ctx context.Context, subject string) ([]RateLimit, error)
}

type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the source of insertion times.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}
