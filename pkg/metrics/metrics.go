// Package metrics carries usage events from the upload service to whatever
// aggregates them. Emitting is best effort: sinks must not be allowed to fail
// or hold up the write that produced the event.
package metrics

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/did"
)

var log = logging.Logger("metrics")

const (
	StoreAddTotal     = "store/add-total"
	StoreAddSizeTotal = "store/add-size-total"
	UploadAddTotal    = "upload/add-total"
)

// Event increments the counter Name by Value. Events with an undefined Space
// count towards the service wide total.
type Event struct {
	Name  string
	Space did.DID
	Value uint64
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, events ...Event) error
}

// StoreAdded returns the events for a stored object of the given size being
// recorded in space.
func StoreAdded(space did.DID, size uint64) []Event {
	return []Event{
		{Name: StoreAddTotal, Value: 1},
		{Name: StoreAddSizeTotal, Value: size},
		{Name: StoreAddTotal, Space: space, Value: 1},
		{Name: StoreAddSizeTotal, Space: space, Value: size},
	}
}

// UploadAdded returns the events for a new upload in space.
func UploadAdded(space did.DID) []Event {
	return []Event{
		{Name: UploadAddTotal, Value: 1},
		{Name: UploadAddTotal, Space: space, Value: 1},
	}
}

type noopSink struct{}

func (noopSink) Emit(context.Context, ...Event) error { return nil }

// NoopSink discards every event.
var NoopSink Sink = noopSink{}

type tee []Sink

// Tee emits every event to all of sinks. All sinks are tried even when one
// fails.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) Emit(ctx context.Context, events ...Event) error {
	var errs error
	for _, s := range t {
		if err := s.Emit(ctx, events...); err != nil {
			errs = appendErr(errs, err)
		}
	}
	return errs
}
