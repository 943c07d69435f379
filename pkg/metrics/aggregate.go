package metrics

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/upload-service/pkg/store/metricsstore"
)

// AggregateSink adds events to the counters of a metrics store.
type AggregateSink struct {
	store metricsstore.MetricsStore
}

var _ Sink = (*AggregateSink)(nil)

func NewAggregateSink(store metricsstore.MetricsStore) *AggregateSink {
	return &AggregateSink{store: store}
}

func (a *AggregateSink) Emit(ctx context.Context, events ...Event) error {
	var errs error
	for _, e := range events {
		var err error
		if e.Space == did.Undef {
			err = a.store.IncrementAdmin(ctx, e.Name, e.Value)
		} else {
			err = a.store.IncrementSpace(ctx, e.Space, e.Name, e.Value)
		}
		if err != nil {
			errs = appendErr(errs, fmt.Errorf("incrementing %s: %w", e.Name, err))
		}
	}
	return errs
}

func appendErr(errs error, err error) error {
	return multierror.Append(errs, err).ErrorOrNil()
}
