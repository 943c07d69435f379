package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/storacha/go-ucanto/did"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink records events as OpenTelemetry counters, one instrument per event
// name. Per space events carry a "space" attribute.
type OTelSink struct {
	meter    metric.Meter
	mutex    sync.Mutex
	counters map[string]metric.Int64Counter
}

var _ Sink = (*OTelSink)(nil)

func NewOTelSink(provider metric.MeterProvider) *OTelSink {
	return &OTelSink{
		meter:    provider.Meter("github.com/storacha/upload-service/pkg/metrics"),
		counters: map[string]metric.Int64Counter{},
	}
}

func (o *OTelSink) Emit(ctx context.Context, events ...Event) error {
	for _, e := range events {
		c, err := o.counter(e.Name)
		if err != nil {
			return err
		}
		if e.Space == did.Undef {
			c.Add(ctx, int64(e.Value))
		} else {
			c.Add(ctx, int64(e.Value), metric.WithAttributes(attribute.String("space", e.Space.String())))
		}
	}
	return nil
}

func (o *OTelSink) counter(name string) (metric.Int64Counter, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if c, ok := o.counters[name]; ok {
		return c, nil
	}
	c, err := o.meter.Int64Counter(name, metric.WithDescription(fmt.Sprintf("Total of %s events", name)))
	if err != nil {
		return nil, fmt.Errorf("creating counter %s: %w", name, err)
	}
	o.counters[name] = c
	return c, nil
}
