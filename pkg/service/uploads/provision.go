package uploads

import (
	"context"
	"errors"
	"fmt"

	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/consumerstore"
	"github.com/storacha/upload-service/pkg/store/subscriptionstore"
)

// ProvisionRequest asks for consumer to be provided for by provider, paid for
// by customer under the given subscription.
type ProvisionRequest struct {
	Cause        ucan.Link
	Customer     did.DID
	Provider     did.DID
	Consumer     did.DID
	Subscription string
}

// Provision creates the subscription and then attaches the consumer to it.
// There is no transaction spanning the two, so a failure after the first step
// leaves a subscription without a consumer. Retrying the same request
// completes it, and [UploadService.ReconcileConsumers] finds the opposite
// inconsistency.
//
// A consumer holds at most one subscription per provider. The consumer store
// enforces this atomically; the lookup below only avoids creating a
// subscription that could never be used.
func (s *UploadService) Provision(ctx context.Context, req ProvisionRequest) error {
	attached, err := s.consumers.ListByConsumer(ctx, req.Consumer)
	if err != nil {
		return fmt.Errorf("listing subscriptions of %s: %w", req.Consumer, err)
	}
	for _, e := range attached {
		if e.Provider == req.Provider && e.Subscription != req.Subscription {
			return store.NewConflictError(
				store.Duplicate,
				req.Consumer.String(),
				fmt.Sprintf("already provisioned by %s under subscription %s", e.Provider, e.Subscription),
			)
		}
	}

	err = s.subscriptions.Put(ctx, subscriptionstore.Subscription{
		Subscription: req.Subscription,
		Provider:     req.Provider,
		Customer:     req.Customer,
		Cause:        req.Cause,
	})
	if err != nil {
		return fmt.Errorf("putting subscription: %w", err)
	}

	err = s.consumers.Put(ctx, consumerstore.Consumer{
		Subscription: req.Subscription,
		Provider:     req.Provider,
		Consumer:     req.Consumer,
		Customer:     req.Customer,
		Cause:        req.Cause,
	})
	if err != nil {
		log.Warnw("subscription created without consumer", "subscription", req.Subscription, "provider", req.Provider.String(), "error", err)
		return fmt.Errorf("putting consumer: %w", err)
	}
	return nil
}

// ReconcileConsumers returns consumer records whose subscription does not
// exist.
func (s *UploadService) ReconcileConsumers(ctx context.Context) ([]consumerstore.Consumer, error) {
	var orphans []consumerstore.Consumer
	for c, err := range s.consumers.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("listing consumers: %w", err)
		}
		_, err := s.subscriptions.Get(ctx, c.Subscription, c.Provider)
		if errors.Is(err, store.ErrNotFound) {
			log.Warnw("orphaned consumer", "subscription", c.Subscription, "provider", c.Provider.String(), "consumer", c.Consumer.String())
			orphans = append(orphans, c)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting subscription %s: %w", c.Subscription, err)
		}
	}
	return orphans, nil
}
