package uploads

import (
	"context"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/pkg/store/consumerstore"
	"github.com/storacha/upload-service/pkg/store/contentstore"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
	"github.com/storacha/upload-service/pkg/store/metricsstore"
	"github.com/storacha/upload-service/pkg/store/ratelimitstore"
	"github.com/storacha/upload-service/pkg/store/revocationstore"
	"github.com/storacha/upload-service/pkg/store/subscriptionstore"
	"github.com/storacha/upload-service/pkg/store/uploadstore"
)

type Service interface {
	Content() contentstore.ContentStore
	Uploads() uploadstore.UploadStore
	Delegations() delegationstore.DelegationStore
	Archive() delegationstore.ArchiveStore
	Revocations() revocationstore.RevocationStore
	Subscriptions() subscriptionstore.SubscriptionStore
	Consumers() consumerstore.ConsumerStore
	RateLimits() ratelimitstore.RateLimitStore
	Metrics() metricsstore.MetricsStore

	AddStoredObject(ctx context.Context, obj contentstore.StoredObject) error
	AddUpload(ctx context.Context, space did.DID, root ucan.Link, shards []ucan.Link, cause ucan.Link) error
	RecordDelegations(ctx context.Context, cause ucan.Link, dlgs ...delegation.Delegation) error
	Revoke(ctx context.Context, dlg ucan.Link, scope ucan.Link, cause ucan.Link) error
	CheckChain(ctx context.Context, chain []delegationstore.Delegation) error
	Provision(ctx context.Context, req ProvisionRequest) error
	ReconcileConsumers(ctx context.Context) ([]consumerstore.Consumer, error)
	SetRateLimit(ctx context.Context, subject string, rate float64, cause ucan.Link) (string, error)
	CurrentRateLimit(ctx context.Context, subject string) (ratelimitstore.RateLimit, error)
	AnyBlocked(ctx context.Context, subjects ...string) (bool, error)
}
