package uploads

import (
	"time"

	"github.com/ipfs/go-datastore"

	"github.com/storacha/upload-service/pkg/metrics"
	"github.com/storacha/upload-service/pkg/store/consumerstore"
	"github.com/storacha/upload-service/pkg/store/contentstore"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
	"github.com/storacha/upload-service/pkg/store/metricsstore"
	"github.com/storacha/upload-service/pkg/store/ratelimitstore"
	"github.com/storacha/upload-service/pkg/store/revocationstore"
	"github.com/storacha/upload-service/pkg/store/subscriptionstore"
	"github.com/storacha/upload-service/pkg/store/uploadstore"
)

type config struct {
	datastore         datastore.Batching
	dataDir           string
	contentStore      contentstore.ContentStore
	uploadStore       uploadstore.UploadStore
	delegationStore   delegationstore.DelegationStore
	archiveStore      delegationstore.ArchiveStore
	revocationStore   revocationstore.RevocationStore
	subscriptionStore subscriptionstore.SubscriptionStore
	consumerStore     consumerstore.ConsumerStore
	rateLimitStore    ratelimitstore.RateLimitStore
	metricsStore      metricsstore.MetricsStore
	metricsSinks      []metrics.Sink
	metricsBuffer     int
	clock             func() time.Time
}

type Option func(*config) error

// WithDatastore configures the datastore backing every index that has not been
// set explicitly.
func WithDatastore(ds datastore.Batching) Option {
	return func(c *config) error {
		c.datastore = ds
		return nil
	}
}

// WithDataDir configures a directory for a LevelDB datastore backing every
// index that has not been set explicitly. Ignored if a datastore is set.
func WithDataDir(dir string) Option {
	return func(c *config) error {
		c.dataDir = dir
		return nil
	}
}

func WithContentStore(s contentstore.ContentStore) Option {
	return func(c *config) error {
		c.contentStore = s
		return nil
	}
}

func WithUploadStore(s uploadstore.UploadStore) Option {
	return func(c *config) error {
		c.uploadStore = s
		return nil
	}
}

func WithDelegationStore(s delegationstore.DelegationStore) Option {
	return func(c *config) error {
		c.delegationStore = s
		return nil
	}
}

// WithArchiveStore configures where raw delegations are archived.
func WithArchiveStore(s delegationstore.ArchiveStore) Option {
	return func(c *config) error {
		c.archiveStore = s
		return nil
	}
}

func WithRevocationStore(s revocationstore.RevocationStore) Option {
	return func(c *config) error {
		c.revocationStore = s
		return nil
	}
}

func WithSubscriptionStore(s subscriptionstore.SubscriptionStore) Option {
	return func(c *config) error {
		c.subscriptionStore = s
		return nil
	}
}

func WithConsumerStore(s consumerstore.ConsumerStore) Option {
	return func(c *config) error {
		c.consumerStore = s
		return nil
	}
}

func WithRateLimitStore(s ratelimitstore.RateLimitStore) Option {
	return func(c *config) error {
		c.rateLimitStore = s
		return nil
	}
}

// WithMetricsStore configures the store that usage counters are aggregated
// into.
func WithMetricsStore(s metricsstore.MetricsStore) Option {
	return func(c *config) error {
		c.metricsStore = s
		return nil
	}
}

// WithMetricsSink adds a sink that receives usage events in addition to the
// metrics store.
func WithMetricsSink(sink metrics.Sink) Option {
	return func(c *config) error {
		c.metricsSinks = append(c.metricsSinks, sink)
		return nil
	}
}

// WithMetricsBuffer sets how many batches of usage events may be queued before
// new ones are dropped.
func WithMetricsBuffer(size int) Option {
	return func(c *config) error {
		c.metricsBuffer = size
		return nil
	}
}

// WithClock overrides the clock used to evaluate delegation expiry.
func WithClock(clock func() time.Time) Option {
	return func(c *config) error {
		c.clock = clock
		return nil
	}
}
