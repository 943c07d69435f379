package uploads

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	leveldb "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"

	"github.com/storacha/upload-service/internal/timeutil"
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

var log = logging.Logger("service/uploads")

const defaultMetricsBuffer = 1024

// UploadService records what was uploaded where, and who is allowed to do it.
type UploadService struct {
	content       contentstore.ContentStore
	uploads       uploadstore.UploadStore
	delegations   delegationstore.DelegationStore
	archive       delegationstore.ArchiveStore
	revocations   revocationstore.RevocationStore
	subscriptions subscriptionstore.SubscriptionStore
	consumers     consumerstore.ConsumerStore
	rateLimits    ratelimitstore.RateLimitStore
	metricsStore  metricsstore.MetricsStore
	sink          *metrics.AsyncSink
	clock         func() time.Time
	closers       []io.Closer
	closeOnce     sync.Once
}

var _ Service = (*UploadService)(nil)

func (s *UploadService) Content() contentstore.ContentStore { return s.content }

func (s *UploadService) Uploads() uploadstore.UploadStore { return s.uploads }

func (s *UploadService) Delegations() delegationstore.DelegationStore { return s.delegations }

func (s *UploadService) Archive() delegationstore.ArchiveStore { return s.archive }

func (s *UploadService) Revocations() revocationstore.RevocationStore { return s.revocations }

func (s *UploadService) Subscriptions() subscriptionstore.SubscriptionStore { return s.subscriptions }

func (s *UploadService) Consumers() consumerstore.ConsumerStore { return s.consumers }

func (s *UploadService) RateLimits() ratelimitstore.RateLimitStore { return s.rateLimits }

func (s *UploadService) Metrics() metricsstore.MetricsStore { return s.metricsStore }

// New creates an upload service. Indexes that are not configured explicitly
// are built on the configured datastore, a LevelDB datastore in the data
// directory, or failing both an in-memory datastore.
func New(opts ...Option) (*UploadService, error) {
	c := &config{}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	svc := &UploadService{clock: c.clock}
	if svc.clock == nil {
		svc.clock = timeutil.Now
	}

	// only opened when some index needs it
	var ds datastore.Batching
	backing := func() (datastore.Batching, error) {
		if ds != nil {
			return ds, nil
		}
		switch {
		case c.datastore != nil:
			ds = c.datastore
		case c.dataDir != "":
			lds, err := leveldb.NewDatastore(c.dataDir, nil)
			if err != nil {
				return nil, fmt.Errorf("opening datastore in %s: %w", c.dataDir, err)
			}
			log.Infof("Using LevelDB datastore: %s", c.dataDir)
			svc.closers = append(svc.closers, lds)
			ds = lds
		default:
			log.Warn("Datastore not set, indexes will be kept in memory")
			ds = dssync.MutexWrap(datastore.NewMapDatastore())
		}
		return ds, nil
	}

	var err error
	if svc.content = c.contentStore; svc.content == nil {
		if svc.content, err = build(backing, contentstore.NewDsContentStore); err != nil {
			return nil, err
		}
	}
	if svc.uploads = c.uploadStore; svc.uploads == nil {
		if svc.uploads, err = build(backing, uploadstore.NewDsUploadStore); err != nil {
			return nil, err
		}
	}
	if svc.delegations = c.delegationStore; svc.delegations == nil {
		if svc.delegations, err = build(backing, delegationstore.NewDsDelegationStore); err != nil {
			return nil, err
		}
	}
	if svc.archive = c.archiveStore; svc.archive == nil {
		newArchive := func(ds datastore.Batching) (delegationstore.ArchiveStore, error) {
			return delegationstore.NewDsArchiveStore(ds)
		}
		if svc.archive, err = build(backing, newArchive); err != nil {
			return nil, err
		}
	}
	if svc.revocations = c.revocationStore; svc.revocations == nil {
		newRevocations := func(ds datastore.Batching) (*revocationstore.DsRevocationStore, error) {
			return revocationstore.NewDsRevocationStore(ds)
		}
		if svc.revocations, err = build(backing, newRevocations); err != nil {
			return nil, err
		}
	}
	if svc.subscriptions = c.subscriptionStore; svc.subscriptions == nil {
		if svc.subscriptions, err = build(backing, subscriptionstore.NewDsSubscriptionStore); err != nil {
			return nil, err
		}
	}
	if svc.consumers = c.consumerStore; svc.consumers == nil {
		if svc.consumers, err = build(backing, consumerstore.NewDsConsumerStore); err != nil {
			return nil, err
		}
	}
	if svc.rateLimits = c.rateLimitStore; svc.rateLimits == nil {
		newRateLimits := func(ds datastore.Batching) (*ratelimitstore.DsRateLimitStore, error) {
			return ratelimitstore.NewDsRateLimitStore(ds)
		}
		if svc.rateLimits, err = build(backing, newRateLimits); err != nil {
			return nil, err
		}
	}
	if svc.metricsStore = c.metricsStore; svc.metricsStore == nil {
		newMetrics := func(ds datastore.Batching) (*metricsstore.DsMetricsStore, error) {
			return metricsstore.NewDsMetricsStore(ds)
		}
		if svc.metricsStore, err = build(backing, newMetrics); err != nil {
			return nil, err
		}
	}

	sinks := append([]metrics.Sink{metrics.NewAggregateSink(svc.metricsStore)}, c.metricsSinks...)
	buffer := c.metricsBuffer
	if buffer <= 0 {
		buffer = defaultMetricsBuffer
	}
	svc.sink = metrics.NewAsyncSink(metrics.Tee(sinks...), buffer)

	return svc, nil
}

func build[T any](backing func() (datastore.Batching, error), construct func(datastore.Batching) (T, error)) (T, error) {
	var zero T
	ds, err := backing()
	if err != nil {
		return zero, err
	}
	s, err := construct(ds)
	if err != nil {
		return zero, err
	}
	return s, nil
}

// Close flushes pending usage events and closes datastores opened by the
// service.
func (s *UploadService) Close(ctx context.Context) error {
	var errs error
	s.closeOnce.Do(func() {
		if err := s.sink.Close(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("flushing metrics: %w", err))
		}
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	})
	return errs
}

func (s *UploadService) emit(ctx context.Context, events ...metrics.Event) {
	// AsyncSink never fails
	_ = s.sink.Emit(ctx, events...)
}
