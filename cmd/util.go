package cmd

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/internal/telemetry"
	"github.com/storacha/upload-service/pkg/aws"
	"github.com/storacha/upload-service/pkg/config"
	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/pkg/service/uploads"
)

var log = logging.Logger("cmd")

// loadConfig loads the service configuration and applies its log level.
func loadConfig(cCtx *cli.Context) (*config.Service, error) {
	cfg, err := config.LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}
	if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("setting log level: %w", err)
	}
	return cfg, nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Service) (awssdk.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Dynamo.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Dynamo.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("loading aws default config: %w", err)
	}
	return awsCfg, nil
}

func dynamoOptions(cfg *config.Service) []func(*dynamodb.Options) {
	if cfg.Dynamo.Endpoint == "" {
		return nil
	}
	return []func(*dynamodb.Options){
		func(o *dynamodb.Options) {
			o.BaseEndpoint = awssdk.String(cfg.Dynamo.Endpoint)
		},
	}
}

func s3Options(cfg *config.Service) []func(*s3.Options) {
	if cfg.Archive.Endpoint == "" {
		return nil
	}
	return []func(*s3.Options){
		func(o *s3.Options) {
			o.BaseEndpoint = awssdk.String(cfg.Archive.Endpoint)
			o.UsePathStyle = true
		},
	}
}

// openService builds the upload service for the configured backend.
func openService(cCtx *cli.Context) (*uploads.UploadService, error) {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return nil, err
	}

	needsAWS := cfg.Backend == config.BackendDynamo || cfg.Archive.Bucket != "" || cfg.Metrics.QueueURL != ""
	var awsCfg awssdk.Config
	if needsAWS {
		if awsCfg, err = loadAWSConfig(cCtx.Context, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Backend == config.BackendDynamo {
		log.Infow("Using DynamoDB backend", "prefix", cfg.Dynamo.TablePrefix)
		return aws.Construct(aws.Config{
			Config:            awsCfg,
			DynamoOptions:     dynamoOptions(cfg),
			S3Options:         s3Options(cfg),
			SentryDSN:         cfg.Sentry.DSN,
			SentryEnvironment: cfg.Sentry.Environment,
			Tables:            aws.DefaultTableNames(cfg.Dynamo.TablePrefix),
			DelegationBucket:  cfg.Archive.Bucket,
			DelegationPrefix:  cfg.Archive.Prefix,
			MetricsQueueURL:   cfg.Metrics.QueueURL,
			MetricsBuffer:     cfg.Metrics.Buffer,
		})
	}

	if cfg.Sentry.DSN != "" {
		if err := telemetry.SetupErrorReporting(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
			return nil, fmt.Errorf("setting up error reporting: %w", err)
		}
	}
	opts := []uploads.Option{
		uploads.WithDataDir(cfg.Directories.DataDir),
		uploads.WithMetricsBuffer(cfg.Metrics.Buffer),
	}
	if cfg.Archive.Bucket != "" {
		opts = append(opts, uploads.WithArchiveStore(aws.NewS3DelegationArchive(awsCfg, cfg.Archive.Bucket, cfg.Archive.Prefix, s3Options(cfg)...)))
	}
	if cfg.Metrics.QueueURL != "" {
		opts = append(opts, uploads.WithMetricsSink(aws.NewSQSMetricsQueue(awsCfg, cfg.Metrics.QueueURL)))
	}
	return uploads.New(opts...)
}

// withService runs fn against a freshly opened service and closes it after,
// flushing pending metric events.
func withService(cCtx *cli.Context, fn func(ctx context.Context, svc *uploads.UploadService) error) error {
	svc, err := openService(cCtx)
	if err != nil {
		return err
	}
	err = fn(cCtx.Context, svc)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(cCtx.Context), 30*time.Second)
	defer cancel()
	if cerr := svc.Close(ctx); cerr != nil {
		return multierror.Append(err, fmt.Errorf("closing service: %w", cerr)).ErrorOrNil()
	}
	telemetry.Flush(2 * time.Second)
	return err
}

func parseDID(cCtx *cli.Context, name string) (did.DID, error) {
	d, err := did.Parse(cCtx.String(name))
	if err != nil {
		return did.Undef, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}

func parseLink(cCtx *cli.Context, name string) (ucan.Link, error) {
	l, err := linkutil.Parse(cCtx.String(name))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return l, nil
}

func parseLinks(values []string) ([]ucan.Link, error) {
	links := make([]ucan.Link, 0, len(values))
	for _, v := range values {
		l, err := linkutil.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("parsing link %q: %w", v, err)
		}
		links = append(links, l)
	}
	return links, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
