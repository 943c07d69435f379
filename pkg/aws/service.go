package aws

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/storacha/upload-service/internal/telemetry"
	"github.com/storacha/upload-service/pkg/service/uploads"
)

func mustGetEnv(envVar string) string {
	value := os.Getenv(envVar)
	if len(value) == 0 {
		panic(fmt.Errorf("missing env var: %s", envVar))
	}
	return value
}

// Config holds everything needed to run the upload service on AWS.
type Config struct {
	Config            aws.Config
	S3Options         []func(*s3.Options)
	DynamoOptions     []func(*dynamodb.Options)
	SQSOptions        []func(*sqs.Options)
	SentryDSN         string
	SentryEnvironment string
	Tables            TableNames
	// DelegationBucket holds raw delegation archives. Optional, archives are
	// only kept in memory when empty.
	DelegationBucket string
	DelegationPrefix string
	// MetricsQueueURL additionally publishes metric events to SQS. Optional.
	MetricsQueueURL string
	MetricsBuffer   int
}

func mustGetSSMParams(ctx context.Context, client *ssm.Client, names ...string) map[string]string {
	response, err := client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		panic(fmt.Errorf("retrieving SSM parameters: %w", err))
	}
	params := map[string]string{}
	for _, name := range names {
		value := ""
		for _, p := range response.Parameters {
			if *p.Name == name {
				value = *p.Value
				break
			}
		}
		if value == "" {
			panic(ErrMissingSecret)
		}
		params[name] = value
	}
	return params
}

// FromEnv constructs the AWS Configuration from the environment
func FromEnv(ctx context.Context) Config {
	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Errorf("loading aws default config: %w", err))
	}

	// the sentry DSN may be given directly or as the name of an SSM parameter
	sentryDSN := os.Getenv("SENTRY_DSN")
	if param := os.Getenv("SENTRY_DSN_PARAM"); param != "" {
		secrets := mustGetSSMParams(ctx, ssm.NewFromConfig(awsConfig), param)
		sentryDSN = secrets[param]
	}

	var metricsBuffer int
	if s := os.Getenv("METRICS_BUFFER"); s != "" {
		metricsBuffer, err = strconv.Atoi(s)
		if err != nil {
			panic(fmt.Errorf("parsing metrics buffer: %w", err))
		}
	}

	return Config{
		Config:            awsConfig,
		SentryDSN:         sentryDSN,
		SentryEnvironment: os.Getenv("SENTRY_ENVIRONMENT"),
		Tables: TableNames{
			Content:      mustGetEnv("CONTENT_TABLE_NAME"),
			Upload:       mustGetEnv("UPLOAD_TABLE_NAME"),
			Delegation:   mustGetEnv("DELEGATION_TABLE_NAME"),
			Revocation:   mustGetEnv("REVOCATION_TABLE_NAME"),
			Subscription: mustGetEnv("SUBSCRIPTION_TABLE_NAME"),
			Consumer:     mustGetEnv("CONSUMER_TABLE_NAME"),
			RateLimit:    mustGetEnv("RATE_LIMIT_TABLE_NAME"),
			AdminMetrics: mustGetEnv("ADMIN_METRICS_TABLE_NAME"),
			SpaceMetrics: mustGetEnv("SPACE_METRICS_TABLE_NAME"),
		},
		DelegationBucket: os.Getenv("DELEGATION_BUCKET_NAME"),
		DelegationPrefix: os.Getenv("DELEGATION_KEY_PREFIX"),
		MetricsQueueURL:  os.Getenv("METRICS_QUEUE_URL"),
		MetricsBuffer:    metricsBuffer,
	}
}

// Construct builds an upload service whose indexes are all DynamoDB tables.
func Construct(cfg Config) (*uploads.UploadService, error) {
	if cfg.SentryDSN != "" {
		if err := telemetry.SetupErrorReporting(cfg.SentryDSN, cfg.SentryEnvironment); err != nil {
			return nil, fmt.Errorf("setting up error reporting: %w", err)
		}
	}

	opts := []uploads.Option{
		uploads.WithContentStore(NewDynamoContentStore(cfg.Config, cfg.Tables.Content, cfg.DynamoOptions...)),
		uploads.WithUploadStore(NewDynamoUploadStore(cfg.Config, cfg.Tables.Upload, cfg.DynamoOptions...)),
		uploads.WithDelegationStore(NewDynamoDelegationStore(cfg.Config, cfg.Tables.Delegation, cfg.DynamoOptions...)),
		uploads.WithRevocationStore(NewDynamoRevocationStore(cfg.Config, cfg.Tables.Revocation, cfg.DynamoOptions...)),
		uploads.WithSubscriptionStore(NewDynamoSubscriptionStore(cfg.Config, cfg.Tables.Subscription, cfg.DynamoOptions...)),
		uploads.WithConsumerStore(NewDynamoConsumerStore(cfg.Config, cfg.Tables.Consumer, cfg.DynamoOptions...)),
		uploads.WithRateLimitStore(NewDynamoRateLimitStore(cfg.Config, cfg.Tables.RateLimit, cfg.DynamoOptions...)),
		uploads.WithMetricsStore(NewDynamoMetricsStore(cfg.Config, cfg.Tables.AdminMetrics, cfg.Tables.SpaceMetrics, cfg.DynamoOptions...)),
	}
	if cfg.DelegationBucket != "" {
		opts = append(opts, uploads.WithArchiveStore(NewS3DelegationArchive(cfg.Config, cfg.DelegationBucket, cfg.DelegationPrefix, cfg.S3Options...)))
	}
	if cfg.MetricsQueueURL != "" {
		opts = append(opts, uploads.WithMetricsSink(NewSQSMetricsQueue(cfg.Config, cfg.MetricsQueueURL, cfg.SQSOptions...)))
	}
	if cfg.MetricsBuffer > 0 {
		opts = append(opts, uploads.WithMetricsBuffer(cfg.MetricsBuffer))
	}
	return uploads.New(opts...)
}
