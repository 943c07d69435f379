package lambda

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/storacha/upload-service/internal/telemetry"
	"github.com/storacha/upload-service/pkg/aws"
)

// SQSEventHandler is a function that handles SQS events, suitable to use as a
// lambda handler. Records listed in the response's batch item failures are
// returned to the queue, the rest are deleted.
type SQSEventHandler func(context.Context, events.SQSEvent) (events.SQSEventResponse, error)

// SQSEventHandlerBuilder is a function that creates a SQSEventHandler from a config.
type SQSEventHandlerBuilder func(aws.Config) (SQSEventHandler, error)

// StartSQSEventHandler starts a lambda handler that processes SQS events.
func StartSQSEventHandler(makeHandler SQSEventHandlerBuilder) {
	ctx := context.Background()
	cfg := aws.FromEnv(ctx)
	if cfg.SentryDSN != "" {
		if err := telemetry.SetupErrorReporting(cfg.SentryDSN, cfg.SentryEnvironment); err != nil {
			panic(err)
		}
	}

	handler, err := makeHandler(cfg)
	if err != nil {
		telemetry.ReportError(err)
		telemetry.Flush(2 * time.Second)
		panic(err)
	}

	lambda.StartWithOptions(instrumentSQSEventHandler(handler), lambda.WithContext(ctx))
}

// instrumentSQSEventHandler wraps a SQSEventHandler with error reporting.
func instrumentSQSEventHandler(handler SQSEventHandler) SQSEventHandler {
	return func(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
		res, err := handler(ctx, sqsEvent)
		if err != nil {
			telemetry.ReportError(err)
		}
		return res, err
	}
}
