package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	logging "github.com/ipfs/go-log/v2"

	"github.com/storacha/upload-service/cmd/lambda"
	"github.com/storacha/upload-service/pkg/aws"
	"github.com/storacha/upload-service/pkg/metrics"
)

var log = logging.Logger("lambda/metricsaggregator")

func main() {
	lambda.StartSQSEventHandler(makeHandler)
}

func makeHandler(cfg aws.Config) (lambda.SQSEventHandler, error) {
	store := aws.NewDynamoMetricsStore(cfg.Config, cfg.Tables.AdminMetrics, cfg.Tables.SpaceMetrics, cfg.DynamoOptions...)
	return newHandler(metrics.NewAggregateSink(store)), nil
}

// newHandler applies every message to sink. Messages that cannot be decoded
// are dropped, messages that fail to apply are retried.
func newHandler(sink metrics.Sink) lambda.SQSEventHandler {
	return func(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
		var res events.SQSEventResponse
		for _, msg := range sqsEvent.Records {
			evts, err := aws.DecodeMetricsMessage(msg.Body)
			if err != nil {
				log.Errorw("dropping malformed metrics message", "id", msg.MessageId, "error", err)
				continue
			}
			if err := sink.Emit(ctx, evts...); err != nil {
				log.Warnw("applying metrics", "id", msg.MessageId, "error", err)
				res.BatchItemFailures = append(res.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			}
		}
		return res, nil
	}
}
