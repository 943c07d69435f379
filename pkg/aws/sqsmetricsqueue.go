package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/upload-service/pkg/metrics"
)

// MetricsMessage is the struct that is serialized onto an SQS message queue in JSON
type MetricsMessage struct {
	Events []MetricsEvent `json:"events"`
}

// MetricsEvent is a single counter increment. An empty space is a service
// wide counter.
type MetricsEvent struct {
	Name  string `json:"name"`
	Space string `json:"space,omitempty"`
	Value uint64 `json:"value"`
}

// SQSMetricsQueue implements the metrics.Sink interface by publishing events
// to SQS for aggregation by a separate consumer.
type SQSMetricsQueue struct {
	queueURL  string
	sqsClient *sqs.Client
}

var _ metrics.Sink = (*SQSMetricsQueue)(nil)

// NewSQSMetricsQueue returns a new SQSMetricsQueue for the given aws config
func NewSQSMetricsQueue(cfg aws.Config, queueURL string, opts ...func(*sqs.Options)) *SQSMetricsQueue {
	return &SQSMetricsQueue{
		queueURL:  queueURL,
		sqsClient: sqs.NewFromConfig(cfg, opts...),
	}
}

// Emit implements metrics.Sink. All events are sent in a single message.
func (s *SQSMetricsQueue) Emit(ctx context.Context, events ...metrics.Event) error {
	if len(events) == 0 {
		return nil
	}
	messageJSON, err := EncodeMetricsMessage(events...)
	if err != nil {
		return err
	}
	_, err = s.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(messageJSON),
	})
	if err != nil {
		return wrapErr("enqueueing message", err)
	}
	return nil
}

// EncodeMetricsMessage serializes events into an SQS message body.
func EncodeMetricsMessage(events ...metrics.Event) (string, error) {
	msg := MetricsMessage{Events: make([]MetricsEvent, 0, len(events))}
	for _, e := range events {
		me := MetricsEvent{Name: e.Name, Value: e.Value}
		if e.Space != did.Undef {
			me.Space = e.Space.String()
		}
		msg.Events = append(msg.Events, me)
	}
	messageJSON, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("serializing message json: %w", err)
	}
	return string(messageJSON), nil
}

// DecodeMetricsMessage extracts metrics events from an SQS queue message body
func DecodeMetricsMessage(messageBody string) ([]metrics.Event, error) {
	var msg MetricsMessage
	err := json.Unmarshal([]byte(messageBody), &msg)
	if err != nil {
		return nil, fmt.Errorf("deserializing message: %w", err)
	}
	events := make([]metrics.Event, 0, len(msg.Events))
	for _, me := range msg.Events {
		e := metrics.Event{Name: me.Name, Value: me.Value}
		if me.Space != "" {
			space, err := did.Parse(me.Space)
			if err != nil {
				return nil, fmt.Errorf("parsing space: %w", err)
			}
			e.Space = space
		}
		events = append(events, e)
	}
	return events, nil
}
