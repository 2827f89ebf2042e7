package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sunflower/pkg/tracing"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Config struct {
	Brokers     []string
	RecordTopic string
	AlertTopic  string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, recordTopic string, alertTopic string) Config {
	var brokerList []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokerList = append(brokerList, broker)
		}
	}

	return Config{
		Brokers:     brokerList,
		RecordTopic: recordTopic,
		AlertTopic:  alertTopic,
	}
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	recordWriter MessageWriter
	alertWriter  MessageWriter
	logger       ectologger.Logger
	recordTopic  string
	alertTopic   string
}

// A write gives up after MaxAttempts tries of at most WriteTimeout each.
const (
	WriteTimeout = 5 * time.Second
	MaxAttempts  = 3
)

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           WriteTimeout,
		MaxAttempts:            MaxAttempts,
	}
}

func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	return NewProducerWithWriters(newWriter(cfg.Brokers, cfg.RecordTopic), newWriter(cfg.Brokers, cfg.AlertTopic), cfg, logger)
}

func NewProducerWithWriters(recordWriter, alertWriter MessageWriter, cfg Config, logger ectologger.Logger) *Producer {
	return &Producer{
		recordWriter: recordWriter,
		alertWriter:  alertWriter,
		logger:       logger,
		recordTopic:  cfg.RecordTopic,
		alertTopic:   cfg.AlertTopic,
	}
}

func (p *Producer) Close() error {
	var firstErr error
	if err := p.recordWriter.Close(); err != nil {
		firstErr = err
	}
	if err := p.alertWriter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// RecordEventMessage announces that a demand record was inserted or updated.
type RecordEventMessage struct {
	Type          string    `json:"type"` // "record.inserted" | "record.updated"
	RecordID      int64     `json:"record_id"`
	OperationDate string    `json:"operation_date"`
	Hour          int       `json:"hour"`
	Region        string    `json:"region"`
	System        string    `json:"system"`
	Demand        *int64    `json:"demand"`
	Generation    *int64    `json:"generation"`
	Forecast      *int64    `json:"forecast"`
	Link          *int64    `json:"link"`
	PassID        string    `json:"pass_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// AlertEventMessage carries a deviation alert.
type AlertEventMessage struct {
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
}

func (p *Producer) PublishRecordEvent(ctx context.Context, evt *RecordEventMessage) error {
	if evt == nil {
		return fmt.Errorf("record event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	key := fmt.Sprintf("%s:%02d:%s", evt.OperationDate, evt.Hour, evt.Region)
	return p.publish(ctx, "Kafka.PublishRecordEvent", p.recordWriter, p.recordTopic, key, evt.Type, func(traceID string) ([]byte, error) {
		evt.TraceID = traceID
		return json.Marshal(evt)
	})
}

func (p *Producer) PublishAlert(ctx context.Context, evt *AlertEventMessage) error {
	if evt == nil {
		return fmt.Errorf("alert event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	return p.publish(ctx, "Kafka.PublishAlert", p.alertWriter, p.alertTopic, evt.Channel, "alert", func(traceID string) ([]byte, error) {
		evt.TraceID = traceID
		return json.Marshal(evt)
	})
}

func (p *Producer) publish(ctx context.Context, spanName string, writer MessageWriter, topic, key, eventType string, encode func(traceID string) ([]byte, error)) error {
	ctx, span := tracing.StartSpan(ctx, spanName,
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.operation", "publish"),
	)
	defer span.End()

	data, err := encode(tracing.GetTraceID(ctx))
	if err != nil {
		tracing.Fail(span, err, "failed to marshal message")
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(eventType)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if err := writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}); err != nil {
		tracing.Fail(span, err, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", topic)
		return err
	}

	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published %s to Kafka topic %s key=%s", eventType, topic, key)
	return nil
}
