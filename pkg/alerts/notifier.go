// Package alerts delivers deviation alerts to chat and messaging channels.
// Delivery is best effort: callers log a failed Notify and carry on.
package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sunflower/pkg/deviation"
	"github.com/Ramsey-B/sunflower/pkg/httpclient"
	"github.com/Ramsey-B/sunflower/pkg/kafka"
	"github.com/Ramsey-B/sunflower/pkg/metrics"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/Ramsey-B/sunflower/pkg/tracing"
)

type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Poster is the subset of httpclient.Client the webhook notifier needs.
type Poster interface {
	PostJSON(ctx context.Context, url string, body any, headers map[string]string) (*httpclient.Response, error)
}

// WebhookNotifier posts Slack-compatible incoming webhook messages.
type WebhookNotifier struct {
	client Poster
	url    string
}

func NewWebhookNotifier(client Poster, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url}
}

type webhookMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, channel, message string) error {
	ctx, span := tracing.StartSpan(ctx, "WebhookNotifier.Notify")
	defer span.End()

	if _, err := n.client.PostJSON(ctx, n.url, webhookMessage{Channel: channel, Text: message}, nil); err != nil {
		tracing.Fail(span, err, "webhook delivery failed")
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	return nil
}

// AlertPublisher is satisfied by *kafka.Producer.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, evt *kafka.AlertEventMessage) error
}

type KafkaNotifier struct {
	publisher AlertPublisher
}

func NewKafkaNotifier(publisher AlertPublisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

func (n *KafkaNotifier) Notify(ctx context.Context, channel, message string) error {
	err := n.publisher.PublishAlert(ctx, &kafka.AlertEventMessage{Channel: channel, Message: message})
	if err != nil {
		metrics.RecordKafkaPublish("alert", "error")
		return fmt.Errorf("alert publish failed: %w", err)
	}
	metrics.RecordKafkaPublish("alert", "ok")
	return nil
}

// LogNotifier writes alerts to the log. Used when no channel is configured.
type LogNotifier struct {
	logger ectologger.Logger
}

func NewLogNotifier(logger ectologger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, channel, message string) error {
	n.logger.WithContext(ctx).WithField("channel", channel).Warn(message)
	return nil
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, channel, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, channel, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message renders the human readable alert for a record.
func Message(key models.RecordKey, system models.System, demand, forecast int64, result deviation.Result) string {
	return fmt.Sprintf(
		"Demand deviation in %s (%s) on %s at %02d:00: demand %d vs forecast %d, %s",
		key.Region, system, key.OperationDate.Format(models.OperationDateLayout), key.Hour, demand, forecast, result,
	)
}
