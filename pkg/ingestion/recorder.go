package ingestion

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/sunflower/pkg/alerts"
	appctx "github.com/Ramsey-B/sunflower/pkg/context"
	"github.com/Ramsey-B/sunflower/pkg/deviation"
	"github.com/Ramsey-B/sunflower/pkg/kafka"
	"github.com/Ramsey-B/sunflower/pkg/metrics"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/Ramsey-B/sunflower/pkg/repositories"
)

// RecordUpserter is satisfied by *repositories.DemandRecordRepository.
type RecordUpserter interface {
	Upsert(ctx context.Context, key models.RecordKey, payload models.Payload, system models.System) (*repositories.UpsertResult, error)
}

// RecordPublisher is satisfied by *kafka.Producer.
type RecordPublisher interface {
	PublishRecordEvent(ctx context.Context, evt *kafka.RecordEventMessage) error
}

// Outcome is what happened to one reading.
type Outcome struct {
	Action    models.Action
	Record    *models.DemandRecord
	Deviation *deviation.Result
	Alerted   bool
}

type AlertConfig struct {
	Threshold decimal.Decimal
	Channel   string
}

// DefaultSideEffectTimeout bounds one record event or alert delivery.
const DefaultSideEffectTimeout = 5 * time.Second

// Recorder stores a reading and, when the store changed, announces the
// change and evaluates the demand deviation. Announcing and alerting never
// fail the call and run on their own deadline, detached from the caller's.
type Recorder struct {
	store             RecordUpserter
	publisher         RecordPublisher
	notifier          alerts.Notifier
	alert             AlertConfig
	logger            ectologger.Logger
	sideEffectTimeout time.Duration
}

func NewRecorder(store RecordUpserter, publisher RecordPublisher, notifier alerts.Notifier, alert AlertConfig, logger ectologger.Logger) *Recorder {
	return &Recorder{
		store:             store,
		publisher:         publisher,
		notifier:          notifier,
		alert:             alert,
		logger:            logger,
		sideEffectTimeout: DefaultSideEffectTimeout,
	}
}

// WithSideEffectTimeout sets the deadline of each record event and alert.
func (r *Recorder) WithSideEffectTimeout(timeout time.Duration) *Recorder {
	if timeout > 0 {
		r.sideEffectTimeout = timeout
	}
	return r
}

// Record stores the reading and evaluates it when the store changed.
func (r *Recorder) Record(ctx context.Context, source string, key models.RecordKey, payload models.Payload, system models.System) (*Outcome, error) {
	outcome, err := r.Store(ctx, source, key, payload, system)
	if err != nil {
		return nil, err
	}
	r.Evaluate(ctx, outcome)
	return outcome, nil
}

// Store upserts the reading. Nothing is announced until Evaluate.
func (r *Recorder) Store(ctx context.Context, source string, key models.RecordKey, payload models.Payload, system models.System) (*Outcome, error) {
	result, err := r.store.Upsert(ctx, key, payload, system)
	if err != nil {
		metrics.RecordUpsert(source, "error")
		return nil, err
	}
	metrics.RecordUpsert(source, string(result.Action))
	return &Outcome{Action: result.Action, Record: result.Record}, nil
}

// Evaluate announces a changed record, computes its deviation and alerts
// when it reaches the threshold. Conflicts are neither announced nor
// evaluated again.
func (r *Recorder) Evaluate(ctx context.Context, outcome *Outcome) {
	if outcome.Action == models.ActionConflict {
		return
	}
	r.publish(ctx, outcome)
	outcome.Deviation, outcome.Alerted = r.evaluate(ctx, outcome.Record)
}

// sideEffectContext keeps ctx values (trace, pass id) but not its deadline,
// so a stalled broker or webhook cannot spend the caller's time budget.
func (r *Recorder) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.sideEffectTimeout)
}

func (r *Recorder) publish(ctx context.Context, outcome *Outcome) {
	if r.publisher == nil {
		return
	}

	ctx, cancel := r.sideEffectContext(ctx)
	defer cancel()

	record := outcome.Record
	err := r.publisher.PublishRecordEvent(ctx, &kafka.RecordEventMessage{
		Type:          "record." + string(outcome.Action),
		RecordID:      record.ID,
		OperationDate: record.OperationDate.Format(models.OperationDateLayout),
		Hour:          record.Hour,
		Region:        record.Region,
		System:        string(record.System),
		Demand:        record.Demand,
		Generation:    record.Generation,
		Forecast:      record.Forecast,
		Link:          record.Link,
		PassID:        appctx.GetPassID(ctx),
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		metrics.RecordKafkaPublish("record", "error")
		r.logger.WithContext(ctx).WithError(err).WithField("key", record.Key().String()).Warn("Failed to publish record event")
		return
	}
	metrics.RecordKafkaPublish("record", "ok")
}

func (r *Recorder) evaluate(ctx context.Context, record *models.DemandRecord) (*deviation.Result, bool) {
	if record.Demand == nil || record.Forecast == nil {
		return nil, false
	}

	result := deviation.Calculate(*record.Forecast, *record.Demand)
	logger := r.logger.WithContext(ctx).WithFields(map[string]any{
		"key":       record.Key().String(),
		"deviation": result.String(),
	})

	if !result.Evaluable() {
		logger.Info("Forecast is zero, deviation cannot be evaluated")
		return &result, false
	}
	if !result.Exceeds(r.alert.Threshold) {
		return &result, false
	}

	message := alerts.Message(record.Key(), record.System, *record.Demand, *record.Forecast, result)
	notifyCtx, cancel := r.sideEffectContext(ctx)
	defer cancel()
	if err := r.notifier.Notify(notifyCtx, r.alert.Channel, message); err != nil {
		metrics.RecordAlert("error")
		logger.WithError(err).Warn("Failed to deliver deviation alert")
		return &result, false
	}
	metrics.RecordAlert("sent")
	logger.Info("Deviation alert sent")
	return &result, true
}
