// Package ingestion drives a pass over every configured region: fetch the
// hourly series, select the rollover and current hour, store them and
// evaluate the deviation of each stored reading.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	appctx "github.com/Ramsey-B/sunflower/pkg/context"
	"github.com/Ramsey-B/sunflower/pkg/feed"
	"github.com/Ramsey-B/sunflower/pkg/metrics"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/Ramsey-B/sunflower/pkg/repositories"
	"github.com/Ramsey-B/sunflower/pkg/selector"
	"github.com/Ramsey-B/sunflower/pkg/tracing"
)

const (
	DefaultWorkers       = 4
	DefaultRegionTimeout = 60 * time.Second

	SourceFeed = "feed"
)

// SeriesFetcher is satisfied by *feed.Fetcher.
type SeriesFetcher interface {
	Fetch(ctx context.Context, region models.Region) ([]models.Reading, error)
}

// HourSelector is satisfied by *selector.Selector.
type HourSelector interface {
	Select(ctx context.Context, series []models.Reading) selector.Selection
}

type Config struct {
	Regions       []models.Region
	Workers       int
	RegionTimeout time.Duration
}

type Orchestrator struct {
	fetcher  SeriesFetcher
	selector HourSelector
	recorder *Recorder
	config   Config
	logger   ectologger.Logger
}

func NewOrchestrator(fetcher SeriesFetcher, hourSelector HourSelector, recorder *Recorder, config Config, logger ectologger.Logger) *Orchestrator {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.RegionTimeout <= 0 {
		config.RegionTimeout = DefaultRegionTimeout
	}

	return &Orchestrator{
		fetcher:  fetcher,
		selector: hourSelector,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// RunPass processes every region once. Regions run in parallel on a bounded
// pool and each gets its own timeout; a region that fails or is skipped
// never affects the others. The report lists regions in configured order.
func (o *Orchestrator) RunPass(ctx context.Context, trigger string) *PassReport {
	passID := uuid.New().String()
	ctx = appctx.SetPassID(ctx, passID)
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.RunPass",
		attribute.String("pass.id", passID),
		attribute.String("pass.trigger", trigger),
		attribute.Int("pass.regions", len(o.config.Regions)),
	)
	defer span.End()

	report := &PassReport{
		PassID:    passID,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Regions:   make([]RegionReport, len(o.config.Regions)),
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"pass_id": passID,
		"trigger": trigger,
		"regions": len(o.config.Regions),
	}).Info("Starting ingestion pass")

	sem := make(chan struct{}, o.config.Workers)
	var wg sync.WaitGroup
	for i, region := range o.config.Regions {
		wg.Add(1)
		go func(i int, region models.Region) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			report.Regions[i] = o.runRegion(ctx, region)
		}(i, region)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()
	metrics.RecordPass(trigger, report.FinishedAt.Sub(report.StartedAt).Seconds())

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"pass_id":  passID,
		"done":     report.Count(StateDone),
		"skipped":  report.Count(StateSkipped),
		"failed":   report.RegionsIn(StateFailed),
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Ingestion pass finished")

	return report
}

func (o *Orchestrator) runRegion(ctx context.Context, region models.Region) (report RegionReport) {
	start := time.Now()
	ctx = appctx.SetRegion(ctx, region.Name)
	ctx, cancel := context.WithTimeout(ctx, o.config.RegionTimeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "Orchestrator.runRegion", attribute.String("region", region.Name))
	defer span.End()

	logger := o.logger.WithContext(ctx).WithField("region", region.Name)
	report = RegionReport{Region: region.Name, State: StateFetching}

	defer func() {
		if r := recover(); r != nil {
			report.State = StateFailed
			report.Reason = fmt.Sprintf("panic: %v", r)
			logger.Errorf("Region processing panicked: %v", r)
		}
		report.Duration = time.Since(start)
		metrics.RecordRegionOutcome(region.Name, string(report.State))
		span.SetAttributes(attribute.String("region.state", string(report.State)))
	}()

	series, err := o.fetcher.Fetch(ctx, region)
	switch {
	case errors.Is(err, feed.ErrParse):
		logger.WithError(err).Warn("Upstream series could not be parsed, skipping region")
		return skip(report, err.Error())
	case err != nil:
		tracing.Fail(span, err, "fetch failed")
		logger.WithError(err).Error("Failed to fetch upstream series")
		return fail(report, err.Error())
	case len(series) == 0:
		logger.Info("Upstream series is empty, skipping region")
		return skip(report, "empty series")
	}

	report.State = StateSelecting
	selection := o.selector.Select(ctx, series)
	if selection.Empty() {
		logger.Debug("No reading to store for this pass")
		return skip(report, "no candidate reading")
	}

	// every candidate is stored before any event or alert goes out
	failed := false
	report.State = StateUpserting
	outcomes := make([]*Outcome, 0, 2)
	for _, candidate := range selection.Candidates() {
		cr, outcome, ok := o.store(ctx, region, selection.OperationDate, candidate)
		if !ok {
			failed = true
		}
		report.Candidates = append(report.Candidates, cr)
		outcomes = append(outcomes, outcome)
	}

	report.State = StateEvaluating
	for i, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		o.recorder.Evaluate(ctx, outcome)
		report.Candidates[i].Deviation = outcome.Deviation
		report.Candidates[i].Alerted = outcome.Alerted
	}

	if failed {
		return fail(report, "one or more readings could not be stored")
	}
	report.State = StateDone
	return report
}

// store upserts one candidate. ok is false only on a store failure; readings
// with invalid values are dropped without failing the region.
func (o *Orchestrator) store(ctx context.Context, region models.Region, date time.Time, candidate selector.Candidate) (cr CandidateReport, outcome *Outcome, ok bool) {
	cr = CandidateReport{Hour: candidate.Hour, Rollover: candidate.Rollover}
	key := models.NewRecordKey(date, candidate.Hour, region.Name)
	logger := o.logger.WithContext(ctx).WithField("key", key.String())

	payload, err := candidate.Reading.Payload()
	if err != nil {
		logger.WithError(err).Warn("Reading has invalid values, skipping")
		cr.Dropped = true
		cr.Error = err.Error()
		return cr, nil, true
	}

	outcome, err = o.recorder.Store(ctx, SourceFeed, key, payload, models.SystemUnknown)
	if errors.Is(err, repositories.ErrConcurrentInsert) {
		logger.Info("Record inserted concurrently by another writer, treating as conflict")
		cr.Action = models.ActionConflict
		return cr, nil, true
	}
	if err != nil {
		cr.Error = err.Error()
		return cr, nil, false
	}

	cr.Action = outcome.Action
	cr.RecordID = outcome.Record.ID
	return cr, outcome, true
}

func skip(report RegionReport, reason string) RegionReport {
	report.State = StateSkipped
	report.Reason = reason
	return report
}

func fail(report RegionReport, reason string) RegionReport {
	report.State = StateFailed
	report.Reason = reason
	return report
}
