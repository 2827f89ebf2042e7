package selector

import (
	"context"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sunflower/pkg/models"
)

// Candidate is a reading chosen for storage under Hour of the operation date.
type Candidate struct {
	Hour     int
	Reading  models.Reading
	Rollover bool
}

type Selection struct {
	OperationDate time.Time
	Rollover      *Candidate
	Current       *Candidate
}

// Candidates returns the selected readings, rollover first.
func (s Selection) Candidates() []Candidate {
	var out []Candidate
	if s.Rollover != nil {
		out = append(out, *s.Rollover)
	}
	if s.Current != nil {
		out = append(out, *s.Current)
	}
	return out
}

func (s Selection) Empty() bool {
	return s.Rollover == nil && s.Current == nil
}

type Selector struct {
	location *time.Location
	now      func() time.Time
	logger   ectologger.Logger
}

func NewSelector(location *time.Location, logger ectologger.Logger) *Selector {
	if location == nil {
		location = time.UTC
	}
	return &Selector{location: location, now: time.Now, logger: logger}
}

// WithClock replaces the wall clock.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Select picks the rollover reading (a leading "24", stored as hour 0) and
// the reading of the current wall-clock hour. Readings missing demand,
// generation or forecast are dropped.
func (s *Selector) Select(ctx context.Context, series []models.Reading) Selection {
	now := s.now().In(s.location)
	selection := Selection{
		OperationDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
	}
	logger := s.logger.WithContext(ctx)

	if len(series) > 0 && series[0].IsRollover() {
		if series[0].Complete() {
			selection.Rollover = &Candidate{Hour: 0, Reading: series[0], Rollover: true}
		} else {
			logger.Info("Rollover reading has blank values, skipping")
		}
	}

	want := strconv.Itoa(now.Hour())
	for _, reading := range series {
		if reading.IsRollover() || reading.NormalizedHour() != want {
			continue
		}
		if models.IsBlank(reading.Demand) {
			logger.WithField("hour", want).Debug("Current hour not published yet")
			break
		}
		if !reading.Complete() {
			logger.WithField("hour", want).Info("Current hour reading has blank values, skipping")
			break
		}
		selection.Current = &Candidate{Hour: now.Hour(), Reading: reading}
		break
	}

	// "24" and "0" both describe midnight; the rollover wins.
	if selection.Rollover != nil && selection.Current != nil && selection.Current.Hour == 0 {
		selection.Current = nil
	}

	return selection
}
