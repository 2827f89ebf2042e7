package selector

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(hour, demand, generation, forecast string) models.Reading {
	return models.Reading{Hour: hour, Demand: demand, Generation: generation, Forecast: forecast}
}

func newSelectorAt(t *testing.T, hour int) *Selector {
	t.Helper()
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)

	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	fixed := time.Date(2025, 3, 14, hour, 20, 0, 0, loc)
	return NewSelector(loc, logger).WithClock(func() time.Time { return fixed.UTC() })
}

func TestSelect_RolloverAndCurrent(t *testing.T) {
	series := []models.Reading{
		reading("24", "900", "880", "910"),
		reading("1", "850", "840", "860"),
		reading("07", "1000", "990", "950"),
	}

	selection := newSelectorAt(t, 7).Select(context.Background(), series)

	assert.Equal(t, "2025-03-14", selection.OperationDate.Format(models.OperationDateLayout))
	require.NotNil(t, selection.Rollover)
	assert.Equal(t, 0, selection.Rollover.Hour)
	assert.True(t, selection.Rollover.Rollover)
	assert.Equal(t, "900", selection.Rollover.Reading.Demand)

	require.NotNil(t, selection.Current)
	assert.Equal(t, 7, selection.Current.Hour)
	assert.Equal(t, "1000", selection.Current.Reading.Demand)

	candidates := selection.Candidates()
	require.Len(t, candidates, 2)
	assert.True(t, candidates[0].Rollover)
}

func TestSelect_CurrentHourNotPublished(t *testing.T) {
	series := []models.Reading{
		reading("1", "850", "840", "860"),
		reading("2", " ", "", "870"),
	}

	selection := newSelectorAt(t, 2).Select(context.Background(), series)
	assert.Nil(t, selection.Current)
	assert.Nil(t, selection.Rollover)
	assert.True(t, selection.Empty())
}

func TestSelect_CurrentHourMissing(t *testing.T) {
	series := []models.Reading{reading("1", "850", "840", "860")}
	assert.True(t, newSelectorAt(t, 15).Select(context.Background(), series).Empty())
}

func TestSelect_BlankFieldsDropCandidate(t *testing.T) {
	series := []models.Reading{
		reading("24", "900", "", "910"),
		reading("3", "850", "840", ""),
	}

	selection := newSelectorAt(t, 3).Select(context.Background(), series)
	assert.Nil(t, selection.Rollover)
	assert.Nil(t, selection.Current)
}

func TestSelect_MidnightLabels(t *testing.T) {
	series := []models.Reading{reading("00", "700", "690", "710")}

	selection := newSelectorAt(t, 0).Select(context.Background(), series)
	require.NotNil(t, selection.Current)
	assert.Equal(t, 0, selection.Current.Hour)
}

func TestSelect_RolloverWinsOverMidnight(t *testing.T) {
	series := []models.Reading{
		reading("24", "900", "880", "910"),
		reading("0", "901", "881", "911"),
	}

	selection := newSelectorAt(t, 0).Select(context.Background(), series)
	require.NotNil(t, selection.Rollover)
	assert.Nil(t, selection.Current)
	assert.Len(t, selection.Candidates(), 1)
}

func TestSelect_UsesConfiguredTimeZone(t *testing.T) {
	// 05:20 UTC is 23:20 the previous day in Mexico City
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)
	s := NewSelector(loc, logger).WithClock(func() time.Time {
		return time.Date(2025, 3, 15, 5, 20, 0, 0, time.UTC)
	})

	selection := s.Select(context.Background(), []models.Reading{reading("23", "1", "1", "1")})
	require.NotNil(t, selection.Current)
	assert.Equal(t, 23, selection.Current.Hour)
	assert.Equal(t, "2025-03-14", selection.OperationDate.Format(models.OperationDateLayout))
}
