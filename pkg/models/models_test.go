package models

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKey_Validate(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		key     RecordKey
		wantErr bool
	}{
		{"valid midnight", NewRecordKey(date, 0, "Central"), false},
		{"valid last hour", NewRecordKey(date, 23, "Central"), false},
		{"hour 24", NewRecordKey(date, 24, "Central"), true},
		{"negative hour", NewRecordKey(date, -1, "Central"), true},
		{"blank region", NewRecordKey(date, 5, "  "), true},
		{"zero date", RecordKey{Hour: 5, Region: "Central"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewRecordKey_TruncatesToDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)

	key := NewRecordKey(time.Date(2025, 3, 14, 23, 30, 0, 0, loc), 23, " Oriental ")
	assert.Equal(t, "2025-03-14", key.OperationDate.Format(OperationDateLayout))
	assert.Equal(t, "Oriental", key.Region)
	assert.Equal(t, "2025-03-14/23/Oriental", key.String())
}

func TestPayload_Equal(t *testing.T) {
	base := Payload{Demand: Int64(100), Generation: Int64(90), Forecast: Int64(95)}

	assert.True(t, base.Equal(Payload{Demand: Int64(100), Generation: Int64(90), Forecast: Int64(95)}))
	assert.False(t, base.Equal(Payload{Demand: Int64(101), Generation: Int64(90), Forecast: Int64(95)}))
	assert.False(t, base.Equal(Payload{Demand: Int64(100), Generation: Int64(90), Forecast: Int64(95), Link: Int64(0)}))
	assert.False(t, base.Equal(Payload{Generation: Int64(90), Forecast: Int64(95)}))
}

func TestReading_NormalizedHour(t *testing.T) {
	assert.Equal(t, "0", Reading{Hour: "00"}.NormalizedHour())
	assert.Equal(t, "0", Reading{Hour: "0"}.NormalizedHour())
	assert.Equal(t, "7", Reading{Hour: "07"}.NormalizedHour())
	assert.Equal(t, "13", Reading{Hour: " 13 "}.NormalizedHour())
	assert.True(t, Reading{Hour: "24"}.IsRollover())
}

func TestReading_Payload(t *testing.T) {
	link := " "
	r := Reading{Hour: "3", Demand: "1,234", Generation: "1200.6", Forecast: "1100", Link: &link}

	p, err := r.Payload()
	require.NoError(t, err)
	assert.Equal(t, int64(1234), *p.Demand)
	assert.Equal(t, int64(1201), *p.Generation)
	assert.Equal(t, int64(1100), *p.Forecast)
	assert.Nil(t, p.Link)
	assert.True(t, r.Complete())

	_, err = Reading{Demand: "n/a"}.Payload()
	assert.ErrorIs(t, err, ErrValidation)

	assert.False(t, Reading{Demand: "1", Generation: "", Forecast: "1"}.Complete())
}

func TestParseRegions(t *testing.T) {
	regions, err := ParseRegions([]string{"1:Central", " 7 : Baja California ", ""})
	require.NoError(t, err)
	assert.Equal(t, []Region{{ID: "1", Name: "Central"}, {ID: "7", Name: "Baja California"}}, regions)

	_, err = ParseRegions([]string{"Central"})
	assert.Error(t, err)
}

func TestSystem_IsValid(t *testing.T) {
	assert.True(t, SystemSIN.IsValid())
	assert.False(t, SystemUnknown.IsValid())
	assert.False(t, System("XYZ").IsValid())
}
