package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OperationDateLayout is the wire and storage format of an operation date.
const OperationDateLayout = "2006-01-02"

// ErrValidation marks a key or payload rejected before it reaches the store.
var ErrValidation = errors.New("validation failed")

// System is one of the three interconnected grids a region belongs to.
type System string

const (
	SystemBCA     System = "BCA"
	SystemBCS     System = "BCS"
	SystemSIN     System = "SIN"
	SystemUnknown System = "UNK"
)

func (s System) IsValid() bool {
	switch s {
	case SystemBCA, SystemBCS, SystemSIN:
		return true
	}
	return false
}

// Action is the outcome of an upsert.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	ActionConflict Action = "conflict"
)

// RecordKey is the business identity of a DemandRecord.
type RecordKey struct {
	OperationDate time.Time `db:"operation_date" json:"operation_date"`
	Hour          int       `db:"hour" json:"hour"`
	Region        string    `db:"region" json:"region"`
}

func NewRecordKey(date time.Time, hour int, region string) RecordKey {
	return RecordKey{
		OperationDate: time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Hour:          hour,
		Region:        strings.TrimSpace(region),
	}
}

func (k RecordKey) Validate() error {
	if k.OperationDate.IsZero() {
		return fmt.Errorf("%w: operation date is required", ErrValidation)
	}
	if k.Hour < 0 || k.Hour > 23 {
		return fmt.Errorf("%w: hour %d is outside [0,23]", ErrValidation, k.Hour)
	}
	if strings.TrimSpace(k.Region) == "" {
		return fmt.Errorf("%w: region is required", ErrValidation)
	}
	return nil
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%02d/%s", k.OperationDate.Format(OperationDateLayout), k.Hour, k.Region)
}

// Payload holds the mutable readings of a record. Nil means no data.
type Payload struct {
	Demand     *int64 `db:"demand" json:"demand"`
	Generation *int64 `db:"generation" json:"generation"`
	Forecast   *int64 `db:"forecast" json:"forecast"`
	Link       *int64 `db:"link" json:"link"`
}

// Equal reports whether every field of p matches other, nil included.
func (p Payload) Equal(other Payload) bool {
	return equalValue(p.Demand, other.Demand) &&
		equalValue(p.Generation, other.Generation) &&
		equalValue(p.Forecast, other.Forecast) &&
		equalValue(p.Link, other.Link)
}

func equalValue(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// DemandRecord is the persisted hourly reading of a region.
type DemandRecord struct {
	ID            int64     `db:"id" json:"id"`
	OperationDate time.Time `db:"operation_date" json:"operation_date"`
	Hour          int       `db:"hour" json:"hour"`
	Region        string    `db:"region" json:"region"`
	System        System    `db:"system" json:"system"`
	Demand        *int64    `db:"demand" json:"demand"`
	Generation    *int64    `db:"generation" json:"generation"`
	Forecast      *int64    `db:"forecast" json:"forecast"`
	Link          *int64    `db:"link" json:"link"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	ModifiedAt    time.Time `db:"modified_at" json:"modified_at"`
}

func (DemandRecord) TableName() string {
	return "demand_records"
}

func (r DemandRecord) Key() RecordKey {
	return RecordKey{OperationDate: r.OperationDate, Hour: r.Hour, Region: r.Region}
}

func (r DemandRecord) Payload() Payload {
	return Payload{Demand: r.Demand, Generation: r.Generation, Forecast: r.Forecast, Link: r.Link}
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
