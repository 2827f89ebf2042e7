package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RolloverHour is the label upstream uses for hour 0 of the next day.
const RolloverHour = "24"

// Reading is one hourly element of the upstream series, values kept as the
// raw strings upstream sent.
type Reading struct {
	Hour       string  `json:"hora"`
	Demand     string  `json:"valorDemanda"`
	Generation string  `json:"valorGeneracion"`
	Link       *string `json:"valorEnlace"`
	Forecast   string  `json:"valorPronostico"`
}

// NormalizedHour strips leading zeros, keeping "0" for midnight.
func (r Reading) NormalizedHour() string {
	h := strings.TrimLeft(strings.TrimSpace(r.Hour), "0")
	if h == "" {
		return "0"
	}
	return h
}

func (r Reading) IsRollover() bool {
	return strings.TrimSpace(r.Hour) == RolloverHour
}

// Complete reports whether demand, generation and forecast all carry data.
func (r Reading) Complete() bool {
	return !IsBlank(r.Demand) && !IsBlank(r.Generation) && !IsBlank(r.Forecast)
}

// Payload converts the raw strings into a Payload. Blank values become nil.
func (r Reading) Payload() (Payload, error) {
	var p Payload
	var err error
	if p.Demand, err = ParseValue(r.Demand); err != nil {
		return Payload{}, fmt.Errorf("demand: %w", err)
	}
	if p.Generation, err = ParseValue(r.Generation); err != nil {
		return Payload{}, fmt.Errorf("generation: %w", err)
	}
	if p.Forecast, err = ParseValue(r.Forecast); err != nil {
		return Payload{}, fmt.Errorf("forecast: %w", err)
	}
	if r.Link != nil {
		if p.Link, err = ParseValue(*r.Link); err != nil {
			return Payload{}, fmt.Errorf("link: %w", err)
		}
	}
	return p, nil
}

func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ParseValue reads an upstream numeric string such as "1,234" or "1234.0".
// Fractions are rounded to the nearest integer.
func ParseValue(s string) (*int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrValidation, s)
	}
	v := d.Round(0).IntPart()
	return &v, nil
}
