package deviation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionHigher         Direction = "higher"
	DirectionLower          Direction = "lower"
	DirectionEqual          Direction = "equal"
	DirectionDivisionByZero Direction = "division_by_zero"
)

var hundred = decimal.NewFromInt(100)

// Result is the absolute percentage deviation of demand from forecast,
// rounded to two decimals, and which side of the forecast demand landed on.
type Result struct {
	Percent   decimal.Decimal `json:"percent"`
	Direction Direction       `json:"direction"`
}

// Evaluable is false when the forecast was zero and no deviation exists.
func (r Result) Evaluable() bool {
	return r.Direction != DirectionDivisionByZero
}

// Exceeds reports whether the deviation is evaluable and at least threshold
// percent.
func (r Result) Exceeds(threshold decimal.Decimal) bool {
	return r.Evaluable() && r.Percent.GreaterThanOrEqual(threshold)
}

func (r Result) String() string {
	if !r.Evaluable() {
		return "n/a (forecast is zero)"
	}
	return fmt.Sprintf("%s%% %s", r.Percent.StringFixed(2), r.Direction)
}

func Calculate(forecast, demand int64) Result {
	if forecast == 0 {
		return Result{Percent: decimal.Zero, Direction: DirectionDivisionByZero}
	}

	f := decimal.NewFromInt(forecast)
	d := decimal.NewFromInt(demand)
	percent := d.Sub(f).Div(f).Mul(hundred).Round(2).Abs()

	direction := DirectionEqual
	switch {
	case demand > forecast:
		direction = DirectionHigher
	case demand < forecast:
		direction = DirectionLower
	}

	return Result{Percent: percent, Direction: direction}
}
