package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DollarsToCents converts a float64 dollar amount to int64 cents.
// It rejects inputs with more than 2 decimal places.
func DollarsToCents(f float64) (int64, error) {
	d := decimal.NewFromFloat(f)
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}
	return d.Mul(hundred).IntPart(), nil
}

// CentsToDollars converts an int64 cents value to a float64 dollar amount.
func CentsToDollars(c int64) float64 {
	f, _ := decimal.New(c, -2).Float64()
	return f
}

// FormatCents renders cents as a fixed two-decimal string, e.g. 10100 → "101.00".
func FormatCents(c int64) string {
	return decimal.New(c, -2).StringFixed(2)
}

// Deviation returns (price − market) / market. A non-positive market price
// yields zero.
func Deviation(price, market int64) decimal.Decimal {
	if market <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(price - market).Div(decimal.NewFromInt(market))
}

// WithinTolerance reports whether |Deviation(price, market)| ≤ tolerance.
func WithinTolerance(price, market int64, tolerance decimal.Decimal) bool {
	return Deviation(price, market).Abs().LessThanOrEqual(tolerance)
}

// ScalePrice returns price × (1 + pct) rounded to the nearest cent.
func ScalePrice(price int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(price).Mul(decimal.NewFromInt(1).Add(pct)).Round(0).IntPart()
}

// ScaleQuantity returns qty × ratio rounded half away from zero to a whole unit.
func ScaleQuantity(qty int64, ratio decimal.Decimal) int64 {
	return decimal.NewFromInt(qty).Mul(ratio).Round(0).IntPart()
}

// WeightedAverage combines an existing average over prevQty with a new fill
// of qty at price, rounded to the nearest cent.
func WeightedAverage(prevAvg, prevQty, price, qty int64) int64 {
	total := prevQty + qty
	if total <= 0 {
		return 0
	}
	notional := decimal.NewFromInt(prevAvg).Mul(decimal.NewFromInt(prevQty)).
		Add(decimal.NewFromInt(price).Mul(decimal.NewFromInt(qty)))
	return notional.Div(decimal.NewFromInt(total)).Round(0).IntPart()
}
