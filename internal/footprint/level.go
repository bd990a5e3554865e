// Package footprint implements the per-symbol tick classification and
// footprint-candle aggregation core.
package footprint

import "math"

// Imbalance is a three-state tagged label, never a string (spec.md §9
// redesign guidance: "string side tags → a three-state tagged enum").
type Imbalance int8

const (
	ImbalanceNone Imbalance = iota
	ImbalanceBuy
	ImbalanceSell
)

func (i Imbalance) String() string {
	switch i {
	case ImbalanceBuy:
		return "buy"
	case ImbalanceSell:
		return "sell"
	default:
		return "none"
	}
}

// priceGrid is the bucket width ticks are rounded to (0.05).
const priceGrid = 0.05

// tickIndex maps a price onto the 0.05 grid as an integer key, avoiding the
// float-equality hazards of keying a map directly by price (spec.md §9).
func tickIndex(price float64) int64 {
	return int64(math.Round(price / priceGrid))
}

func indexToPrice(idx int64) float64 {
	// float64(idx)*priceGrid accumulates binary-fraction error (e.g. idx=2001
	// yields 100.05000000000001); round back to the grid's own precision.
	return math.Round(float64(idx)*priceGrid*100) / 100
}

// Level is a single price-bucket record within a candle. Delta, TotalVol and
// Imbalance are derived on read; nothing here is a stored, driftable field.
type Level struct {
	TickIndex int64
	BuyVol    float64
	SellVol   float64
}

// Price returns the bucket's display price, rounded to the 0.05 grid.
func (l *Level) Price() float64 {
	return indexToPrice(l.TickIndex)
}

// Delta returns buy volume minus sell volume for this level.
func (l *Level) Delta() float64 {
	return l.BuyVol - l.SellVol
}

// TotalVol returns the total traded volume at this level.
func (l *Level) TotalVol() float64 {
	return l.BuyVol + l.SellVol
}

// Imbalance reports whether one side of this level dominates the other by
// at least ratio, per spec.md §3: buy iff buy/sell >= ratio && sell > 0,
// symmetric for sell, none otherwise.
func (l *Level) Imbalance(ratio float64) Imbalance {
	if l.SellVol > 0 && l.BuyVol/l.SellVol >= ratio {
		return ImbalanceBuy
	}
	if l.BuyVol > 0 && l.SellVol/l.BuyVol >= ratio {
		return ImbalanceSell
	}
	return ImbalanceNone
}
