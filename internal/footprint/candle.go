package footprint

import "sort"

// Candle is a time-bucketed footprint aggregate keyed by OpenTime (unix ms,
// floored to the bucket width). See spec.md §3 for the invariants this
// type must hold at every point in its lifecycle.
type Candle struct {
	OpenTime int64 // unix ms, floored to bucket width

	Open  float64
	High  float64
	Low   float64
	Close float64

	BuyVol  float64
	SellVol float64

	Levels map[int64]*Level // keyed by tick index, iteration order irrelevant

	Closed bool

	DeltaMin float64 // running min of cumulative delta within the candle, <= 0
	DeltaMax float64 // running max of cumulative delta within the candle, >= 0

	Initiative Imbalance // assigned at close, from the sign of final delta

	OI       float64
	OIChange float64

	lowSet bool // Low has no natural "unset" sentinel; track explicitly
}

// NewCandle opens a fresh candle for bucketTs at price ltp.
func NewCandle(bucketTs int64, ltp float64) *Candle {
	return &Candle{
		OpenTime: bucketTs,
		Open:     ltp,
		High:     ltp,
		Low:      ltp,
		Close:    ltp,
		Levels:   make(map[int64]*Level),
		lowSet:   true,
	}
}

// Delta returns buy volume minus sell volume for the whole candle.
func (c *Candle) Delta() float64 {
	return c.BuyVol - c.SellVol
}

// applyPrice folds a new trade price into OHLC.
func (c *Candle) applyPrice(price float64) {
	if !c.lowSet || price < c.Low {
		c.Low = price
		c.lowSet = true
	}
	if price > c.High {
		c.High = price
	}
	c.Close = price
}

// addVolume records classified volume at the given price's bucket, creating
// the level if absent, evicting the lowest-price level first if the level
// count would exceed maxLevels (spec.md §4.2 step 5).
func (c *Candle) addVolume(price float64, buyVol, sellVol float64, maxLevels int) {
	idx := tickIndex(price)
	lvl, ok := c.Levels[idx]
	if !ok {
		if maxLevels > 0 && len(c.Levels) >= maxLevels {
			c.evictLowestPrice()
		}
		lvl = &Level{TickIndex: idx}
		c.Levels[idx] = lvl
	}
	lvl.BuyVol += buyVol
	lvl.SellVol += sellVol

	c.BuyVol += buyVol
	c.SellVol += sellVol

	delta := c.Delta()
	if delta < c.DeltaMin {
		c.DeltaMin = delta
	}
	if delta > c.DeltaMax {
		c.DeltaMax = delta
	}
}

func (c *Candle) evictLowestPrice() {
	var lowestIdx int64
	first := true
	for idx := range c.Levels {
		if first || idx < lowestIdx {
			lowestIdx = idx
			first = false
		}
	}
	if !first {
		delete(c.Levels, lowestIdx)
	}
}

// close finalizes the candle: sets Initiative from the sign of the final
// delta and marks it immutable. Called once, when the engine rolls to a new
// bucket.
func (c *Candle) close() {
	delta := c.Delta()
	switch {
	case delta > 0:
		c.Initiative = ImbalanceBuy
	case delta < 0:
		c.Initiative = ImbalanceSell
	default:
		c.Initiative = ImbalanceNone
	}
	c.Closed = true
}

// RestoreLevel seeds a level directly from persisted volumes, bypassing the
// live addVolume accounting (spec.md §4.8 snapshot restore path).
func (c *Candle) RestoreLevel(price, buyVol, sellVol float64) {
	idx := tickIndex(price)
	c.Levels[idx] = &Level{TickIndex: idx, BuyVol: buyVol, SellVol: sellVol}
}

// LevelsDescending returns the candle's levels ordered by price, highest
// first, for display/serialization (spec.md §4.3: "price-descending").
func (c *Candle) LevelsDescending() []*Level {
	out := make([]*Level, 0, len(c.Levels))
	for _, lvl := range c.Levels {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TickIndex > out[j].TickIndex
	})
	return out
}
