package footprint

// LevelView is the serializable, price-keyed projection of a Level.
type LevelView struct {
	Price     float64   `json:"price"`
	BuyVol    float64   `json:"buy_vol"`
	SellVol   float64   `json:"sell_vol"`
	Delta     float64   `json:"delta"`
	TotalVol  float64   `json:"total_vol"`
	Imbalance Imbalance `json:"-"`
	ImbStr    string    `json:"imbalance"`
}

// CandleView is the serializable projection of a Candle, enriched with a
// window-scoped cumulative delta field (spec.md §4.3).
type CandleView struct {
	OpenTime   int64       `json:"open_time"`
	Open       float64     `json:"open"`
	High       float64     `json:"high"`
	Low        float64     `json:"low"`
	Close      float64     `json:"close"`
	BuyVol     float64     `json:"buy_vol"`
	SellVol    float64     `json:"sell_vol"`
	Delta      float64     `json:"delta"`
	Levels     []LevelView `json:"levels"`
	Closed     bool        `json:"closed"`
	DeltaMin   float64     `json:"delta_min"`
	DeltaMax   float64     `json:"delta_max"`
	Initiative string      `json:"initiative"`
	OI         float64     `json:"oi"`
	OIChange   float64     `json:"oi_change"`
	CVD        float64     `json:"cvd"` // window-scoped cumulative delta, seeded at 0
}

// State is the read-model snapshot returned by Engine.GetState.
type State struct {
	Symbol    string       `json:"symbol"`
	LastLTP   float64      `json:"last_ltp"`
	CVD       float64      `json:"cvd"` // engine lifetime CVD since last reset
	TickCount int64        `json:"tick_count"`
	Candles   []CandleView `json:"candles"`
}

func newCandleView(c *Candle, ratio float64, runningCVD *float64) CandleView {
	levels := c.LevelsDescending()
	lvlViews := make([]LevelView, 0, len(levels))
	for _, lvl := range levels {
		imb := lvl.Imbalance(ratio)
		lvlViews = append(lvlViews, LevelView{
			Price:     lvl.Price(),
			BuyVol:    lvl.BuyVol,
			SellVol:   lvl.SellVol,
			Delta:     lvl.Delta(),
			TotalVol:  lvl.TotalVol(),
			Imbalance: imb,
			ImbStr:    imb.String(),
		})
	}

	*runningCVD += c.Delta()

	return CandleView{
		OpenTime:   c.OpenTime,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		BuyVol:     c.BuyVol,
		SellVol:    c.SellVol,
		Delta:      c.Delta(),
		Levels:     lvlViews,
		Closed:     c.Closed,
		DeltaMin:   c.DeltaMin,
		DeltaMax:   c.DeltaMax,
		Initiative: c.Initiative.String(),
		OI:         c.OI,
		OIChange:   c.OIChange,
		CVD:        *runningCVD,
	}
}

// GetState returns a snapshot of the engine: last LTP, lifetime CVD, tick
// count, and the most recent `limit` closed candles followed by the open
// candle (spec.md §4.3). The per-candle CVD field is a running sum seeded
// at 0 over this emitted window, distinct from the engine's lifetime CVD.
func (e *Engine) GetState(limit int) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	closed := e.closed
	if limit > 0 && len(closed) > limit {
		closed = closed[len(closed)-limit:]
	}

	views := make([]CandleView, 0, len(closed)+1)
	var windowCVD float64
	for _, c := range closed {
		views = append(views, newCandleView(c, e.params.ImbalanceRatio(), &windowCVD))
	}
	if e.current != nil {
		views = append(views, newCandleView(e.current, e.params.ImbalanceRatio(), &windowCVD))
	}

	return State{
		Symbol:    e.Symbol,
		LastLTP:   e.lastLTP,
		CVD:       e.cvd,
		TickCount: e.tickCount,
		Candles:   views,
	}
}
