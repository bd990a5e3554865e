// Package snapshot persists and restores each engine's closed-candle
// sequence to flat files, using the tmp+rename atomic-write pattern
// (spec.md §4.8).
package snapshot

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/state"
)

// Store writes and restores per-symbol snapshot files under dir.
type Store struct {
	dir string
}

// New constructs a Store rooted at dir, creating it if absent.
func New(dir string) *Store {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[snapshot] could not create snapshot dir %s: %v", dir, err)
	}
	return &Store{dir: dir}
}

func (s *Store) pathFor(symbol string) string {
	return filepath.Join(s.dir, symbol+".json")
}

// persistedCandle mirrors footprint.Candle's persisted fields; only closed
// candles are ever written (spec.md §4.8: "open candles are never
// persisted").
type persistedCandle struct {
	OpenTime   int64                    `json:"open_time"`
	Open       float64                  `json:"open"`
	High       float64                  `json:"high"`
	Low        float64                  `json:"low"`
	Close      float64                  `json:"close"`
	BuyVol     float64                  `json:"buy_vol"`
	SellVol    float64                  `json:"sell_vol"`
	DeltaMin   float64              `json:"delta_min"`
	DeltaMax   float64              `json:"delta_max"`
	Initiative footprint.Imbalance  `json:"initiative"`
	OI         float64              `json:"oi"`
	OIChange   float64              `json:"oi_change"`
	Levels     []persistedLevel     `json:"levels"`
}

type persistedLevel struct {
	Price   float64 `json:"price"`
	BuyVol  float64 `json:"buy_vol"`
	SellVol float64 `json:"sell_vol"`
}

// WriteAll serializes every engine's closed candles to disk via tmp+rename
// (spec.md §4.8).
func (s *Store) WriteAll(engines map[string]*footprint.Engine) {
	for symbol, engine := range engines {
		if err := s.writeOne(symbol, engine); err != nil {
			log.Printf("[snapshot] write %s failed: %v", symbol, err)
		}
	}
}

func (s *Store) writeOne(symbol string, engine *footprint.Engine) error {
	closed := engine.ClosedCandles()
	persisted := make([]persistedCandle, 0, len(closed))
	for _, c := range closed {
		persisted = append(persisted, toPersisted(c))
	}

	raw, err := json.Marshal(persisted)
	if err != nil {
		return err
	}

	final := s.pathFor(symbol)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func toPersisted(c *footprint.Candle) persistedCandle {
	levels := c.LevelsDescending()
	out := persistedCandle{
		OpenTime:   c.OpenTime,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		BuyVol:     c.BuyVol,
		SellVol:    c.SellVol,
		DeltaMin:   c.DeltaMin,
		DeltaMax:   c.DeltaMax,
		Initiative: c.Initiative,
		OI:         c.OI,
		OIChange:   c.OIChange,
		Levels:     make([]persistedLevel, 0, len(levels)),
	}
	for _, l := range levels {
		out.Levels = append(out.Levels, persistedLevel{Price: l.Price(), BuyVol: l.BuyVol, SellVol: l.SellVol})
	}
	return out
}

// RestoreAll reads every engine's snapshot file and seeds closed candles
// whose open_time falls on or after todayBoundaryMs, capped to maxCandles
// (spec.md §4.8: "restore only those closed candles whose open_time is
// ≥ the most recent local-midnight boundary").
func (s *Store) RestoreAll(st *state.AppState, todayBoundaryMs int64, maxCandles int) {
	for symbol, engine := range st.Engines() {
		candles, err := s.readOne(symbol, todayBoundaryMs)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("[snapshot] restore %s failed: %v", symbol, err)
			}
			continue
		}
		if len(candles) == 0 {
			continue
		}
		if maxCandles > 0 && len(candles) > maxCandles {
			candles = candles[len(candles)-maxCandles:]
		}
		engine.RestoreClosed(candles)
	}
}

func (s *Store) readOne(symbol string, todayBoundaryMs int64) ([]*footprint.Candle, error) {
	raw, err := os.ReadFile(s.pathFor(symbol))
	if err != nil {
		return nil, err
	}

	var persisted []persistedCandle
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("decode %s: %w", symbol, err)
	}

	out := make([]*footprint.Candle, 0, len(persisted))
	for _, p := range persisted {
		if p.OpenTime < todayBoundaryMs {
			continue
		}
		out = append(out, fromPersisted(p))
	}
	return out, nil
}

func fromPersisted(p persistedCandle) *footprint.Candle {
	c := footprint.NewCandle(p.OpenTime, p.Open)
	c.High = p.High
	c.Low = p.Low
	c.Close = p.Close
	c.BuyVol = p.BuyVol
	c.SellVol = p.SellVol
	c.DeltaMin = p.DeltaMin
	c.DeltaMax = p.DeltaMax
	c.Initiative = p.Initiative
	c.OI = p.OI
	c.OIChange = p.OIChange
	for _, l := range p.Levels {
		c.RestoreLevel(l.Price, l.BuyVol, l.SellVol)
	}
	c.Closed = true
	return c
}

// RunPeriodic writes all engines' snapshots once after the initial delay,
// then every interval, until stop is closed (spec.md §4.8: "60 s after
// startup, then every 300 s").
func (s *Store) RunPeriodic(engines func() map[string]*footprint.Engine, initialDelay, interval time.Duration, stop <-chan struct{}) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	select {
	case <-stop:
		return
	case <-timer.C:
		s.WriteAll(engines())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.WriteAll(engines())
		}
	}
}

// Clear deletes every snapshot file in the store's directory (spec.md
// §4.10: "delete every snapshot file in the snapshot directory").
func (s *Store) Clear() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			log.Printf("[snapshot] remove %s failed: %v", entry.Name(), err)
		}
	}
}
