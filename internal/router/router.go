// Package router maps decoded ticks to their owning footprint engine and
// gates the resulting broadcast (spec.md §4.5).
package router

import (
	"runtime"
	"sync/atomic"
	"time"

	"orderflow-engine/internal/decode"
	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/metrics"
	"orderflow-engine/internal/state"
)

// Broadcaster is the minimal surface the router needs; satisfied by
// *broadcast.Broadcaster. Kept as an interface here so router stays
// independent of the websocket transport.
type Broadcaster interface {
	ShouldBroadcast(symbol string, nowMs int64) bool
	BroadcastSymbol(symbol string)
}

// Router forwards decoded ticks to the right engine and gates fan-out.
type Router struct {
	state       *state.AppState
	broadcaster Broadcaster

	// gcIntervalTicks mirrors the original's "run gc every N ticks" memory
	// hygiene measure (spec.md §6 GC_INTERVAL_TICKS); tickCounter is the
	// process-wide tick count driving it. 0 disables the forced collection.
	gcIntervalTicks int64
	tickCounter     int64
}

// New constructs a Router bound to st and b, forcing a GC every
// gcIntervalTicks processed ticks (0 disables it).
func New(st *state.AppState, b Broadcaster, gcIntervalTicks int) *Router {
	return &Router{state: st, broadcaster: b, gcIntervalTicks: int64(gcIntervalTicks)}
}

// Route resolves t.SecurityID to a symbol, applies the tick to its engine,
// and gates a broadcast. Ticks for unmapped security ids are dropped
// silently (spec.md §4.5: "If no mapping or the symbol has no engine,
// drop the tick").
func (r *Router) Route(t decode.Tick) {
	if t.LTP <= 0 {
		return
	}

	symbol, ok := r.state.SymbolForSecurityID(t.SecurityID)
	if !ok {
		return
	}

	engine := r.state.Engine(symbol)
	if engine == nil {
		return
	}

	engine.ApplyTick(footprint.Tick{
		LTP:                 t.LTP,
		Bid:                 t.Bid,
		Ask:                 t.Ask,
		LTQ:                 t.LTQ,
		TsMs:                t.TsMs,
		HasCumulativeVolume: t.HasCumulativeVolume,
		CumulativeVolume:    t.CumulativeVolume,
		HasOI:               t.HasOI,
		OI:                  t.OI,
	})
	metrics.TicksTotal.WithLabelValues(symbol).Inc()

	if r.gcIntervalTicks > 0 && atomic.AddInt64(&r.tickCounter, 1)%r.gcIntervalTicks == 0 {
		runtime.GC()
	}

	// Gate on wall-clock time, not the market-data timestamp: the broadcast
	// rate limit is a server-side pacing concern (spec.md §4.6/§5), and an
	// upstream timestamp that stalls or jumps must not distort it.
	if r.broadcaster.ShouldBroadcast(symbol, time.Now().UnixMilli()) {
		r.broadcaster.BroadcastSymbol(symbol)
	}
}
