package upstream

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/state"
)

const (
	syntheticBatchSize = 40
	syntheticCadence   = 250 * time.Millisecond
	syntheticSigma     = 5.0
	syntheticSpread    = 0.5
	syntheticMinQty    = 50.0
	syntheticMaxQty    = 500.0
)

// SyntheticFeed emits a Gaussian random walk tick per registered symbol
// when no upstream credentials are configured, so downstream consumers
// see an identical pipeline regardless of feed origin (spec.md §4.9).
type SyntheticFeed struct {
	state     *state.AppState
	rng       *rand.Rand
	broadcast func(symbol string)

	lastPrice map[string]float64
}

// NewSyntheticFeed constructs a feed seeded from seed for deterministic
// tests; production wiring should pass a time-derived seed. broadcast is
// invoked after each emitted tick, mirroring the router's post-engine
// broadcast gate; it may be nil.
func NewSyntheticFeed(st *state.AppState, seed int64, broadcast func(symbol string)) *SyntheticFeed {
	return &SyntheticFeed{
		state:     st,
		rng:       rand.New(rand.NewSource(seed)),
		broadcast: broadcast,
		lastPrice: make(map[string]float64),
	}
}

// Run drives ticks into every registered engine until ctx is cancelled,
// rotating through symbols in batches of syntheticBatchSize.
func (f *SyntheticFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(syntheticCadence)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			offset = f.tickBatch(offset)
		}
	}
}

func (f *SyntheticFeed) tickBatch(offset int) int {
	symbols := make([]string, 0, f.state.SymbolCount())
	for symbol := range f.state.Engines() {
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		return 0
	}
	// Engines() returns a map, whose iteration order is randomized per call;
	// sort so offset means the same position across successive tickBatch
	// calls and the round-robin actually rotates evenly.
	sort.Strings(symbols)

	now := time.Now().UnixMilli()
	end := offset + syntheticBatchSize
	for i := offset; i < end; i++ {
		symbol := symbols[i%len(symbols)]
		f.emit(symbol, now)
	}
	return end % len(symbols)
}

func (f *SyntheticFeed) emit(symbol string, nowMs int64) {
	engine := f.state.Engine(symbol)
	if engine == nil {
		return
	}

	base, ok := f.lastPrice[symbol]
	if !ok {
		base = 100.0 + f.rng.Float64()*900.0
	}

	next := base + f.rng.NormFloat64()*syntheticSigma
	if next <= 0 {
		next = base
	}
	f.lastPrice[symbol] = next

	qty := syntheticMinQty + f.rng.Float64()*(syntheticMaxQty-syntheticMinQty)

	engine.ApplyTick(footprint.Tick{
		LTP:                 math.Round(next*20) / 20,
		Bid:                 next - syntheticSpread,
		Ask:                 next + syntheticSpread,
		LTQ:                 qty,
		TsMs:                nowMs,
		HasCumulativeVolume: false,
	})

	if f.broadcast != nil {
		f.broadcast(symbol)
	}
}
