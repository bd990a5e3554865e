package snapshot

import (
	"testing"
	"time"

	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/state"
)

func testParams() *footprint.Params {
	return footprint.NewParams(60_000, 3.0, 100, 100)
}

func TestWriteAndRestoreRoundTrip(t *testing.T) {
	st := state.New(testParams(), 0)
	if err := st.Subscribe("TEST", 1, "NSE_FO"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	engine := st.Engine("TEST")

	base := time.Now().Truncate(24 * time.Hour).UnixMilli()
	engine.ApplyTick(footprint.Tick{LTP: 100.05, Bid: 100.00, Ask: 100.05, LTQ: 10, TsMs: base})
	engine.ApplyTick(footprint.Tick{LTP: 100.10, Bid: 100.05, Ask: 100.10, LTQ: 5, TsMs: base + 61_000})

	store := New(t.TempDir())
	store.WriteAll(st.Engines())

	restored := state.New(testParams(), 0)
	if err := restored.Subscribe("TEST", 1, "NSE_FO"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	store.RestoreAll(restored, base-1, 100)

	closed := restored.Engine("TEST").ClosedCandles()
	if len(closed) != 1 {
		t.Fatalf("expected 1 restored closed candle, got %d", len(closed))
	}
	if closed[0].BuyVol != 10 {
		t.Fatalf("expected restored buy_vol=10, got %v", closed[0].BuyVol)
	}
	if len(closed[0].LevelsDescending()) != 1 {
		t.Fatalf("expected 1 restored level, got %d", len(closed[0].LevelsDescending()))
	}
}

func TestRestoreFiltersCandlesBeforeBoundary(t *testing.T) {
	st := state.New(testParams(), 0)
	st.Subscribe("TEST", 1, "NSE_FO")
	engine := st.Engine("TEST")

	yesterday := time.Now().Add(-48 * time.Hour).UnixMilli()
	today := time.Now().UnixMilli()

	engine.ApplyTick(footprint.Tick{LTP: 100, LTQ: 1, TsMs: yesterday})
	engine.ApplyTick(footprint.Tick{LTP: 101, LTQ: 1, TsMs: today})
	engine.ApplyTick(footprint.Tick{LTP: 102, LTQ: 1, TsMs: today + 61_000}) // rolls both prior candles closed

	store := New(t.TempDir())
	store.WriteAll(st.Engines())

	// today's own candle is floored to its 60s bucket, which can land up to
	// 59999ms before the "today" timestamp itself; use an hour-wide margin
	// so the boundary sits reliably between yesterday's candle and today's,
	// regardless of where in the minute the test happens to run.
	boundary := today - time.Hour.Milliseconds()

	restored := state.New(testParams(), 0)
	restored.Subscribe("TEST", 1, "NSE_FO")
	store.RestoreAll(restored, boundary, 100)

	closed := restored.Engine("TEST").ClosedCandles()
	if len(closed) != 1 {
		t.Fatalf("expected only today's candle restored, got %d", len(closed))
	}
}

func TestClearRemovesAllSnapshotFiles(t *testing.T) {
	dir := t.TempDir()
	st := state.New(testParams(), 0)
	st.Subscribe("A", 1, "NSE_FO")
	st.Subscribe("B", 2, "NSE_FO")
	st.Engine("A").ApplyTick(footprint.Tick{LTP: 100, LTQ: 1, TsMs: 0})
	st.Engine("A").ApplyTick(footprint.Tick{LTP: 100, LTQ: 1, TsMs: 61_000}) // closes A's first candle, so its file has one to restore
	st.Engine("B").ApplyTick(footprint.Tick{LTP: 100, LTQ: 1, TsMs: 0})

	store := New(dir)
	store.WriteAll(st.Engines())
	store.Clear()

	fresh := state.New(testParams(), 0)
	fresh.Subscribe("A", 1, "NSE_FO")
	store.RestoreAll(fresh, 0, 100)
	if len(fresh.Engine("A").ClosedCandles()) != 0 {
		t.Fatalf("expected no candles restorable after Clear")
	}
}
