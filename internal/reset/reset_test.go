package reset

import (
	"testing"
	"time"

	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/snapshot"
	"orderflow-engine/internal/state"
)

func params() *footprint.Params {
	return footprint.NewParams(60_000, 3.0, 100, 100)
}

func TestFirstCallOnlyStampsDate(t *testing.T) {
	st := state.New(params(), 0)
	if err := st.Subscribe("TEST", 1, "NSE_FO"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	st.Engine("TEST").ApplyTick(footprint.Tick{LTP: 100, LTQ: 10, TsMs: 0})

	snaps := snapshot.New(t.TempDir())
	sched := New(st, snaps)

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, Offset)
	sched.CheckOnce(now)

	if st.LastResetDate() != TodayDate(now) {
		t.Fatalf("expected last reset date stamped on first call")
	}
	if st.Engine("TEST").TickCount() != 1 {
		t.Fatalf("expected engine state untouched by first call, tick count=%d", st.Engine("TEST").TickCount())
	}
}

func TestSameDayIsNoop(t *testing.T) {
	st := state.New(params(), 0)
	st.Subscribe("TEST", 1, "NSE_FO")
	st.Engine("TEST").ApplyTick(footprint.Tick{LTP: 100, LTQ: 10, TsMs: 0})

	snaps := snapshot.New(t.TempDir())
	sched := New(st, snaps)

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, Offset)
	sched.CheckOnce(now) // stamps
	sched.CheckOnce(now) // same date, must be a no-op

	if st.Engine("TEST").TickCount() != 1 {
		t.Fatalf("expected no clear on same-day call, tick count=%d", st.Engine("TEST").TickCount())
	}
}

func TestDateRolloverClearsEngines(t *testing.T) {
	st := state.New(params(), 0)
	st.Subscribe("TEST", 1, "NSE_FO")
	st.Engine("TEST").ApplyTick(footprint.Tick{LTP: 100, LTQ: 10, TsMs: 0})

	snaps := snapshot.New(t.TempDir())
	sched := New(st, snaps)

	day1 := time.Date(2026, 8, 1, 23, 59, 0, 0, Offset)
	sched.CheckOnce(day1)

	day2 := time.Date(2026, 8, 2, 0, 1, 0, 0, Offset)
	sched.CheckOnce(day2)

	if st.Engine("TEST").TickCount() != 0 {
		t.Fatalf("expected engine cleared after date rollover, tick count=%d", st.Engine("TEST").TickCount())
	}
	if st.LastResetDate() != TodayDate(day2) {
		t.Fatalf("expected last reset date advanced to day2")
	}
}
