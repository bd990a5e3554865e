// Package reset implements the daily wall-clock reset scheduler of
// spec.md §4.10: trading-day boundary at local midnight of a fixed
// UTC+05:30 offset zone, idempotent via a last-reset-date token.
package reset

import (
	"context"
	"log"
	"runtime"
	"time"

	"orderflow-engine/internal/snapshot"
	"orderflow-engine/internal/state"
)

// Offset is the fixed trading-day timezone offset (UTC+05:30), per
// spec.md §4.10.
var Offset = time.FixedZone("orderflow-trading-day", 5*3600+30*60)

const pollInterval = 300 * time.Second

// Scheduler periodically checks whether the calendar date (in Offset) has
// rolled over and, if so, clears all engine state.
type Scheduler struct {
	state     *state.AppState
	snapshots *snapshot.Store
}

// New constructs a Scheduler bound to st and snapshots.
func New(st *state.AppState, snapshots *snapshot.Store) *Scheduler {
	return &Scheduler{state: st, snapshots: snapshots}
}

// TodayDate returns today's calendar-date string in Offset, the format
// used as the idempotency token (restore filtering uses TodayBoundaryMs).
func TodayDate(now time.Time) string {
	return now.In(Offset).Format("2006-01-02")
}

// TodayBoundaryMs returns the unix-ms timestamp of local midnight in
// Offset for now, the restore-filter boundary of spec.md §4.8.
func TodayBoundaryMs(now time.Time) int64 {
	local := now.In(Offset)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Offset)
	return midnight.UnixMilli()
}

// CheckOnce runs one idempotent check-and-maybe-reset pass (spec.md
// §4.10). On the very first call of the process (empty last_reset_date)
// it only stamps today's date, deferring to the startup snapshot restore
// to repopulate engines.
func (s *Scheduler) CheckOnce(now time.Time) {
	today := TodayDate(now)
	last := s.state.LastResetDate()

	if last == "" {
		s.state.SetLastResetDate(today)
		return
	}

	if last == today {
		return
	}

	log.Printf("[reset] trading day rolled over from %s to %s, clearing engines", last, today)
	s.state.ClearAllEngines()
	s.snapshots.Clear()
	runtime.GC()
	s.state.SetLastResetDate(today)
}

// Run polls every 300 s until ctx is cancelled (spec.md §4.10).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(time.Now())
		}
	}
}
