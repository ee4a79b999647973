package metrics

import "time"

// Aggregation pipeline series.
const (
	ReportsTotal          = "aggregation_reports_total"
	LiveIncrementsTotal   = "aggregation_live_increments_total"
	LiveSeedsTotal        = "aggregation_live_seeds_total"
	AccumulatedDeltaTotal = "aggregation_accumulated_delta_total"
	AccumulatorWindows    = "aggregation_accumulator_windows_total"
	FlushRunsTotal        = "aggregation_flush_runs_total"
	FlushKeysTotal        = "aggregation_flush_keys_total"
	FlushAppliedDelta     = "aggregation_flush_applied_delta_total"
	FlushDuration         = "aggregation_flush_duration_ms"
)

// RecordReport counts a processed error report and how many errors it carried.
func RecordReport(errorCount int, success bool) {
	counter(ReportsTotal, 1, labels{"status": outcome(success, "success", "failure")})
	if success && errorCount > 0 {
		counter(LiveIncrementsTotal, float64(errorCount), nil)
	}
}

// RecordLiveSeed counts a live counter seeded from the durable store.
// found reports whether a durable record existed.
func RecordLiveSeed(found bool) {
	counter(LiveSeedsTotal, 1, labels{"source": outcome(found, "store", "empty")})
}

// RecordAccumulate counts delta added to the batch accumulator. opened marks
// the add that created a new coalescing window.
func RecordAccumulate(delta int64, opened bool) {
	counter(AccumulatedDeltaTotal, float64(delta), nil)
	if opened {
		counter(AccumulatorWindows, 1, nil)
	}
}

// RecordFlushKey counts the outcome of draining one accumulator key.
func RecordFlushKey(result string) {
	counter(FlushKeysTotal, 1, labels{"outcome": result})
}

// RecordFlushRun records a completed flush pass.
func RecordFlushRun(trigger string, appliedDelta int64, failed int, duration time.Duration) {
	counter(FlushRunsTotal, 1, labels{
		"trigger": trigger,
		"status":  outcome(failed == 0, "complete", "partial"),
	})
	counter(FlushAppliedDelta, float64(appliedDelta), nil)
	histogram(FlushDuration, duration, labels{"trigger": trigger})
}
