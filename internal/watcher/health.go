package watcher

// Health grades a target by its failure counters. It is derived, never
// stored: the counters in WatcherState are the source of truth.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Failing  Health = "failing"
)

// Thresholds hold the counter levels at which health degrades.
type Thresholds struct {
	// Degraded is the consecutive fetch failures that mark a target
	// degraded (and emit one degraded alert at the crossing).
	Degraded int
	// Failing is the consecutive fetch failures that mark a target failing.
	Failing int
	// Unknown is the consecutive empty extractions that mark a target
	// degraded.
	Unknown int
}

func (t *Thresholds) defaults() {
	if t.Degraded <= 0 {
		t.Degraded = 5
	}
	if t.Failing <= 0 {
		t.Failing = 10
	}
	if t.Unknown <= 0 {
		t.Unknown = 5
	}
}

// HealthOf derives the indicator from the persisted counters. Extraction
// trouble alone never exceeds degraded; only fetch failures reach failing.
func (t Thresholds) HealthOf(consecutiveFailures, unknownStreak int) Health {
	switch {
	case consecutiveFailures >= t.Failing:
		return Failing
	case consecutiveFailures >= t.Degraded || unknownStreak >= t.Unknown:
		return Degraded
	default:
		return Healthy
	}
}
