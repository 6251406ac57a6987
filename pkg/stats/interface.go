package stats

import "time"

// Collector receives operation events from the engine and structural
// events from the tree, and reports them as a flat map.
type Collector interface {
	TrackOperation(op OperationType)
	TrackOperationWithLatency(op OperationType, latencyNs uint64)
	TrackError(errorType string)
	TrackBytes(isWrite bool, bytes uint64)

	// TrackSplit counts a leaf block split, or a branch node split when
	// leaf is false.
	TrackSplit(leaf bool)
	TrackLob()

	// StartRecovery resets the per-open recovery figures.
	StartRecovery() time.Time
	FinishRecovery(startTime time.Time, replayed uint64, discarded bool, crash bool)

	GetStats() map[string]interface{}
	// GetStatsFiltered keeps the top-level keys starting with prefix.
	GetStatsFiltered(prefix string) map[string]interface{}
}

var _ Collector = (*AtomicCollector)(nil)
