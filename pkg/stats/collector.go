package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType names an engine operation in the collector.
type OperationType string

const (
	OpPut       OperationType = "put"
	OpGet       OperationType = "get"
	OpDelete    OperationType = "delete"
	OpSync      OperationType = "sync"
	OpSeek      OperationType = "seek"
	OpScan      OperationType = "scan"
	OpScanRange OperationType = "scan_range"
)

// registry lazily creates one value per key. Once a key exists, lookups
// take only the read lock.
type registry[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*V
}

func (r *registry[K, V]) get(k K) *V {
	r.mu.RLock()
	v, ok := r.m[k]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok = r.m[k]; !ok {
		if r.m == nil {
			r.m = make(map[K]*V)
		}
		v = new(V)
		r.m[k] = v
	}
	return v
}

func (r *registry[K, V]) each(fn func(K, *V)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range r.m {
		fn(k, v)
	}
}

// LatencyTracker keeps count, sum and extremes of observed latencies.
// A zero min means nothing has been observed.
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

func (l *LatencyTracker) observe(ns uint64) {
	l.count.Add(1)
	l.sum.Add(ns)
	for cur := l.max.Load(); ns > cur; cur = l.max.Load() {
		if l.max.CompareAndSwap(cur, ns) {
			break
		}
	}
	for cur := l.min.Load(); cur == 0 || ns < cur; cur = l.min.Load() {
		if l.min.CompareAndSwap(cur, ns) {
			break
		}
	}
}

func (l *LatencyTracker) stats() map[string]interface{} {
	n := l.count.Load()
	m := map[string]interface{}{
		"count":  n,
		"avg_ns": l.sum.Load() / n,
	}
	if v := l.min.Load(); v != 0 {
		m["min_ns"] = v
	}
	if v := l.max.Load(); v != 0 {
		m["max_ns"] = v
	}
	return m
}

type opStats struct {
	count   atomic.Uint64
	last    atomic.Int64 // unix nanoseconds
	latency LatencyTracker
}

func (o *opStats) hit() {
	o.count.Add(1)
	o.last.Store(time.Now().UnixNano())
}

// RecoveryStats describes the most recent open of the database.
type RecoveryStats struct {
	RecordsReplayed  atomic.Uint64
	RecordsDiscarded atomic.Uint64
	CrashRecoveries  atomic.Uint64
	RecoveryDuration atomic.Int64 // nanoseconds
}

// AtomicCollector is the engine's Collector. Counters live for one open
// of the database and are not persisted.
type AtomicCollector struct {
	ops    registry[OperationType, opStats]
	errors registry[string, atomic.Uint64]

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	leafSplits   atomic.Uint64
	branchSplits atomic.Uint64
	lobWrites    atomic.Uint64

	recovery RecoveryStats
}

// NewCollector returns an empty collector.
func NewCollector() *AtomicCollector {
	return &AtomicCollector{}
}

func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.ops.get(op).hit()
}

func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	s := c.ops.get(op)
	s.hit()
	s.latency.observe(latencyNs)
}

func (c *AtomicCollector) TrackError(errorType string) {
	c.errors.get(errorType).Add(1)
}

func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.bytesWritten.Add(bytes)
		return
	}
	c.bytesRead.Add(bytes)
}

func (c *AtomicCollector) TrackSplit(leaf bool) {
	if leaf {
		c.leafSplits.Add(1)
		return
	}
	c.branchSplits.Add(1)
}

func (c *AtomicCollector) TrackLob() { c.lobWrites.Add(1) }

func (c *AtomicCollector) StartRecovery() time.Time {
	c.recovery.RecordsReplayed.Store(0)
	c.recovery.RecordsDiscarded.Store(0)
	c.recovery.RecoveryDuration.Store(0)
	return time.Now()
}

// FinishRecovery stores the replay outcome. discarded reports a log tail
// dropped by the crash trim.
func (c *AtomicCollector) FinishRecovery(startTime time.Time, replayed uint64, discarded bool, crash bool) {
	c.recovery.RecordsReplayed.Store(replayed)
	if discarded {
		c.recovery.RecordsDiscarded.Add(1)
	}
	if crash {
		c.recovery.CrashRecoveries.Add(1)
	}
	c.recovery.RecoveryDuration.Store(time.Since(startTime).Nanoseconds())
}

// GetStats flattens the collector into "<op>_ops", "last_<op>_time" and
// "<op>_latency" keys plus byte, split, error and recovery sections.
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"total_bytes_read":    c.bytesRead.Load(),
		"total_bytes_written": c.bytesWritten.Load(),
		"leaf_splits":         c.leafSplits.Load(),
		"branch_splits":       c.branchSplits.Load(),
		"lob_writes":          c.lobWrites.Load(),
	}

	c.ops.each(func(op OperationType, s *opStats) {
		stats[string(op)+"_ops"] = s.count.Load()
		stats["last_"+string(op)+"_time"] = s.last.Load()
		if s.latency.count.Load() > 0 {
			stats[string(op)+"_latency"] = s.latency.stats()
		}
	})

	errs := make(map[string]uint64)
	c.errors.each(func(name string, n *atomic.Uint64) {
		errs[name] = n.Load()
	})
	stats["errors"] = errs

	recovery := map[string]interface{}{
		"records_replayed":  c.recovery.RecordsReplayed.Load(),
		"records_discarded": c.recovery.RecordsDiscarded.Load(),
		"crash_recoveries":  c.recovery.CrashRecoveries.Load(),
	}
	if d := c.recovery.RecoveryDuration.Load(); d > 0 {
		recovery["recovery_duration_ms"] = d / int64(time.Millisecond)
	}
	stats["recovery"] = recovery
	return stats
}

func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for k, v := range c.GetStats() {
		if strings.HasPrefix(k, prefix) {
			filtered[k] = v
		}
	}
	return filtered
}
