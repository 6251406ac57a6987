// ABOUTME: Tests for engine telemetry, both through the metrics type and through a live engine
// ABOUTME: Uses the telemetry recorder to check metric names and counts

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
)

func TestEngineMetrics(t *testing.T) {
	rec := telemetry.NewRecorder()
	m := NewEngineMetrics(rec)
	ctx := context.Background()

	m.RecordOperation(ctx, "put", time.Millisecond, nil)
	m.RecordOperation(ctx, "get", time.Millisecond, errors.New("boom"))
	m.RecordStartup(ctx, time.Second, true)
	m.RecordRecovery(ctx, time.Second, 12, true, 2)
	m.RecordSync(ctx, time.Millisecond, 9, false)

	if got := rec.HistogramCount("treekv.engine.operation.duration"); got != 2 {
		t.Errorf("Expected 2 operation histograms, got %d", got)
	}
	if got := rec.CounterSum("treekv.engine.recovery.records"); got != 12 {
		t.Errorf("Expected 12 recovery records, got %d", got)
	}
	if got := rec.CounterSum("treekv.engine.recovery.repairs"); got != 2 {
		t.Errorf("Expected 2 repairs, got %d", got)
	}
	if got := rec.CounterSum("treekv.engine.sync.blocks"); got != 9 {
		t.Errorf("Expected 9 synced blocks, got %d", got)
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}

	noop := NewEngineMetrics(nil)
	noop.RecordOperation(ctx, "put", time.Millisecond, nil)
	if err := noop.Close(); err != nil {
		t.Error(err)
	}
}

func TestEngineEmitsTelemetry(t *testing.T) {
	rec := telemetry.NewRecorder()
	dir := t.TempDir()
	e := openEngine(t, dir, WithTelemetry(rec))

	for i := 0; i < 100; i++ {
		mustPut(t, e, keyOf(i), valueOf(i))
	}
	if _, err := e.Get(keyOf(5)); err != nil {
		t.Fatal(err)
	}
	keys(t, e.All)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	if got := rec.SpanCount("treekv.engine.open"); got != 1 {
		t.Errorf("Expected one open span, got %d", got)
	}
	if got := rec.CounterCount("treekv.engine.operation.count"); got < 101 {
		t.Errorf("Expected at least 101 operations recorded, got %d", got)
	}
	if got := rec.HistogramCount("treekv.engine.startup.duration"); got != 1 {
		t.Errorf("Expected one startup histogram, got %d", got)
	}
	if got := rec.HistogramCount("treekv.iterator.range_scan.duration"); got != 1 {
		t.Errorf("Expected one range scan, got %d", got)
	}
	if got := rec.CounterCount("treekv.btree.lob.bytes"); got != 0 {
		t.Errorf("Expected no LOB writes, got %d", got)
	}

	e = openEngine(t, dir, WithTelemetry(rec))
	defer e.Close()
	if got := rec.HistogramCount("treekv.engine.recovery.duration"); got != 1 {
		t.Errorf("Expected one recovery after reopen, got %d", got)
	}
}
