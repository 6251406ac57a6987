package iterator

import (
	"context"
	"testing"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/telemetry"
)

func TestSliceIterator(t *testing.T) {
	entries := []*block.Entry{
		{Key: []byte("a")},
		{Key: []byte("b")},
	}
	it := NewSliceIterator(entries)
	if it.Entry() != nil {
		t.Error("Expected no entry before the first Next")
	}
	got, err := Collect(it)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || string(got[0].Key) != "a" || string(got[1].Key) != "b" {
		t.Errorf("Unexpected entries: %v", got)
	}
	if it.Next() || it.Entry() != nil {
		t.Error("Closed iterator should be exhausted")
	}

	empty := NewSliceIterator(nil)
	if empty.Next() {
		t.Error("Expected empty iterator to be exhausted")
	}
}

func TestIteratorMetrics(t *testing.T) {
	rec := telemetry.NewRecorder()
	m := NewIteratorMetrics(rec)
	ctx := context.Background()

	m.RecordSeek(ctx, time.Millisecond, false)
	m.RecordRangeScan(ctx, time.Millisecond, 10, true, true)
	m.RecordRangeScan(ctx, time.Millisecond, 3, false, false)
	m.RecordLobResolve(ctx, time.Millisecond, 4096)

	if rec.HistogramCount("treekv.iterator.seek.duration") != 1 {
		t.Error("Expected one seek")
	}
	if rec.HistogramCount("treekv.iterator.range_scan.keys_returned") != 2 {
		t.Error("Expected two scans")
	}
	if rec.CounterCount("treekv.iterator.range_scan.with_bounds") != 1 {
		t.Error("Expected one bounded scan")
	}
	if rec.CounterSum("treekv.iterator.lob.bytes") != 4096 {
		t.Error("Expected LOB bytes recorded")
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}

	noop := NewIteratorMetrics(nil)
	noop.RecordSeek(ctx, time.Millisecond, true)
	if err := noop.Close(); err != nil {
		t.Error(err)
	}
}
