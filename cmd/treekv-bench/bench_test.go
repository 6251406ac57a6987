package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/engine"
)

func newTestBench(t *testing.T) *bench {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.BlockSize = 512
	cfg.DataFileSize = config.MB
	cfg.MaxLobSize = 64 * config.KB
	e, err := engine.Open(t.TempDir(), engine.WithConfig(cfg), engine.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return &bench{
		e:         e,
		duration:  50 * time.Millisecond,
		numKeys:   200,
		valueSize: 32,
		lobSize:   2048,
		scanSize:  10,
		readers:   4,
		random:    true,
	}
}

func TestBenchmarksRun(t *testing.T) {
	b := newTestBench(t)
	for _, name := range benchmarkOrder {
		r := b.run(name)
		if r.BenchmarkType != name {
			t.Errorf("Expected type %s, got %s", name, r.BenchmarkType)
		}
		if r.Operations == 0 {
			t.Errorf("%s: no operations completed (%d errors, note %q)", name, r.Errors, r.Note)
		}
		if r.Errors != 0 {
			t.Errorf("%s: %d errors, note %q", name, r.Errors, r.Note)
		}
	}
	if !b.loaded {
		t.Error("Read benchmarks should have loaded the key space")
	}

	r := b.run("read")
	if r.HitRate != 100 {
		t.Errorf("Expected every read to hit after loading, got %.2f%%", r.HitRate)
	}
}

func TestResultCSVRoundTrip(t *testing.T) {
	results := []BenchmarkResult{
		{BenchmarkType: "write", NumKeys: 10, ValueSize: 100, Mode: "Random", Operations: 500, Bytes: 50000, Duration: 1.5, Throughput: 333.33, Latency: 3000, Timestamp: time.Now()},
		{BenchmarkType: "mixed", NumKeys: 10, ValueSize: 100, Mode: "Sequential", Operations: 80, Errors: 2, ReadRatio: 75, WriteRatio: 25},
	}
	file := filepath.Join(t.TempDir(), "out", "results.csv")
	if err := SaveResultCSV(results, file); err != nil {
		t.Fatalf("SaveResultCSV failed: %v", err)
	}
	loaded, err := LoadResultCSV(file)
	if err != nil {
		t.Fatalf("LoadResultCSV failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(loaded))
	}
	if loaded[0].Operations != 500 || loaded[0].Bytes != 50000 || loaded[1].Errors != 2 || loaded[1].ReadRatio != 75 {
		t.Errorf("Unexpected loaded results %+v", loaded)
	}

	var buf bytes.Buffer
	PrintResultTable(&buf, loaded)
	if !strings.Contains(buf.String(), "R:75/W:25") || !strings.Contains(buf.String(), "3.00ms") {
		t.Errorf("Unexpected table:\n%s", buf.String())
	}
}
