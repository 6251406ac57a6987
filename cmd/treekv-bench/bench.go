package main

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KevoDB/treekv/pkg/engine"
)

// maxConsecutiveErrors stops a benchmark that keeps failing.
const maxConsecutiveErrors = 10

type benchFunc func(b *bench) BenchmarkResult

var benchmarks = map[string]benchFunc{
	"write":            (*bench).runWrite,
	"sequential-write": (*bench).runSequentialWrite,
	"read":             (*bench).runRead,
	"scan":             (*bench).runScan,
	"range-scan":       (*bench).runRangeScan,
	"reverse-scan":     (*bench).runReverseScan,
	"mixed":            (*bench).runMixed,
	"lob":              (*bench).runLob,
	"concurrent-read":  (*bench).runConcurrentRead,
}

// benchmarkOrder is the order used by -type all. Reads come after the
// writes so they find a loaded tree.
var benchmarkOrder = []string{
	"write", "sequential-write", "read", "concurrent-read",
	"scan", "range-scan", "reverse-scan", "mixed", "lob",
}

// bench holds the engine and parameters shared by every benchmark.
type bench struct {
	e         *engine.Engine
	duration  time.Duration
	numKeys   int
	valueSize int
	lobSize   int
	scanSize  int
	readers   int
	random    bool

	loaded bool
	rng    *rand.Rand
}

func (b *bench) mode() string {
	if b.random {
		return "Random"
	}
	return "Sequential"
}

func (b *bench) run(name string) BenchmarkResult {
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	fmt.Printf("Running %s benchmark...\n", name)
	r := benchmarks[name](b)
	r.BenchmarkType = name
	r.NumKeys = b.numKeys
	r.Mode = b.mode()
	r.Timestamp = time.Now()
	if r.ValueSize == 0 {
		r.ValueSize = b.valueSize
	}
	return r
}

// key returns the i-th benchmark key. Random mode draws from the loaded
// key space instead.
func (b *bench) key(i int, rng *rand.Rand) []byte {
	if b.random && rng != nil {
		i = rng.Intn(b.numKeys)
	}
	return []byte(fmt.Sprintf("key-%010d", i%b.numKeys))
}

func makeValue(size int) []byte {
	value := make([]byte, size)
	for i := range value {
		value[i] = byte(i % 256)
	}
	return value
}

// load writes the whole key space once so reads and scans have data.
func (b *bench) load() error {
	if b.loaded {
		return nil
	}
	value := makeValue(b.valueSize)
	for i := 0; i < b.numKeys; i++ {
		if _, err := b.e.Put(b.key(i, nil), value); err != nil {
			return fmt.Errorf("loading key #%d: %w", i, err)
		}
	}
	if err := b.e.Sync(); err != nil {
		return err
	}
	b.loaded = true
	return nil
}

// timed calls op until the duration passes or op fails too often in a
// row. op returns the number of entries or bytes it handled.
func (b *bench) timed(op func(i int) (int, error)) (ops, units, failures int, elapsed time.Duration) {
	start := time.Now()
	deadline := start.Add(b.duration)
	consecutive := 0
	for i := 0; time.Now().Before(deadline); i++ {
		n, err := op(i)
		if err != nil {
			failures++
			consecutive++
			if consecutive >= maxConsecutiveErrors {
				fmt.Printf("Too many consecutive errors, last: %v\n", err)
				break
			}
			continue
		}
		consecutive = 0
		ops++
		units += n
	}
	return ops, units, failures, time.Since(start)
}

func finish(ops, failures int, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{Operations: ops, Errors: failures, Duration: elapsed.Seconds()}
	if ops > 0 && elapsed > 0 {
		r.Throughput = float64(ops) / elapsed.Seconds()
		r.Latency = float64(elapsed.Microseconds()) / float64(ops)
	}
	return r
}

func (b *bench) write(random bool) BenchmarkResult {
	value := makeValue(b.valueSize)
	var rng *rand.Rand
	if random {
		rng = b.rng
	}
	ops, _, failures, elapsed := b.timed(func(i int) (int, error) {
		_, err := b.e.Put(b.key(i, rng), value)
		return len(value), err
	})
	r := finish(ops, failures, elapsed)
	r.Bytes = int64(ops) * int64(b.valueSize)
	return r
}

func (b *bench) runWrite() BenchmarkResult { return b.write(b.random) }

func (b *bench) runSequentialWrite() BenchmarkResult { return b.write(false) }

func (b *bench) runRead() BenchmarkResult {
	if err := b.load(); err != nil {
		return BenchmarkResult{Errors: 1, Note: err.Error()}
	}
	hits := 0
	ops, _, failures, elapsed := b.timed(func(i int) (int, error) {
		_, err := b.e.Get(b.key(i, b.rng))
		if errors.Is(err, engine.ErrKeyNotFound) {
			return 0, nil
		}
		if err == nil {
			hits++
		}
		return 1, err
	})
	r := finish(ops, failures, elapsed)
	if ops > 0 {
		r.HitRate = float64(hits) / float64(ops) * 100
	}
	return r
}

func (b *bench) runConcurrentRead() BenchmarkResult {
	if err := b.load(); err != nil {
		return BenchmarkResult{Errors: 1, Note: err.Error()}
	}
	var ops, hits atomic.Int64
	deadline := time.Now().Add(b.duration)
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < b.readers; w++ {
		seed := time.Now().UnixNano() + int64(w)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for i := 0; time.Now().Before(deadline); i++ {
				_, err := b.e.Get(b.key(i, rng))
				switch {
				case err == nil:
					hits.Add(1)
				case !errors.Is(err, engine.ErrKeyNotFound):
					return err
				}
				ops.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	r := finish(int(ops.Load()), 0, time.Since(start))
	r.Note = fmt.Sprintf("%d readers", b.readers)
	if err != nil {
		r.Errors = 1
		r.Note = err.Error()
	}
	if n := ops.Load(); n > 0 {
		r.HitRate = float64(hits.Load()) / float64(n) * 100
	}
	return r
}

// scanOnce reads up to limit entries from it, or all of them when limit
// is zero.
func scanOnce(it *engine.Iterator, limit int) (int, error) {
	defer it.Close()
	n := 0
	for it.Next() {
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return n, it.Err()
}

func (b *bench) scanResult(op func(i int) (int, error)) BenchmarkResult {
	if err := b.load(); err != nil {
		return BenchmarkResult{Errors: 1, Note: err.Error()}
	}
	ops, entries, failures, elapsed := b.timed(op)
	r := finish(ops, failures, elapsed)
	if elapsed > 0 {
		r.EntriesPerSec = float64(entries) / elapsed.Seconds()
	}
	return r
}

func (b *bench) runScan() BenchmarkResult {
	return b.scanResult(func(int) (int, error) {
		it, err := b.e.All()
		if err != nil {
			return 0, err
		}
		return scanOnce(it, 0)
	})
}

func (b *bench) runRangeScan() BenchmarkResult {
	return b.scanResult(func(i int) (int, error) {
		it, err := b.e.From(b.key(i, b.rng))
		if err != nil {
			return 0, err
		}
		return scanOnce(it, b.scanSize)
	})
}

func (b *bench) runReverseScan() BenchmarkResult {
	return b.scanResult(func(i int) (int, error) {
		it, err := b.e.FromReverse(b.key(i, b.rng))
		if err != nil {
			return 0, err
		}
		return scanOnce(it, b.scanSize)
	})
}

// runMixed issues three reads for every write.
func (b *bench) runMixed() BenchmarkResult {
	if err := b.load(); err != nil {
		return BenchmarkResult{Errors: 1, Note: err.Error()}
	}
	value := makeValue(b.valueSize)
	ops, _, failures, elapsed := b.timed(func(i int) (int, error) {
		key := b.key(i, b.rng)
		if i%4 == 3 {
			_, err := b.e.Put(key, value)
			return 0, err
		}
		_, err := b.e.Get(key)
		if errors.Is(err, engine.ErrKeyNotFound) {
			err = nil
		}
		return 0, err
	})
	r := finish(ops, failures, elapsed)
	r.ReadRatio, r.WriteRatio = 75, 25
	return r
}

// runLob writes values larger than a block and reads each one back.
func (b *bench) runLob() BenchmarkResult {
	value := makeValue(b.lobSize)
	ops, _, failures, elapsed := b.timed(func(i int) (int, error) {
		key := []byte(fmt.Sprintf("lob-%010d", i))
		if _, err := b.e.Put(key, value); err != nil {
			return 0, err
		}
		got, err := b.e.Get(key)
		if err != nil {
			return 0, err
		}
		if len(got.Value) != len(value) {
			return 0, fmt.Errorf("lob %s read back %d bytes, want %d", key, len(got.Value), len(value))
		}
		return len(value), nil
	})
	r := finish(ops, failures, elapsed)
	r.ValueSize = b.lobSize
	r.Bytes = int64(ops) * int64(b.lobSize)
	return r
}
