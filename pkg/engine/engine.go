// Package engine is the public face of the store: it opens a database
// directory, recovers the tree from the recovery log and serves reads and
// writes against it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/btree"
	"github.com/KevoDB/treekv/pkg/common/iterator"
	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/stats"
	"github.com/KevoDB/treekv/pkg/storage"
	"github.com/KevoDB/treekv/pkg/telemetry"
	"github.com/KevoDB/treekv/pkg/tlog"
	"go.opentelemetry.io/otel/attribute"
)

// LockFileName marks an open session. Finding it at open means the last
// session did not close cleanly.
const LockFileName = ".lock"

// slowSync is the sync duration above which a warning is logged.
const slowSync = time.Second

// Entry is a key with its value as returned to callers. LOB values are
// always loaded back in.
type Entry struct {
	Key       []byte
	Value     []byte
	Size      int32
	Timestamp int64
	Deleted   bool
}

// IsDeleted reports whether the entry is a tombstone.
func (e *Entry) IsDeleted() bool { return e.Deleted }

func newEntry(e *block.Entry) *Entry {
	return &Entry{
		Key:       e.Key,
		Value:     e.Value,
		Size:      e.Size,
		Timestamp: e.Timestamp,
		Deleted:   e.Deleted,
	}
}

// Engine is an open database. All methods are safe for concurrent use:
// writes are serialized by one lock, reads never take it.
type Engine struct {
	dir         string
	cfg         *config.Config
	cmp         block.Comparator
	logger      log.Logger
	metrics     EngineMetrics
	iterMetrics iterator.IteratorMetrics

	store     *storage.Store
	log       *tlog.Log
	tree      *btree.Tree
	counters  *stats.Counters
	collector *stats.AtomicCollector

	// mu is the writer lock around Put, Delete, Sync and Close.
	mu     sync.Mutex
	lastTS int64
	closed atomic.Bool
}

// Open opens the database in dir, creating it when the directory holds
// none. A leftover lock file triggers crash recovery, which trims the
// recovery log back to what the data files provably hold.
func Open(dir string, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	start := time.Now()
	ctx, span := o.telemetry.StartSpan(context.Background(), "treekv.engine.open",
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine))
	defer span.End()

	if o.config != nil {
		if err := o.config.CheckSupported(); err != nil {
			return nil, err
		}
	}
	cfg, created, err := config.LoadOrCreate(dir, o.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.CheckSupported(); err != nil {
		return nil, err
	}

	logger := o.logger.WithField("component", "engine")
	store, err := storage.Open(dir, storage.Options{
		BlockSize:     cfg.BlockSize,
		BlocksPerFile: cfg.BlocksPerFile(),
		MaxOpenFiles:  cfg.MaxOpenFiles,
		Metrics:       storage.NewStorageMetrics(o.telemetry),
		Logger:        o.logger.WithField("component", "storage"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open block store: %w", err)
	}

	fresh := !tlog.Exists(dir)
	if fresh && store.Existing() {
		store.Close()
		return nil, fmt.Errorf("%w: %s", ErrOrphanData, dir)
	}
	tl, err := tlog.Open(dir, tlog.Options{
		Metrics: tlog.NewLogMetrics(o.telemetry),
		Logger:  o.logger.WithField("component", "tlog"),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open recovery log: %w", err)
	}

	counters := stats.NewCounters()
	collector := stats.NewCollector()
	tree, err := btree.New(btree.Options{
		Store:      store,
		Log:        tl,
		Locks:      btree.NewLockRegistry(),
		Compare:    o.compare,
		MaxLobSize: cfg.MaxLobSize,
		Counters:   counters,
		Collector:  collector,
		Metrics:    btree.NewTreeMetrics(o.telemetry),
		Logger:     o.logger.WithField("component", "btree"),
	})
	if err != nil {
		tl.Close()
		store.Close()
		return nil, err
	}

	e := &Engine{
		dir:         dir,
		cfg:         cfg,
		cmp:         o.compare,
		logger:      logger,
		metrics:     NewEngineMetrics(o.telemetry),
		iterMetrics: iterator.NewIteratorMetrics(o.telemetry),
		store:       store,
		log:         tl,
		tree:        tree,
		counters:    counters,
		collector:   collector,
	}

	if fresh {
		err = tree.Init()
	} else {
		err = e.recover(ctx)
	}
	if err == nil {
		err = os.WriteFile(e.lockPath(), nil, 0644)
	}
	if err != nil {
		span.RecordError(err)
		tl.Close()
		store.Close()
		return nil, err
	}

	counters.SetDataFiles(store.DataFiles())
	e.metrics.RecordStartup(ctx, time.Since(start), fresh)
	logger.Info("Opened %s (block size %d, height %d, created %v) in %v",
		dir, cfg.BlockSize, tree.Height(), created, time.Since(start))
	return e, nil
}

func (e *Engine) lockPath() string { return filepath.Join(e.dir, LockFileName) }

// recover rebuilds the branch levels from the recovery log.
func (e *Engine) recover(ctx context.Context) error {
	_, statErr := os.Stat(e.lockPath())
	crashed := statErr == nil
	if crashed {
		e.logger.Warn("Lock file found in %s, recovering from unclean shutdown", e.dir)
	}

	start := e.collector.StartRecovery()
	hwm := e.store.HighWater()
	e.tree.BeginLoad()

	var res tlog.ReplayResult
	var err error
	if crashed {
		res, err = e.log.Recover(hwm, e.tree.Load)
	} else {
		res, err = e.log.Replay(hwm, e.tree.Load)
	}
	if err != nil {
		return fmt.Errorf("failed to replay recovery log: %w", err)
	}

	repair, err := e.tree.FinishLoad()
	if err != nil {
		return fmt.Errorf("failed to verify leaf chain: %w", err)
	}

	repaired := repair.Relinked + repair.Adopted + repair.Reset
	e.collector.FinishRecovery(start, uint64(res.Records), res.Stopped, crashed)
	e.metrics.RecordRecovery(ctx, time.Since(start), res.Records, crashed, repaired)
	e.logger.Info("Loaded %d recovery records into %d leaf blocks (height %d, %d repairs) in %v",
		res.Records, repair.Blocks, e.tree.Height(), repaired, time.Since(start))
	return nil
}

func (e *Engine) checkKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if max := e.cfg.MaxKeySize(); len(key) > max {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrInvalidKey, len(key), max)
	}
	return nil
}

// track records the outcome of an operation with the collector and the
// engine metrics.
func (e *Engine) track(op stats.OperationType, start time.Time, bytes int, err error) {
	d := time.Since(start)
	e.collector.TrackOperationWithLatency(op, uint64(d.Nanoseconds()))
	switch {
	case err == nil:
		if bytes > 0 {
			e.collector.TrackBytes(op == stats.OpPut || op == stats.OpDelete, uint64(bytes))
		}
	case !errors.Is(err, ErrKeyNotFound):
		e.collector.TrackError(string(op) + "_error")
	}
	e.metrics.RecordOperation(context.Background(), string(op), d, err)
}

// Put stores value under key and returns the stored entry.
func (e *Engine) Put(key, value []byte) (*Entry, error) {
	if err := e.checkKey(key); err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidValue)
	}
	return e.write(stats.OpPut, key, value)
}

// Delete writes a tombstone for key and returns it. Deleting an absent
// key still writes the tombstone.
func (e *Engine) Delete(key []byte) (*Entry, error) {
	if err := e.checkKey(key); err != nil {
		return nil, err
	}
	return e.write(stats.OpDelete, key, nil)
}

func (e *Engine) write(op stats.OperationType, key, value []byte) (*Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	start := time.Now()
	entry := &block.Entry{
		Key:       append([]byte(nil), key...),
		Timestamp: e.timestamp(),
	}
	if value == nil {
		entry.Deleted = true
	} else {
		entry.Value = append([]byte(nil), value...)
		entry.Kind = block.ValueInline
	}
	entry.Size = int32(entry.EncodedSize())

	if entry.IsLob(e.cfg.BlockSize) && int(entry.Size) > e.cfg.MaxLobSize {
		err := fmt.Errorf("%w: %d bytes, limit %d", ErrLobTooLarge, entry.Size, e.cfg.MaxLobSize)
		e.track(op, start, 0, err)
		return nil, err
	}

	err := e.tree.Insert(entry)
	if err == nil && e.tree.PendingBlocks() > e.cfg.MaxBlocksBetweenSync {
		err = e.syncLocked(true)
	}
	e.track(op, start, int(entry.Size), err)
	if err != nil {
		return nil, err
	}

	if entry.Deleted {
		e.counters.AddDeleted(1)
	} else {
		e.counters.AddActive(1)
	}
	e.counters.AddApproxSize(int64(entry.Size))
	e.counters.SetDataFiles(e.store.DataFiles())
	return newEntry(entry), nil
}

// timestamp returns the wall clock in nanoseconds, forced to increase
// across writes. Called under the writer lock.
func (e *Engine) timestamp() int64 {
	ts := time.Now().UnixNano()
	if ts <= e.lastTS {
		ts = e.lastTS + 1
	}
	e.lastTS = ts
	return ts
}

// Get returns the live entry for key, or ErrKeyNotFound when the key is
// absent or deleted.
func (e *Engine) Get(key []byte) (*Entry, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := e.checkKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	entry, err := e.get(key)
	size := 0
	if entry != nil {
		size = len(entry.Key) + len(entry.Value)
	}
	e.track(stats.OpGet, start, size, err)
	return entry, err
}

func (e *Engine) get(key []byte) (*Entry, error) {
	raw, err := e.tree.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil || raw.Deleted {
		return nil, ErrKeyNotFound
	}
	full, err := e.tree.Resolve(raw)
	if err != nil {
		return nil, err
	}
	return newEntry(full), nil
}

// First returns the smallest live entry.
func (e *Engine) First() (*Entry, error) { return e.neighbour(nil, false) }

// Last returns the largest live entry.
func (e *Engine) Last() (*Entry, error) { return e.neighbour(nil, true) }

// Next returns the smallest live entry with a key strictly greater than key.
func (e *Engine) Next(key []byte) (*Entry, error) {
	if err := e.checkKey(key); err != nil {
		return nil, err
	}
	return e.neighbour(key, false)
}

// Prev returns the largest live entry with a key strictly less than key.
func (e *Engine) Prev(key []byte) (*Entry, error) {
	if err := e.checkKey(key); err != nil {
		return nil, err
	}
	return e.neighbour(key, true)
}

func (e *Engine) neighbour(key []byte, reverse bool) (*Entry, error) {
	it, err := e.Iterator(IterOptions{Start: key, Reverse: reverse})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	for it.Next() {
		entry := it.Entry()
		if key != nil && e.cmp(entry.Key, key) == 0 {
			continue
		}
		return entry, nil
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return nil, ErrKeyNotFound
}

// Sync forces every written block and the recovery log to disk.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.syncLocked(false)
}

func (e *Engine) syncLocked(automatic bool) error {
	start := time.Now()
	blocks := e.tree.PendingBlocks()
	if _, err := e.store.Sync(); err != nil {
		e.collector.TrackError("sync_error")
		return fmt.Errorf("failed to sync data files: %w", err)
	}
	if err := e.log.Sync(); err != nil {
		e.collector.TrackError("sync_error")
		return fmt.Errorf("failed to sync recovery log: %w", err)
	}
	d := time.Since(start)

	e.tree.ResetPending()
	e.counters.RecordSync(start, d)
	e.collector.TrackOperationWithLatency(stats.OpSync, uint64(d.Nanoseconds()))
	e.metrics.RecordSync(context.Background(), d, blocks, automatic)
	if d > slowSync {
		e.logger.Warn("Sync of %d blocks took %v", blocks, d)
	}
	return nil
}

// Close syncs and releases the database. The lock file is removed only
// when everything reached the disk. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Swap(true) {
		return nil
	}

	if err := e.syncLocked(false); err != nil {
		e.log.Close()
		e.store.Close()
		return err
	}
	if err := e.log.Close(); err != nil {
		e.store.Close()
		return err
	}
	if err := e.store.Close(); err != nil {
		return err
	}
	if err := os.Remove(e.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	e.metrics.Close()
	e.iterMetrics.Close()
	e.logger.Info("Closed %s", e.dir)
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() stats.Snapshot {
	return e.counters.Snapshot(stats.Settings{
		BlockSize:            e.cfg.BlockSize,
		DataFileSize:         e.cfg.DataFileSize,
		BlocksPerFile:        e.cfg.BlocksPerFile(),
		MaxBlocksBetweenSync: e.cfg.MaxBlocksBetweenSync,
		MaxLobSize:           e.cfg.MaxLobSize,
		RootDir:              e.dir,
	})
}

// OperationStats returns per-operation counts, latencies and errors.
func (e *Engine) OperationStats() map[string]interface{} {
	return e.collector.GetStats()
}

// Config returns a copy of the stored configuration.
func (e *Engine) Config() config.Config {
	return *e.cfg
}

// Check verifies the tree structure against the data files. It reads
// every leaf block.
func (e *Engine) Check() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.tree.Check()
}
