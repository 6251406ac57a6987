// Package tlog implements the recovery log: an append-only file of branch
// promotion records used to rebuild the in-memory branch levels at startup.
package tlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/log"
)

const (
	// FileName is the recovery log inside the root directory
	FileName = ".tlog"
	// TempFileName receives the trimmed log during crash recovery
	TempFileName = ".tmp"
)

// ErrLogClosed is returned by appends and syncs after Close.
var ErrLogClosed = errors.New("recovery log is closed")

// ReplayFunc receives every accepted record in log order.
type ReplayFunc func(e *block.Entry) error

// ReplayResult summarises a replay.
type ReplayResult struct {
	Records  int
	Bytes    int64
	Trimmed  bool
	Stopped  bool // a record at or beyond the high water mark ended replay
	Duration time.Duration
}

// Options configures a Log.
type Options struct {
	Metrics LogMetrics
	Logger  log.Logger
}

// Log is the append handle of the recovery log.
type Log struct {
	dir     string
	metrics LogMetrics
	logger  log.Logger

	mu     sync.Mutex
	file   *os.File
	size   int64
	closed bool
}

// Exists reports whether dir already holds a recovery log.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// Open opens or creates the recovery log for appending.
func Open(dir string, opts Options) (*Log, error) {
	if opts.Metrics == nil {
		opts.Metrics = NewNoopLogMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger().WithField("component", "tlog")
	}
	l := &Log{dir: dir, metrics: opts.Metrics, logger: opts.Logger}
	if err := l.openAppend(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) path() string { return filepath.Join(l.dir, FileName) }

func (l *Log) openAppend() error {
	f, err := os.OpenFile(l.path(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open recovery log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat recovery log: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// Size returns the current log length in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Append writes one record. The write is unbuffered; durability comes
// with the next Sync.
func (l *Log) Append(e *block.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	start := time.Now()
	data := e.Marshal()
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("failed to append recovery record: %w", err)
	}
	l.size += int64(len(data))
	l.metrics.RecordAppend(context.Background(), time.Since(start), int64(len(data)))
	return nil
}

// Sync flushes the log to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	start := time.Now()
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync recovery log: %w", err)
	}
	l.metrics.RecordSync(context.Background(), time.Since(start))
	return nil
}

// Close syncs and closes the log. Closing twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to sync recovery log during close: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close recovery log: %w", err)
	}
	return nil
}

// Replay feeds every record whose reference lies below hwm to fn, stopping
// at the first one that does not.
func (l *Log) Replay(hwm block.Ref, fn ReplayFunc) (ReplayResult, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ReplayResult{}, ErrLogClosed
	}
	return l.replay(hwm, fn, nil)
}

// Recover is the crash path of Replay. Accepted records are also copied to
// a temporary log which then atomically replaces the current one, so the
// discarded tail is gone for good.
func (l *Log) Recover(hwm block.Ref, fn ReplayFunc) (ReplayResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ReplayResult{}, ErrLogClosed
	}

	tmpPath := filepath.Join(l.dir, TempFileName)
	os.Remove(tmpPath)
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to create temporary log: %w", err)
	}

	res, err := l.replay(hwm, fn, tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return res, err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return res, fmt.Errorf("failed to sync temporary log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("failed to close temporary log: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return res, fmt.Errorf("failed to close recovery log: %w", err)
	}
	if err := os.Rename(tmpPath, l.path()); err != nil {
		return res, fmt.Errorf("failed to replace recovery log: %w", err)
	}
	if err := l.openAppend(); err != nil {
		return res, err
	}

	res.Trimmed = true
	l.logger.Info("Recovery log trimmed to %d records (%d bytes)", res.Records, res.Bytes)
	return res, nil
}

func (l *Log) replay(hwm block.Ref, fn ReplayFunc, copyTo *os.File) (ReplayResult, error) {
	start := time.Now()
	var res ReplayResult

	r, err := OpenReader(l.path())
	if err != nil {
		return res, err
	}
	defer r.Close()

	total := r.Size()
	lastProgress := 0
	for {
		e, raw, err := r.Next()
		if err == errEndOfLog {
			break
		}
		if err != nil {
			l.metrics.RecordCorruption(context.Background(), err.Error())
			l.logger.Warn("Stopping replay at corrupt record after %d records: %v", res.Records, err)
			break
		}
		if e.Kind != block.ValueRef || e.Ref >= hwm {
			res.Stopped = true
			l.logger.Warn("Stopping replay at record for block %s beyond high water mark %s", e.Ref, hwm)
			break
		}
		if err := fn(e); err != nil {
			return res, fmt.Errorf("failed to apply recovery record %d: %w", res.Records, err)
		}
		if copyTo != nil {
			if _, err := copyTo.Write(raw); err != nil {
				return res, fmt.Errorf("failed to copy recovery record: %w", err)
			}
		}
		res.Records++
		res.Bytes += int64(len(raw))

		if total > 0 {
			if p := int(100 * res.Bytes / total); p >= lastProgress+10 {
				lastProgress = p - p%10
				l.logger.Debug("Loading in progress: %d%%", lastProgress)
			}
		}
	}

	if copyTo == nil && res.Bytes < total {
		// Later appends would land behind the unreadable tail
		if err := l.file.Truncate(res.Bytes); err != nil {
			return res, fmt.Errorf("failed to truncate recovery log: %w", err)
		}
		l.mu.Lock()
		l.size = res.Bytes
		l.mu.Unlock()
		res.Trimmed = true
		l.logger.Warn("Recovery log truncated from %d to %d bytes", total, res.Bytes)
	}

	res.Duration = time.Since(start)
	l.metrics.RecordReplay(context.Background(), res.Duration, res.Records, copyTo != nil)
	return res, nil
}
