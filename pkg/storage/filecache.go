package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ticketLock is a FIFO mutex: goroutines acquire it in the order they asked.
type ticketLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newTicketLock() *ticketLock {
	l := &ticketLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *ticketLock) Lock() {
	l.mu.Lock()
	t := l.next
	l.next++
	for l.serving != t {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *ticketLock) Unlock() {
	l.mu.Lock()
	l.serving++
	l.mu.Unlock()
	l.cond.Broadcast()
}

// OpenFunc opens the handle for a data file number. Missing files are created
// only when create is set.
type OpenFunc func(file uint32, create bool) (*os.File, error)

// Handle is a pinned data file handle. The file stays open until Release,
// even if the cache evicts it in the meantime.
type Handle struct {
	*os.File
	pins    atomic.Int32
	evicted atomic.Bool
	once    sync.Once
	err     error
}

func (h *Handle) pin() bool {
	h.pins.Add(1)
	if h.evicted.Load() {
		h.Release()
		return false
	}
	return true
}

// Release unpins the handle. The last release of an evicted handle syncs and
// closes the file.
func (h *Handle) Release() {
	if h.pins.Add(-1) == 0 && h.evicted.Load() {
		h.close()
	}
}

func (h *Handle) close() error {
	h.once.Do(func() { h.err = syncAndClose(h.File) })
	return h.err
}

// retire syncs the handle now and closes it once no reader holds it.
func (h *Handle) retire() error {
	err := h.File.Sync()
	h.evicted.Store(true)
	if h.pins.Load() == 0 {
		if cerr := h.close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to retire %s: %w", h.Name(), err)
	}
	return nil
}

// FileCache keeps a bounded set of open data file handles shared by readers
// and the writer. Lookups read a published snapshot and never block; inserts
// and evictions are serialized by a FIFO lock. The least recently inserted
// handle is evicted first.
type FileCache struct {
	limit   int
	open    OpenFunc
	metrics StorageMetrics

	snap  atomic.Pointer[map[uint32]*Handle]
	lock  *ticketLock
	order []uint32 // insertion order, guarded by lock

	group singleflight.Group
}

// NewFileCache creates a cache holding at most limit handles.
func NewFileCache(limit int, open OpenFunc, metrics StorageMetrics) *FileCache {
	if limit < 1 {
		limit = 1
	}
	if metrics == nil {
		metrics = NewNoopStorageMetrics()
	}
	c := &FileCache{
		limit:   limit,
		open:    open,
		metrics: metrics,
		lock:    newTicketLock(),
	}
	empty := make(map[uint32]*Handle)
	c.snap.Store(&empty)
	return c
}

// Contains reports whether file has a cached handle.
func (c *FileCache) Contains(file uint32) bool {
	_, ok := (*c.snap.Load())[file]
	return ok
}

// Len returns the number of cached handles.
func (c *FileCache) Len() int {
	return len(*c.snap.Load())
}

// Acquire returns a pinned handle for file, opening and caching it when
// absent. Concurrent first opens of the same file share one open call. The
// caller must Release the handle.
func (c *FileCache) Acquire(file uint32, create bool) (*Handle, error) {
	for {
		if h, ok := (*c.snap.Load())[file]; ok {
			if h.pin() {
				return h, nil
			}
			continue
		}

		key := strconv.FormatUint(uint64(file), 10)
		if create {
			key += "+"
		}
		_, err, _ := c.group.Do(key, func() (interface{}, error) {
			return nil, c.insert(file, create)
		})
		if err != nil {
			return nil, err
		}
	}
}

func (c *FileCache) insert(file uint32, create bool) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	cur := *c.snap.Load()
	if _, ok := cur[file]; ok {
		return nil
	}

	f, err := c.open(file, create)
	if err != nil {
		return err
	}

	next := make(map[uint32]*Handle, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}

	var evictErr error
	for len(next) >= c.limit && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		if h, ok := next[victim]; ok {
			delete(next, victim)
			evictErr = errors.Join(evictErr, h.retire())
			c.metrics.RecordEviction(context.Background(), victim)
		}
	}

	next[file] = &Handle{File: f}
	c.order = append(c.order, file)
	c.snap.Store(&next)

	if evictErr != nil {
		return fmt.Errorf("failed to evict file handle: %w", evictErr)
	}
	return nil
}

// Drain syncs every cached handle, oldest first, and empties the cache.
// Handles still pinned close on their last release. All handles are retired
// even when some fail.
func (c *FileCache) Drain() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	cur := *c.snap.Load()
	var errs error
	for _, file := range c.order {
		if h, ok := cur[file]; ok {
			errs = errors.Join(errs, h.retire())
		}
	}
	c.order = c.order[:0]
	empty := make(map[uint32]*Handle)
	c.snap.Store(&empty)
	return errs
}

func syncAndClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", f.Name(), err)
	}
	return nil
}
