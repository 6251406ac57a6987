package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/log"
)

const (
	dataFilePrefix = "df"
	dataFileSuffix = ".db"
)

// DataFileName returns the name of data file n inside the root directory.
func DataFileName(n uint32) string {
	return dataFilePrefix + strconv.FormatUint(uint64(n), 10) + dataFileSuffix
}

// parseDataFile returns the number of a data file name.
func parseDataFile(name string) (uint32, bool) {
	if !strings.HasPrefix(name, dataFilePrefix) || !strings.HasSuffix(name, dataFileSuffix) {
		return 0, false
	}
	n, err := strconv.ParseUint(name[len(dataFilePrefix):len(name)-len(dataFileSuffix)], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Options configures a Store.
type Options struct {
	BlockSize     int
	BlocksPerFile int
	MaxOpenFiles  int
	Metrics       StorageMetrics
	Logger        log.Logger
}

// Store reads and writes fixed-size blocks spread over numbered data files.
// Reads and writes share a bounded handle cache.
type Store struct {
	dir           string
	blockSize     int
	blocksPerFile uint32
	cache         *FileCache
	metrics       StorageMetrics
	logger        log.Logger

	mu       sync.Mutex
	file     uint32
	next     uint32
	hwm      block.Ref
	existing bool
}

// Open scans dir for data files and positions the allocation cursor right
// after the last block physically present in the newest one.
func Open(dir string, opts Options) (*Store, error) {
	if opts.BlockSize <= 0 || opts.BlocksPerFile <= 0 {
		return nil, fmt.Errorf("invalid block geometry: block size %d, %d blocks per file", opts.BlockSize, opts.BlocksPerFile)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewNoopStorageMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger().WithField("component", "storage")
	}

	s := &Store{
		dir:           dir,
		blockSize:     opts.BlockSize,
		blocksPerFile: uint32(opts.BlocksPerFile),
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
	s.cache = NewFileCache(opts.MaxOpenFiles, s.openFile, opts.Metrics)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := parseDataFile(e.Name()); ok {
			if !s.existing || n > s.file {
				s.file = n
			}
			s.existing = true
		}
	}

	if s.existing {
		info, err := os.Stat(s.path(s.file))
		if err != nil {
			return nil, fmt.Errorf("failed to stat latest data file: %w", err)
		}
		s.next = uint32(info.Size() / int64(s.blockSize))
		s.logger.Debug("Latest data file %s holds %d blocks", DataFileName(s.file), s.next)
	}
	s.hwm = block.MakeRef(s.file, s.next)
	return s, nil
}

func (s *Store) path(file uint32) string {
	return filepath.Join(s.dir, DataFileName(file))
}

func (s *Store) openFile(file uint32, create bool) (*os.File, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(s.path(file), flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	return f, nil
}

// Existing reports whether any data file was present at open.
func (s *Store) Existing() bool { return s.existing }

// HighWater returns the first reference past the blocks physically present
// in the newest data file at open.
func (s *Store) HighWater() block.Ref { return s.hwm }

// Cursor returns the reference the next allocation would start from if it
// fits in the current file. Every allocated block lies below it.
func (s *Store) Cursor() block.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return block.MakeRef(s.file, s.next)
}

// BlockSize returns the block size in bytes.
func (s *Store) BlockSize() int { return s.blockSize }

// DataFiles returns the number of data files in use.
func (s *Store) DataFiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.file) + 1
}

// OpenHandles returns the number of cached handles.
func (s *Store) OpenHandles() int { return s.cache.Len() }

// Allocate reserves n contiguous blocks and returns the first. A run that
// would cross the end of the current file starts a new file instead.
func (s *Store) Allocate(n int) block.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(s.next)+uint64(n) > uint64(s.blocksPerFile) {
		s.file++
		s.next = 0
		s.metrics.RecordRoll(context.Background(), s.file)
		s.logger.Info("Rolling to data file %s", DataFileName(s.file))
	}
	ref := block.MakeRef(s.file, s.next)
	s.next += uint32(n)
	return ref
}

// BlocksFor returns how many blocks hold size bytes.
func (s *Store) BlocksFor(size int) int {
	return (size + s.blockSize - 1) / s.blockSize
}

// ReadBlock reads n bytes starting at ref. Bytes past the end of the file
// read as zero.
func (s *Store) ReadBlock(ref block.Ref, n int) ([]byte, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("read of invalid block reference %s", ref)
	}
	start := time.Now()

	h, err := s.cache.Acquire(ref.File(), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file for block %s: %w", ref, err)
	}
	defer h.Release()

	buf := make([]byte, n)
	read, err := h.ReadAt(buf, int64(ref.Block())*int64(s.blockSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read block %s: %w", ref, err)
	}
	clear(buf[read:])

	s.metrics.RecordRead(context.Background(), time.Since(start), int64(n))
	return buf, nil
}

// WriteBlock writes data starting at ref.
func (s *Store) WriteBlock(ref block.Ref, data []byte) error {
	if !ref.Valid() {
		return fmt.Errorf("write to invalid block reference %s", ref)
	}
	start := time.Now()

	h, err := s.cache.Acquire(ref.File(), true)
	if err != nil {
		return err
	}
	defer h.Release()
	if _, err := h.WriteAt(data, int64(ref.Block())*int64(s.blockSize)); err != nil {
		return fmt.Errorf("failed to write block %s: %w", ref, err)
	}

	s.metrics.RecordWrite(context.Background(), time.Since(start), int64(len(data)), len(data) > s.blockSize)
	return nil
}

// Sync flushes and releases every cached handle and returns how long it took.
func (s *Store) Sync() (time.Duration, error) {
	start := time.Now()
	handles := s.cache.Len()
	err := s.cache.Drain()
	d := time.Since(start)
	s.metrics.RecordSync(context.Background(), d, handles, err)
	if err != nil {
		return d, fmt.Errorf("failed to sync data files: %w", err)
	}
	return d, nil
}

// Close syncs and closes all handles.
func (s *Store) Close() error {
	_, err := s.Sync()
	return err
}
