package stats

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// LeafLevel is the NodesPerLevel key counting on-disk leaf blocks.
const LeafLevel = -1

// Counters holds the engine's structural and operational counters. Writers
// update them under the engine's writer lock; readers take a Snapshot at
// any time.
type Counters struct {
	height         atomic.Int64
	activeRecords  atomic.Int64
	deletedRecords atomic.Int64
	dataFiles      atomic.Int64
	branchEntries  atomic.Int64
	loads          atomic.Int64
	approxSize     atomic.Int64
	syncs          atomic.Int64
	lastSyncTime   atomic.Int64 // unix nanoseconds
	maxSyncTime    atomic.Int64 // nanoseconds

	levelsMu sync.Mutex
	levels   map[int]int
}

// NewCounters returns counters for an empty tree: one root entry, no
// split nodes yet.
func NewCounters() *Counters {
	c := &Counters{levels: map[int]int{0: 0, LeafLevel: 0}}
	c.branchEntries.Store(1)
	return c
}

func (c *Counters) SetHeight(h int)        { c.height.Store(int64(h)) }
func (c *Counters) AddActive(n int64)      { c.activeRecords.Add(n) }
func (c *Counters) AddDeleted(n int64)     { c.deletedRecords.Add(n) }
func (c *Counters) SetDataFiles(n int)     { c.dataFiles.Store(int64(n)) }
func (c *Counters) AddBranchEntries(n int) { c.branchEntries.Add(int64(n)) }
func (c *Counters) AddLoads(n int)         { c.loads.Add(int64(n)) }
func (c *Counters) AddApproxSize(n int64)  { c.approxSize.Add(n) }

// AddNode counts a node created by a split at level (LeafLevel for blocks).
func (c *Counters) AddNode(level int) {
	c.levelsMu.Lock()
	c.levels[level]++
	c.levelsMu.Unlock()
}

// AddLevel registers a new, still unsplit tree level.
func (c *Counters) AddLevel(level int) {
	c.levelsMu.Lock()
	if _, ok := c.levels[level]; !ok {
		c.levels[level] = 0
	}
	c.levelsMu.Unlock()
}

// RecordSync records a completed sync that started at start and took d.
func (c *Counters) RecordSync(start time.Time, d time.Duration) {
	c.syncs.Add(1)
	c.lastSyncTime.Store(start.UnixNano())
	for {
		cur := c.maxSyncTime.Load()
		if int64(d) <= cur || c.maxSyncTime.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
}

// Settings are the configuration values reported with a snapshot.
type Settings struct {
	BlockSize            int
	DataFileSize         int
	BlocksPerFile        int
	MaxBlocksBetweenSync int
	MaxLobSize           int
	RootDir              string
}

// Snapshot is a read-only view of the engine statistics.
type Snapshot struct {
	Height               int
	NodesPerLevel        map[int]int
	ActiveRecords        int64
	DeletedRecords       int64
	DataFiles            int
	BranchEntries        int64
	Loads                int64
	ApproxSize           int64
	Syncs                int64
	LastSyncTime         time.Time
	MaxSyncTime          time.Duration
	BlockSize            int
	DataFileSize         int
	BlocksPerFile        int
	MaxBlocksBetweenSync int
	MaxLobSize           int
	RootDir              string
}

// Snapshot copies the current counters.
func (c *Counters) Snapshot(s Settings) Snapshot {
	c.levelsMu.Lock()
	levels := make(map[int]int, len(c.levels))
	for k, v := range c.levels {
		levels[k] = v
	}
	c.levelsMu.Unlock()

	var last time.Time
	if ns := c.lastSyncTime.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	return Snapshot{
		Height:               int(c.height.Load()),
		NodesPerLevel:        levels,
		ActiveRecords:        c.activeRecords.Load(),
		DeletedRecords:       c.deletedRecords.Load(),
		DataFiles:            int(c.dataFiles.Load()),
		BranchEntries:        c.branchEntries.Load(),
		Loads:                c.loads.Load(),
		ApproxSize:           c.approxSize.Load(),
		Syncs:                c.syncs.Load(),
		LastSyncTime:         last,
		MaxSyncTime:          time.Duration(c.maxSyncTime.Load()),
		BlockSize:            s.BlockSize,
		DataFileSize:         s.DataFileSize,
		BlocksPerFile:        s.BlocksPerFile,
		MaxBlocksBetweenSync: s.MaxBlocksBetweenSync,
		MaxLobSize:           s.MaxLobSize,
		RootDir:              s.RootDir,
	}
}

// Levels returns the NodesPerLevel keys in ascending order.
func (s Snapshot) Levels() []int {
	keys := make([]int, 0, len(s.NodesPerLevel))
	for k := range s.NodesPerLevel {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Map flattens the snapshot for text and structured output.
func (s Snapshot) Map() map[string]interface{} {
	levels := make(map[string]int, len(s.NodesPerLevel))
	for _, k := range s.Levels() {
		name := "leaf"
		if k != LeafLevel {
			name = "level_" + strconv.Itoa(k)
		}
		levels[name] = s.NodesPerLevel[k]
	}
	m := map[string]interface{}{
		"height":                  s.Height,
		"nodes_per_level":         levels,
		"active_records":          s.ActiveRecords,
		"deleted_records":         s.DeletedRecords,
		"data_files":              s.DataFiles,
		"branch_entries":          s.BranchEntries,
		"loads":                   s.Loads,
		"approx_size":             s.ApproxSize,
		"syncs":                   s.Syncs,
		"max_sync_time_ms":        s.MaxSyncTime.Milliseconds(),
		"block_size":              s.BlockSize,
		"data_file_size":          s.DataFileSize,
		"blocks_per_file":         s.BlocksPerFile,
		"max_blocks_between_sync": s.MaxBlocksBetweenSync,
		"max_lob_size":            s.MaxLobSize,
		"root_dir":                s.RootDir,
	}
	if !s.LastSyncTime.IsZero() {
		m["last_sync_time"] = s.LastSyncTime.Format(time.RFC3339Nano)
	}
	return m
}
