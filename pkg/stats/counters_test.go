package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCountersInitialSnapshot(t *testing.T) {
	c := NewCounters()
	s := c.Snapshot(Settings{BlockSize: 4096, RootDir: "/data"})

	if s.Height != 0 {
		t.Errorf("Expected height 0, got %d", s.Height)
	}
	if s.BranchEntries != 1 {
		t.Errorf("Expected the root entry to be counted, got %d", s.BranchEntries)
	}
	if len(s.NodesPerLevel) != 2 || s.NodesPerLevel[0] != 0 || s.NodesPerLevel[LeafLevel] != 0 {
		t.Errorf("Unexpected initial levels %v", s.NodesPerLevel)
	}
	if !s.LastSyncTime.IsZero() {
		t.Error("Expected no sync time before the first sync")
	}
	if s.BlockSize != 4096 || s.RootDir != "/data" {
		t.Errorf("Settings not copied: %+v", s)
	}
}

func TestCountersUpdates(t *testing.T) {
	c := NewCounters()
	c.SetHeight(2)
	c.AddActive(3)
	c.AddDeleted(1)
	c.SetDataFiles(2)
	c.AddBranchEntries(4)
	c.AddLoads(7)
	c.AddApproxSize(100)
	c.AddNode(LeafLevel)
	c.AddNode(LeafLevel)
	c.AddNode(0)
	c.AddLevel(1)
	c.AddLevel(0)

	start := time.Now()
	c.RecordSync(start, 5*time.Millisecond)
	c.RecordSync(start, 2*time.Millisecond)

	s := c.Snapshot(Settings{})
	if s.Height != 2 || s.ActiveRecords != 3 || s.DeletedRecords != 1 || s.DataFiles != 2 {
		t.Errorf("Unexpected counters %+v", s)
	}
	if s.BranchEntries != 5 || s.Loads != 7 || s.ApproxSize != 100 {
		t.Errorf("Unexpected counters %+v", s)
	}
	if s.NodesPerLevel[LeafLevel] != 2 || s.NodesPerLevel[0] != 1 || s.NodesPerLevel[1] != 0 {
		t.Errorf("Unexpected levels %v", s.NodesPerLevel)
	}
	if s.Syncs != 2 || s.MaxSyncTime != 5*time.Millisecond {
		t.Errorf("Unexpected sync stats: %d syncs, max %s", s.Syncs, s.MaxSyncTime)
	}
	if !s.LastSyncTime.Equal(time.Unix(0, start.UnixNano())) {
		t.Errorf("Unexpected last sync time %s", s.LastSyncTime)
	}

	levels := s.Levels()
	if len(levels) != 3 || levels[0] != LeafLevel || levels[2] != 1 {
		t.Errorf("Unexpected level order %v", levels)
	}

	m := s.Map()
	perLevel := m["nodes_per_level"].(map[string]int)
	if perLevel["leaf"] != 2 || perLevel["level_0"] != 1 {
		t.Errorf("Unexpected flattened levels %v", perLevel)
	}
	if _, ok := m["last_sync_time"]; !ok {
		t.Error("Expected last_sync_time in map")
	}
}

func TestCountersSnapshotIsolation(t *testing.T) {
	c := NewCounters()
	s := c.Snapshot(Settings{})
	c.AddNode(LeafLevel)
	if s.NodesPerLevel[LeafLevel] != 0 {
		t.Error("Snapshot must not observe later updates")
	}
}

func TestCountersConcurrentSnapshot(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.AddNode(LeafLevel)
			c.AddActive(1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = c.Snapshot(Settings{})
		}
	}()
	wg.Wait()

	s := c.Snapshot(Settings{})
	if s.NodesPerLevel[LeafLevel] != 1000 || s.ActiveRecords != 1000 {
		t.Errorf("Lost updates: %v, %d", s.NodesPerLevel, s.ActiveRecords)
	}
}
