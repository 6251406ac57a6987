package btree

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/stats"
	"github.com/KevoDB/treekv/pkg/storage"
	"github.com/KevoDB/treekv/pkg/tlog"
)

const testBlockSize = 256

type testTree struct {
	*Tree
	dir      string
	store    *storage.Store
	log      *tlog.Log
	counters *stats.Counters
}

func openParts(t *testing.T, dir string) (*storage.Store, *tlog.Log) {
	t.Helper()
	s, err := storage.Open(dir, storage.Options{
		BlockSize:     testBlockSize,
		BlocksPerFile: 4096,
		MaxOpenFiles:  4,
		Logger:        log.Discard(),
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	l, err := tlog.Open(dir, tlog.Options{Logger: log.Discard()})
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	return s, l
}

func newTree(t *testing.T, s *storage.Store, l *tlog.Log) (*Tree, *stats.Counters) {
	t.Helper()
	c := stats.NewCounters()
	tr, err := New(Options{
		Store:      s,
		Log:        l,
		Compare:    bytes.Compare,
		MaxLobSize: 4096,
		Counters:   c,
		Collector:  stats.NewCollector(),
		Logger:     log.Discard(),
	})
	if err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}
	return tr, c
}

// freshTree creates an initialised tree in a new directory.
func freshTree(t *testing.T) *testTree {
	t.Helper()
	dir := t.TempDir()
	s, l := openParts(t, dir)
	tr, c := newTree(t, s, l)
	if err := tr.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	tt := &testTree{Tree: tr, dir: dir, store: s, log: l, counters: c}
	t.Cleanup(func() { tt.close() })
	return tt
}

func (tt *testTree) close() {
	tt.log.Close()
	tt.store.Close()
}

// reopen closes the tree's files and rebuilds a tree from the log.
func (tt *testTree) reopen(t *testing.T) RepairResult {
	t.Helper()
	if _, err := tt.store.Sync(); err != nil {
		t.Fatal(err)
	}
	tt.close()

	s, l := openParts(t, tt.dir)
	tr, c := newTree(t, s, l)
	tr.BeginLoad()
	if _, err := l.Replay(s.HighWater(), tr.Load); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	res, err := tr.FinishLoad()
	if err != nil {
		t.Fatalf("FinishLoad failed: %v", err)
	}
	tt.Tree, tt.store, tt.log, tt.counters = tr, s, l, c
	return res
}

func dataEntry(key, value []byte) *block.Entry {
	e := &block.Entry{Key: key, Value: value, Kind: block.ValueInline, Timestamp: time.Now().UnixNano()}
	e.Size = int32(e.EncodedSize())
	return e
}

func tombstone(key []byte) *block.Entry {
	e := &block.Entry{Key: key, Deleted: true, Timestamp: time.Now().UnixNano()}
	e.Size = int32(e.EncodedSize())
	return e
}

func keyOf(i int) []byte { return []byte(fmt.Sprintf("key-%05d", i)) }

func valueOf(i int) []byte { return []byte(fmt.Sprintf("value-%05d", i)) }

func insertAll(t *testing.T, tr *Tree, order []int) {
	t.Helper()
	for _, i := range order {
		if err := tr.Insert(dataEntry(keyOf(i), valueOf(i))); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}
}

func mustGet(t *testing.T, tr *Tree, key []byte) *block.Entry {
	t.Helper()
	e, err := tr.Get(key)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return e
}

func TestFindIndex(t *testing.T) {
	ne := &nodeEntry{entries: []*child{
		{key: nil},
		{key: []byte("d")},
		{key: []byte("h")},
		{key: []byte("m")},
	}}
	tests := []struct {
		key  string
		want int
	}{
		{"a", 0},
		{"d", 1},
		{"e", 1},
		{"h", 2},
		{"l", 2},
		{"m", 3},
		{"z", 3},
	}
	for _, tt := range tests {
		if got := findIndex(ne, []byte(tt.key), bytes.Compare); got != tt.want {
			t.Errorf("findIndex(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}

	// Without a leading nil key everything below the first key clamps to 0
	inner := &nodeEntry{entries: []*child{{key: []byte("k")}, {key: []byte("p")}}}
	if got := findIndex(inner, []byte("a"), bytes.Compare); got != 0 {
		t.Errorf("Expected clamp to 0, got %d", got)
	}
}

func TestInsertAlphabet(t *testing.T) {
	tt := freshTree(t)
	for c := 'a'; c <= 'z'; c++ {
		if err := tt.Insert(dataEntry([]byte{byte(c)}, []byte("12345678"))); err != nil {
			t.Fatalf("Insert %c failed: %v", c, err)
		}
	}

	snap := tt.counters.Snapshot(stats.Settings{})
	if snap.NodesPerLevel[stats.LeafLevel] == 0 {
		t.Fatal("Expected at least one leaf split")
	}
	for c := 'a'; c <= 'z'; c++ {
		e := mustGet(t, tt.Tree, []byte{byte(c)})
		if e == nil || !bytes.Equal(e.Value, []byte("12345678")) {
			t.Fatalf("Key %c: unexpected entry %+v", c, e)
		}
	}
	if e := mustGet(t, tt.Tree, []byte("zz")); e != nil {
		t.Errorf("Expected no entry for zz, got %+v", e)
	}
	if err := tt.Check(); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
}

func TestInsertRandomOrder(t *testing.T) {
	tt := freshTree(t)
	const n = 3000
	insertAll(t, tt.Tree, rand.New(rand.NewSource(1)).Perm(n))

	if tt.Height() < 1 {
		t.Errorf("Expected branch levels above level 0, height is %d", tt.Height())
	}
	for i := 0; i < n; i++ {
		e := mustGet(t, tt.Tree, keyOf(i))
		if e == nil || !bytes.Equal(e.Value, valueOf(i)) {
			t.Fatalf("Key %d: unexpected entry %+v", i, e)
		}
	}
	if err := tt.Check(); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if tt.PendingBlocks() == 0 {
		t.Error("Expected pending block writes")
	}
	tt.ResetPending()
	if tt.PendingBlocks() != 0 {
		t.Error("Expected pending count reset")
	}
}

func TestOverwriteAndTombstone(t *testing.T) {
	tt := freshTree(t)
	insertAll(t, tt.Tree, rand.New(rand.NewSource(2)).Perm(500))

	for round := 0; round < 3; round++ {
		v := []byte(fmt.Sprintf("round-%d", round))
		if err := tt.Insert(dataEntry(keyOf(42), v)); err != nil {
			t.Fatal(err)
		}
		if e := mustGet(t, tt.Tree, keyOf(42)); !bytes.Equal(e.Value, v) {
			t.Fatalf("Round %d: expected %s, got %s", round, v, e.Value)
		}
	}

	if err := tt.Insert(tombstone(keyOf(42))); err != nil {
		t.Fatal(err)
	}
	e := mustGet(t, tt.Tree, keyOf(42))
	if e == nil || !e.Deleted {
		t.Fatalf("Expected a tombstone, got %+v", e)
	}

	// The overwritten key is still present exactly once
	c, err := tt.NewCursor(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	count := 0
	for c.Next() {
		if bytes.Equal(c.Entry().Key, keyOf(42)) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected key once, saw it %d times", count)
	}
}

func TestLob(t *testing.T) {
	tt := freshTree(t)
	insertAll(t, tt.Tree, []int{1, 2, 3})

	half := bytes.Repeat([]byte("h"), testBlockSize/2+1)
	multi := bytes.Repeat([]byte("m"), 3*testBlockSize+17)
	for key, v := range map[string][]byte{"half": half, "multi": multi} {
		if err := tt.Insert(dataEntry([]byte(key), v)); err != nil {
			t.Fatalf("Insert %s failed: %v", key, err)
		}
		raw := mustGet(t, tt.Tree, []byte(key))
		if raw.Kind != block.ValueRef {
			t.Fatalf("Expected %s stored out of line", key)
		}
		full, err := tt.Resolve(raw)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !bytes.Equal(full.Value, v) || !bytes.Equal(full.Key, []byte(key)) {
			t.Errorf("LOB %s did not round trip", key)
		}
	}

	// Inline entries resolve to themselves
	raw := mustGet(t, tt.Tree, keyOf(1))
	if got, _ := tt.Resolve(raw); got != raw {
		t.Error("Resolve should return inline entries unchanged")
	}

	before := tt.store.Cursor()
	err := tt.Insert(dataEntry([]byte("huge"), make([]byte, 5000)))
	if !errors.Is(err, ErrLobTooLarge) {
		t.Fatalf("Expected ErrLobTooLarge, got %v", err)
	}
	if tt.store.Cursor() != before {
		t.Error("Rejected LOB should not allocate blocks")
	}
	if e := mustGet(t, tt.Tree, []byte("huge")); e != nil {
		t.Error("Rejected LOB should not be stored")
	}
}

func TestReplayRebuildsBranches(t *testing.T) {
	tt := freshTree(t)
	const n = 2000
	insertAll(t, tt.Tree, rand.New(rand.NewSource(3)).Perm(n))
	height := tt.Height()
	rightmost := tt.Rightmost()

	res := tt.reopen(t)
	if res.Relinked != 0 || res.Adopted != 0 || res.Reset != 0 {
		t.Errorf("Clean reopen should not repair anything: %+v", res)
	}
	if tt.Height() != height {
		t.Errorf("Expected height %d after replay, got %d", height, tt.Height())
	}
	if tt.Rightmost() != rightmost {
		t.Errorf("Expected rightmost %s, got %s", rightmost, tt.Rightmost())
	}
	if err := tt.Check(); err != nil {
		t.Fatalf("Check failed after replay: %v", err)
	}
	for i := 0; i < n; i++ {
		if e := mustGet(t, tt.Tree, keyOf(i)); e == nil || !bytes.Equal(e.Value, valueOf(i)) {
			t.Fatalf("Key %d lost across replay", i)
		}
	}

	// The rebuilt tree accepts further writes
	insertAll(t, tt.Tree, []int{n, n + 1, n + 2})
	if err := tt.Check(); err != nil {
		t.Fatalf("Check failed after more inserts: %v", err)
	}
}

func TestLoadOutsideReplay(t *testing.T) {
	tt := freshTree(t)
	if err := tt.Load(block.NewRefEntry([]byte("k"), 1, 10, 0)); !errors.Is(err, ErrNotLoading) {
		t.Errorf("Expected ErrNotLoading, got %v", err)
	}
	tt.BeginLoad()
	if err := tt.Insert(dataEntry([]byte("k"), []byte("v"))); err == nil {
		t.Error("Expected Insert to fail during replay")
	}
	if err := tt.Load(dataEntry([]byte("k"), []byte("v"))); !errors.Is(err, ErrInconsistent) {
		t.Errorf("Expected inline record rejected, got %v", err)
	}
}

func TestFinishLoadAdoptsLostSplit(t *testing.T) {
	tt := freshTree(t)
	insertAll(t, tt.Tree, rand.New(rand.NewSource(4)).Perm(400))
	if _, err := tt.store.Sync(); err != nil {
		t.Fatal(err)
	}
	tt.close()

	// Drop the newest promotion record, as if the process died right after
	// the split reached the data file
	path := filepath.Join(tt.dir, tlog.FileName)
	r, err := tlog.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	var kept []byte
	var last []byte
	for {
		_, raw, err := r.Next()
		if err != nil {
			break
		}
		kept = append(kept, last...)
		last = raw
	}
	r.Close()
	if last == nil {
		t.Fatal("Expected promotion records in the log")
	}
	if err := os.WriteFile(path, kept, 0644); err != nil {
		t.Fatal(err)
	}

	s, l := openParts(t, tt.dir)
	tr, c := newTree(t, s, l)
	tt.Tree, tt.store, tt.log, tt.counters = tr, s, l, c
	tr.BeginLoad()
	if _, err := l.Replay(s.HighWater(), tr.Load); err != nil {
		t.Fatal(err)
	}
	res, err := tr.FinishLoad()
	if err != nil {
		t.Fatalf("FinishLoad failed: %v", err)
	}
	if res.Adopted != 1 {
		t.Fatalf("Expected one adopted block, got %+v", res)
	}
	if err := tr.Check(); err != nil {
		t.Fatalf("Check failed after adoption: %v", err)
	}
	for i := 0; i < 400; i++ {
		if e := mustGet(t, tr, keyOf(i)); e == nil {
			t.Fatalf("Key %d unreachable after adoption", i)
		}
	}

	// The adoption was logged, so a second reopen needs no repair
	if res := tt.reopen(t); res.Adopted != 0 || res.Relinked != 0 {
		t.Errorf("Expected a clean second reopen, got %+v", res)
	}
}

func TestFinishLoadRelinksBrokenChain(t *testing.T) {
	tt := freshTree(t)
	insertAll(t, tt.Tree, rand.New(rand.NewSource(5)).Perm(400))
	refs := tt.leafRefs()
	if len(refs) < 3 {
		t.Fatalf("Expected several leaves, got %d", len(refs))
	}

	// Point the second block's back link somewhere wrong
	data, err := tt.store.ReadBlock(refs[1], testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	block.SetPrevLink(data, refs[2])
	if err := tt.store.WriteBlock(refs[1], data); err != nil {
		t.Fatal(err)
	}
	if err := tt.Check(); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("Expected Check to catch the broken link, got %v", err)
	}

	res := tt.reopen(t)
	if res.Relinked != 1 {
		t.Errorf("Expected one relinked block, got %+v", res)
	}
	if err := tt.Check(); err != nil {
		t.Fatalf("Check failed after relink: %v", err)
	}
}
