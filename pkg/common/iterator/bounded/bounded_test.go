package bounded

import (
	"bytes"
	"testing"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/iterator"
)

func source(keys ...string) iterator.Iterator {
	var entries []*block.Entry
	for _, k := range keys {
		entries = append(entries, &block.Entry{Key: []byte(k), Value: []byte("v"), Kind: block.ValueInline})
	}
	return iterator.NewSliceIterator(entries)
}

func collect(t *testing.T, it iterator.Iterator) string {
	t.Helper()
	entries, err := iterator.Collect(it)
	if err != nil {
		t.Fatal(err)
	}
	var b bytes.Buffer
	for _, e := range entries {
		b.Write(e.Key)
	}
	return b.String()
}

func TestBoundedIterator(t *testing.T) {
	tests := []struct {
		name    string
		keys    []string
		end     []byte
		reverse bool
		want    string
	}{
		{"forward unbounded", []string{"a", "b", "c"}, nil, false, "abc"},
		{"forward stops before end", []string{"a", "b", "c", "d"}, []byte("c"), false, "ab"},
		{"forward end between keys", []string{"a", "c", "e"}, []byte("d"), false, "ac"},
		{"forward end before all", []string{"b", "c"}, []byte("a"), false, ""},
		{"reverse stops after end", []string{"d", "c", "b", "a"}, []byte("b"), true, "dc"},
		{"reverse end between keys", []string{"e", "c", "a"}, []byte("b"), true, "ec"},
		{"reverse unbounded", []string{"c", "b", "a"}, nil, true, "cba"},
		{"reverse end after all", []string{"c", "b"}, []byte("z"), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := NewBoundedIterator(source(tt.keys...), tt.end, tt.reverse, bytes.Compare)
			if got := collect(t, it); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBoundedIteratorStaysDone(t *testing.T) {
	it := NewBoundedIterator(source("a", "b", "z", "c"), []byte("m"), false, bytes.Compare)
	for it.Next() {
	}
	// "c" sorts inside the bound but comes after the stop
	if it.Next() {
		t.Error("Expected the iterator to stay finished")
	}
	if it.Entry() != nil {
		t.Error("Expected no entry after the bound")
	}
}

func TestBoundCopied(t *testing.T) {
	end := []byte("c")
	it := NewBoundedIterator(source("a", "b", "c"), end, false, bytes.Compare)
	end[0] = 'a'
	if got := collect(t, it); got != "ab" {
		t.Errorf("Expected the bound to be copied, got %q", got)
	}
}

func TestValidRange(t *testing.T) {
	tests := []struct {
		start, end string
		reverse    bool
		want       bool
	}{
		{"a", "b", false, true},
		{"b", "a", false, false},
		{"a", "a", false, true},
		{"b", "a", true, true},
		{"a", "b", true, false},
	}
	for _, tt := range tests {
		if got := ValidRange([]byte(tt.start), []byte(tt.end), tt.reverse, bytes.Compare); got != tt.want {
			t.Errorf("ValidRange(%s, %s, %v) = %v, want %v", tt.start, tt.end, tt.reverse, got, tt.want)
		}
	}
	if !ValidRange(nil, []byte("a"), false, bytes.Compare) || !ValidRange([]byte("a"), nil, true, bytes.Compare) {
		t.Error("Open ranges are always valid")
	}
}
