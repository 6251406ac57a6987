package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/engine"
	"github.com/KevoDB/treekv/pkg/telemetry"
)

func openEngine(t *testing.T) *engine.Engine {
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
	return e
}

func fill(t *testing.T, e *engine.Engine, n int) map[string][]byte {
	t.Helper()
	want := make(map[string][]byte)
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		v := []byte(fmt.Sprintf("value-%d", i))
		if i%50 == 0 {
			v = bytes.Repeat([]byte{byte(i)}, 2000)
		}
		if _, err := e.Put(k, v); err != nil {
			t.Fatal(err)
		}
		want[string(k)] = v
	}
	for i := 0; i < n; i += 9 {
		k := fmt.Sprintf("key-%05d", i)
		if _, err := e.Delete([]byte(k)); err != nil {
			t.Fatal(err)
		}
		delete(want, k)
	}
	return want
}

func contents(t *testing.T, e *engine.Engine) map[string][]byte {
	t.Helper()
	it, err := e.All()
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	got := make(map[string][]byte)
	for it.Next() {
		got[string(it.Entry().Key)] = it.Entry().Value
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	src := openEngine(t)
	want := fill(t, src, 500)

	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			var buf bytes.Buffer
			rec := telemetry.NewRecorder()
			opts := Options{Codec: codec, Logger: log.Discard(), Metrics: NewDumpMetrics(rec)}

			exp, err := Export(context.Background(), src, &buf, opts)
			if err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if exp.Entries != int64(len(want)) {
				t.Errorf("Expected %d exported entries, got %d", len(want), exp.Entries)
			}

			dst := openEngine(t)
			imp, err := Import(context.Background(), dst, &buf, Options{Logger: log.Discard(), Metrics: NewDumpMetrics(rec), Buffer: 8})
			if err != nil {
				t.Fatalf("Import failed: %v", err)
			}
			if imp.Codec != codec || imp.Entries != exp.Entries || imp.Bytes != exp.Bytes {
				t.Errorf("Import %+v does not match export %+v", imp, exp)
			}

			got := contents(t, dst)
			if len(got) != len(want) {
				t.Fatalf("Expected %d entries after import, got %d", len(want), len(got))
			}
			for k, v := range want {
				if !bytes.Equal(got[k], v) {
					t.Fatalf("Value mismatch for %s", k)
				}
			}

			if rec.CounterSum("treekv.dump.export.entries") != exp.Entries {
				t.Errorf("Export entries metric does not match")
			}
			if rec.HistogramCount("treekv.dump.import.duration") != 1 {
				t.Errorf("Expected one import duration")
			}
		})
	}
}

func TestCompressionShrinksDump(t *testing.T) {
	src := openEngine(t)
	fill(t, src, 300)

	var plain, packed bytes.Buffer
	if _, err := Export(context.Background(), src, &plain, Options{Codec: CodecNone, Logger: log.Discard()}); err != nil {
		t.Fatal(err)
	}
	if _, err := Export(context.Background(), src, &packed, Options{Codec: CodecZstd, Logger: log.Discard()}); err != nil {
		t.Fatal(err)
	}
	if packed.Len() >= plain.Len() {
		t.Errorf("Expected zstd dump (%d bytes) smaller than plain (%d bytes)", packed.Len(), plain.Len())
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	dst := openEngine(t)
	opts := Options{Logger: log.Discard()}

	if _, err := Import(context.Background(), dst, bytes.NewReader([]byte("nope")), opts); !errors.Is(err, ErrBadHeader) {
		t.Errorf("Expected ErrBadHeader for a short stream, got %v", err)
	}
	if _, err := Import(context.Background(), dst, bytes.NewReader([]byte("NOTADUMP\x00")), opts); !errors.Is(err, ErrBadHeader) {
		t.Errorf("Expected ErrBadHeader for a wrong magic, got %v", err)
	}
	if _, err := Import(context.Background(), dst, bytes.NewReader([]byte(magic+"\x09")), opts); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Expected ErrUnknownCodec, got %v", err)
	}

	src := openEngine(t)
	fill(t, src, 50)
	var buf bytes.Buffer
	if _, err := Export(context.Background(), src, &buf, Options{Logger: log.Discard()}); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]
	if _, err := Import(context.Background(), dst, bytes.NewReader(truncated), opts); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("Expected ErrCorruptRecord for a truncated stream, got %v", err)
	}
}

func TestExportCancelled(t *testing.T) {
	src := openEngine(t)
	fill(t, src, 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf, Options{Logger: log.Discard()}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in   string
		want Codec
		err  bool
	}{
		{"", CodecNone, false},
		{"none", CodecNone, false},
		{"Snappy", CodecSnappy, false},
		{"zstd", CodecZstd, false},
		{"lz4", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseCodec(tc.in)
		if tc.err {
			if !errors.Is(err, ErrUnknownCodec) {
				t.Errorf("ParseCodec(%q): expected ErrUnknownCodec, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseCodec(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}
