package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/engine"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.BlockSize = 512
	cfg.DataFileSize = config.MB
	cfg.MaxLobSize = 64 * config.KB

	var out bytes.Buffer
	sh := &shell{
		out: &out,
		open: func(path string) (backend, error) {
			eng, err := engine.Open(path, engine.WithConfig(cfg), engine.WithLogger(log.Discard()))
			if err != nil {
				return nil, err
			}
			return &localBackend{eng: eng, path: path}, nil
		},
	}
	t.Cleanup(sh.closeBackend)
	return sh, &out
}

// run executes each line and returns everything printed by the last one.
func run(t *testing.T, sh *shell, out *bytes.Buffer, lines ...string) string {
	t.Helper()
	var last string
	for _, line := range lines {
		out.Reset()
		sh.execute(context.Background(), line)
		last = out.String()
	}
	return last
}

func TestShellNoDatabase(t *testing.T) {
	sh, out := newTestShell(t)
	if got := run(t, sh, out, "GET a"); !strings.Contains(got, "No database open") {
		t.Errorf("Expected a no-database error, got %q", got)
	}
	if got := run(t, sh, out, ".close"); !strings.Contains(got, "No database open") {
		t.Errorf("Unexpected .close output %q", got)
	}
	if got := run(t, sh, out, ".bogus"); !strings.Contains(got, "Unknown command") {
		t.Errorf("Unexpected output %q", got)
	}
	if !sh.execute(context.Background(), ".exit") {
		t.Error(".exit should end the shell")
	}
}

func TestShellBasicCommands(t *testing.T) {
	sh, out := newTestShell(t)
	dir := t.TempDir()

	if got := run(t, sh, out, ".open "+dir); !strings.Contains(got, "Opened") {
		t.Fatalf("Failed to open database: %q", got)
	}
	if got := sh.prompt(); !strings.Contains(got, dir) {
		t.Errorf("Prompt should name the database, got %q", got)
	}

	if got := run(t, sh, out, "PUT greeting hello world"); got != "Value stored\n" {
		t.Errorf("Unexpected PUT output %q", got)
	}
	if got := run(t, sh, out, "GET greeting"); got != "hello world\n" {
		t.Errorf("Unexpected GET output %q", got)
	}
	if got := run(t, sh, out, "DELETE greeting"); got != "Key deleted\n" {
		t.Errorf("Unexpected DELETE output %q", got)
	}
	if got := run(t, sh, out, "GET greeting"); got != "Key not found\n" {
		t.Errorf("Unexpected GET output after delete %q", got)
	}
	if got := run(t, sh, out, "PUT onlykey"); !strings.Contains(got, "requires key and value") {
		t.Errorf("Unexpected output %q", got)
	}
	if got := run(t, sh, out, "FROB"); !strings.Contains(got, "Unknown command: FROB") {
		t.Errorf("Unexpected output %q", got)
	}
}

func TestShellNavigationAndScan(t *testing.T) {
	sh, out := newTestShell(t)
	run(t, sh, out, ".open "+t.TempDir())
	for _, k := range []string{"a1", "a2", "a3", "b1", "b2"} {
		run(t, sh, out, "PUT "+k+" v"+k)
	}

	tests := []struct {
		line string
		want string
	}{
		{"FIRST", "a1: va1\n"},
		{"LAST", "b2: vb2\n"},
		{"NEXT a3", "b1: vb1\n"},
		{"PREV a1", "No such key\n"},
		{"SCAN", "a1: va1\na2: va2\na3: va3\nb1: vb1\nb2: vb2\n5 entries found\n"},
		{"SCAN b", "b1: vb1\nb2: vb2\n2 entries found\n"},
		{"SCAN RANGE a2 b2", "a2: va2\na3: va3\nb1: vb1\n3 entries found\n"},
		{"SCAN REVERSE", "b2: vb2\nb1: vb1\na3: va3\na2: va2\na1: va1\n5 entries found\n"},
		{"SCAN REVERSE a2", "a2: va2\na1: va1\n2 entries found\n"},
		{"SCAN RANGE a2", "Error: SCAN RANGE requires start and end keys\n"},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			if got := run(t, sh, out, tc.line); got != tc.want {
				t.Errorf("%s: expected %q, got %q", tc.line, tc.want, got)
			}
		})
	}
}

func TestShellExportImport(t *testing.T) {
	sh, out := newTestShell(t)
	run(t, sh, out, ".open "+t.TempDir())
	for _, k := range []string{"x", "y", "z"} {
		run(t, sh, out, "PUT "+k+" value-"+k)
	}
	file := filepath.Join(t.TempDir(), "dump.zst")

	if got := run(t, sh, out, "EXPORT "+file); !strings.Contains(got, "Exported 3 entries") {
		t.Fatalf("Unexpected EXPORT output %q", got)
	}
	if got := run(t, sh, out, "EXPORT "+file+" lz4"); !strings.HasPrefix(got, "Error") {
		t.Errorf("Expected an unknown codec error, got %q", got)
	}

	other := t.TempDir()
	if got := run(t, sh, out, ".open "+other, "IMPORT "+file); !strings.Contains(got, "Imported 3 entries") {
		t.Fatalf("Unexpected IMPORT output %q", got)
	}
	if got := run(t, sh, out, "GET y"); got != "value-y\n" {
		t.Errorf("Unexpected GET after import %q", got)
	}
	if got := run(t, sh, out, ".check"); got != "Tree is consistent\n" {
		t.Errorf("Unexpected .check output %q", got)
	}
	if got := run(t, sh, out, ".stats"); !strings.Contains(got, "put_ops") {
		t.Errorf("Stats should list operation counters, got %q", got)
	}
	if got := run(t, sh, out, ".sync"); !strings.HasPrefix(got, "Synced") {
		t.Errorf("Unexpected .sync output %q", got)
	}
	if got := run(t, sh, out, ".close"); !strings.HasPrefix(got, "Closed") {
		t.Errorf("Unexpected .close output %q", got)
	}
	if sh.b != nil {
		t.Error("Backend should be cleared after .close")
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
		isNil  bool
	}{
		{"abc", "abd", false},
		{"a\xff", "b", false},
		{"\xff\xff", "", true},
	}
	for _, tc := range tests {
		got := prefixEnd([]byte(tc.prefix))
		if tc.isNil {
			if got != nil {
				t.Errorf("prefixEnd(%q) = %q, want nil", tc.prefix, got)
			}
			continue
		}
		if string(got) != tc.want {
			t.Errorf("prefixEnd(%q) = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}
