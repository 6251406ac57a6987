package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/treekv/pkg/client"
	"github.com/KevoDB/treekv/pkg/dump"
	"github.com/KevoDB/treekv/pkg/engine"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".connect"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".sync"),
	readline.PcItem(".check"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("FIRST"),
	readline.PcItem("LAST"),
	readline.PcItem("NEXT"),
	readline.PcItem("PREV"),
	readline.PcItem("SCAN",
		readline.PcItem("RANGE"),
		readline.PcItem("REVERSE"),
	),
	readline.PcItem("EXPORT"),
	readline.PcItem("IMPORT"),
)

const helpText = `
treekv - an embedded ordered key-value store on a disk B+ tree.

Usage:
  treekv [options] [database_path]  - Start with an optional database path

Commands (interactive mode only):
  .help                   - Show this help message
  .open PATH              - Open a database at PATH
  .connect ADDRESS        - Connect to a treekv server
  .close                  - Close the current database or connection
  .exit                   - Exit the program
  .stats                  - Show database statistics
  .sync                   - Flush data files and the recovery log
  .check                  - Verify the tree against the data files (local only)

  PUT key value           - Store a key-value pair
  GET key                 - Retrieve a value by key
  DELETE key              - Delete a key
  FIRST | LAST            - Show the lowest or highest key
  NEXT key | PREV key     - Show the key after or before key

  SCAN                    - Scan all key-value pairs
  SCAN prefix             - Scan key-value pairs with given prefix
  SCAN RANGE start end    - Scan key-value pairs in range [start, end)
  SCAN REVERSE [start]    - Scan downward from start, or from the last key

  EXPORT file [codec]     - Dump live entries to file (codec: none, snappy, zstd)
  IMPORT file             - Load a dump into the open database (local only)
`

// shell runs interactive commands against one backend at a time.
type shell struct {
	b       backend
	out     io.Writer
	open    func(path string) (backend, error)
	connect func(endpoint string) (backend, error)
}

func (s *shell) prompt() string {
	if s.b == nil {
		return "treekv> "
	}
	return fmt.Sprintf("treekv:%s> ", s.b.Name())
}

func (s *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) closeBackend() {
	if s.b == nil {
		return
	}
	if err := s.b.Close(); err != nil {
		s.printf("Error closing %s: %s\n", s.b.Name(), err)
	}
	s.b = nil
}

// run reads commands until .exit, EOF or an interrupt on an empty line.
func (s *shell) run(rl *readline.Instance) {
	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			}
			if err == io.EOF {
				s.printf("Goodbye!\n")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", err)
			continue
		}
		if s.execute(context.Background(), line) {
			return
		}
	}
	s.closeBackend()
}

// execute runs one command line and reports whether the shell should exit.
func (s *shell) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		return s.dotCommand(ctx, strings.ToLower(cmd), parts[1:])
	}
	if s.b == nil {
		s.printf("Error: No database open\n")
		return false
	}

	switch cmd {
	case "PUT":
		if len(parts) < 3 {
			s.printf("Error: PUT requires key and value arguments\n")
			return false
		}
		value := strings.Join(parts[2:], " ")
		if _, err := s.b.Put(ctx, []byte(parts[1]), []byte(value)); err != nil {
			s.printf("Error putting value: %s\n", err)
			return false
		}
		s.printf("Value stored\n")

	case "GET":
		if len(parts) < 2 {
			s.printf("Error: GET requires a key argument\n")
			return false
		}
		s.showValue(s.b.Get(ctx, []byte(parts[1])))

	case "DELETE":
		if len(parts) < 2 {
			s.printf("Error: DELETE requires a key argument\n")
			return false
		}
		if _, err := s.b.Delete(ctx, []byte(parts[1])); err != nil {
			s.printf("Error deleting key: %s\n", err)
			return false
		}
		s.printf("Key deleted\n")

	case "FIRST":
		s.showEntry(s.b.First(ctx))
	case "LAST":
		s.showEntry(s.b.Last(ctx))
	case "NEXT", "PREV":
		if len(parts) < 2 {
			s.printf("Error: %s requires a key argument\n", cmd)
			return false
		}
		if cmd == "NEXT" {
			s.showEntry(s.b.Next(ctx, []byte(parts[1])))
		} else {
			s.showEntry(s.b.Prev(ctx, []byte(parts[1])))
		}

	case "SCAN":
		s.scan(ctx, parts[1:])

	case "EXPORT":
		s.export(ctx, parts[1:])
	case "IMPORT":
		s.importDump(ctx, parts[1:])

	default:
		s.printf("Unknown command: %s\n", cmd)
	}
	return false
}

func (s *shell) dotCommand(ctx context.Context, cmd string, args []string) bool {
	switch cmd {
	case ".help":
		s.printf("%s", helpText)

	case ".open", ".connect":
		if len(args) < 1 {
			s.printf("Error: Missing %s argument\n", map[string]string{".open": "path", ".connect": "address"}[cmd])
			return false
		}
		s.closeBackend()
		var (
			b   backend
			err error
		)
		if cmd == ".open" {
			b, err = s.open(args[0])
		} else {
			b, err = s.connect(args[0])
		}
		if err != nil {
			s.printf("Error opening %s: %s\n", args[0], err)
			return false
		}
		s.b = b
		s.printf("Opened %s\n", b.Name())

	case ".close":
		if s.b == nil {
			s.printf("No database open\n")
			return false
		}
		name := s.b.Name()
		s.closeBackend()
		s.printf("Closed %s\n", name)

	case ".exit":
		s.closeBackend()
		s.printf("Goodbye!\n")
		return true

	case ".stats":
		if s.b == nil {
			s.printf("No database open\n")
			return false
		}
		stats, err := s.b.Stats(ctx)
		if err != nil {
			s.printf("Error reading stats: %s\n", err)
			return false
		}
		s.printMap(stats, "")

	case ".sync":
		if s.b == nil {
			s.printf("No database open\n")
			return false
		}
		start := time.Now()
		if err := s.b.Sync(ctx); err != nil {
			s.printf("Error syncing: %s\n", err)
			return false
		}
		s.printf("Synced (%.2f ms)\n", float64(time.Since(start).Microseconds())/1000.0)

	case ".check":
		local, ok := s.b.(*localBackend)
		if !ok {
			s.printf("Error: .check needs a local database\n")
			return false
		}
		if err := local.eng.Check(); err != nil {
			s.printf("Check failed: %s\n", err)
			return false
		}
		s.printf("Tree is consistent\n")

	default:
		s.printf("Unknown command: %s\n", cmd)
	}
	return false
}

func (s *shell) showValue(e *engine.Entry, err error) {
	if errors.Is(err, engine.ErrKeyNotFound) {
		s.printf("Key not found\n")
		return
	}
	if err != nil {
		s.printf("Error getting value: %s\n", err)
		return
	}
	s.printf("%s\n", e.Value)
}

func (s *shell) showEntry(e *engine.Entry, err error) {
	if errors.Is(err, engine.ErrKeyNotFound) {
		s.printf("No such key\n")
		return
	}
	if err != nil {
		s.printf("Error: %s\n", err)
		return
	}
	s.printf("%s: %s\n", e.Key, e.Value)
}

func (s *shell) scan(ctx context.Context, args []string) {
	var opts client.ScanOptions
	switch {
	case len(args) == 0:
	case strings.ToUpper(args[0]) == "RANGE":
		if len(args) != 3 {
			s.printf("Error: SCAN RANGE requires start and end keys\n")
			return
		}
		opts.StartKey, opts.EndKey = []byte(args[1]), []byte(args[2])
	case strings.ToUpper(args[0]) == "REVERSE":
		opts.Reverse = true
		if len(args) > 1 {
			opts.StartKey = []byte(args[1])
		}
	case len(args) == 1:
		opts.Prefix = []byte(args[0])
	default:
		s.printf("Error: Invalid SCAN syntax. See .help for usage\n")
		return
	}

	count := 0
	err := s.b.Scan(ctx, opts, func(e *engine.Entry) error {
		s.printf("%s: %s\n", e.Key, e.Value)
		count++
		return nil
	})
	if err != nil {
		s.printf("Error scanning: %s\n", err)
	}
	s.printf("%d entries found\n", count)
}

func (s *shell) export(ctx context.Context, args []string) {
	local, ok := s.b.(*localBackend)
	if !ok {
		s.printf("Error: EXPORT needs a local database\n")
		return
	}
	if len(args) < 1 {
		s.printf("Error: EXPORT requires a file argument\n")
		return
	}
	codec := dump.CodecZstd
	if len(args) > 1 {
		c, err := dump.ParseCodec(args[1])
		if err != nil {
			s.printf("Error: %s\n", err)
			return
		}
		codec = c
	}

	f, err := os.Create(args[0])
	if err != nil {
		s.printf("Error creating %s: %s\n", args[0], err)
		return
	}
	res, err := dump.Export(ctx, local.eng, f, dump.Options{Codec: codec})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.printf("Error exporting: %s\n", err)
		return
	}
	s.printf("Exported %d entries to %s (%s)\n", res.Entries, args[0], res.Codec)
}

func (s *shell) importDump(ctx context.Context, args []string) {
	local, ok := s.b.(*localBackend)
	if !ok {
		s.printf("Error: IMPORT needs a local database\n")
		return
	}
	if len(args) < 1 {
		s.printf("Error: IMPORT requires a file argument\n")
		return
	}
	f, err := os.Open(args[0])
	if err != nil {
		s.printf("Error opening %s: %s\n", args[0], err)
		return
	}
	defer f.Close()

	res, err := dump.Import(ctx, local.eng, f, dump.Options{})
	if err != nil {
		s.printf("Error importing after %d entries: %s\n", res.Entries, err)
		return
	}
	s.printf("Imported %d entries from %s (%s)\n", res.Entries, args[0], res.Codec)
}

// printMap prints nested statistics with sorted keys.
func (s *shell) printMap(m map[string]interface{}, indent string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			s.printf("%s%s:\n", indent, k)
			s.printMap(v, indent+"  ")
		case map[string]int:
			nested := make(map[string]interface{}, len(v))
			for nk, nv := range v {
				nested[nk] = nv
			}
			s.printf("%s%s:\n", indent, k)
			s.printMap(nested, indent+"  ")
		case map[string]uint64:
			nested := make(map[string]interface{}, len(v))
			for nk, nv := range v {
				nested[nk] = nv
			}
			s.printf("%s%s:\n", indent, k)
			s.printMap(nested, indent+"  ")
		default:
			s.printf("%s%s: %v\n", indent, k, v)
		}
	}
}
