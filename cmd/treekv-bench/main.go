package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/engine"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Benchmarks to run, comma separated (write, sequential-write, read, scan, range-scan, reverse-scan, mixed, lob, concurrent-read, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration to run each benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	lobSize       = flag.Int("lob-size", 64*config.KB, "Size of values in the lob benchmark")
	blockSize     = flag.String("block-size", "4K", "Block size of the benchmark database")
	readers       = flag.Int("readers", runtime.NumCPU(), "Goroutines in the concurrent-read benchmark")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	sequential    = flag.Bool("sequential", false, "Use sequential keys instead of random")
	scanSize      = flag.Int("scan-size", 100, "Number of entries to scan in range scan benchmarks")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}

	cfg := config.NewDefaultConfig()
	bs, err := config.ParseSize(*blockSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid block size: %v\n", err)
		os.Exit(1)
	}
	cfg.BlockSize = bs
	if *lobSize+config.KB > cfg.MaxLobSize {
		cfg.MaxLobSize = *lobSize + config.KB
	}

	e, err := engine.Open(*dataDir, engine.WithConfig(cfg), engine.WithLogger(log.Discard()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	b := &bench{
		e:         e,
		duration:  *duration,
		numKeys:   *numKeys,
		valueSize: *valueSize,
		lobSize:   *lobSize,
		scanSize:  *scanSize,
		readers:   *readers,
		random:    !*sequential,
	}

	fmt.Printf("Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Keys: %d, Value Size: %d bytes, Block Size: %d, Duration: %s, Mode: %s\n",
		*numKeys, *valueSize, bs, *duration, b.mode())

	var results []BenchmarkResult
	for _, typ := range strings.Split(*benchmarkType, ",") {
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "all" {
			for _, name := range benchmarkOrder {
				results = append(results, b.run(name))
			}
			continue
		}
		if _, ok := benchmarks[typ]; !ok {
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}
		results = append(results, b.run(typ))
	}

	for _, r := range results {
		fmt.Println(r.Describe())
	}
	PrintResultTable(os.Stdout, results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			return
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}
}
