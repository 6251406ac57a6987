package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType string
	NumKeys       int
	ValueSize     int
	Mode          string
	Operations    int
	Errors        int
	Bytes         int64
	Duration      float64
	Throughput    float64
	Latency       float64 // µs per operation
	HitRate       float64 // For read benchmarks
	EntriesPerSec float64 // For scan benchmarks
	ReadRatio     float64 // For mixed benchmarks
	WriteRatio    float64 // For mixed benchmarks
	Note          string
	Timestamp     time.Time
}

// Describe renders the result as an indented block.
func (r BenchmarkResult) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s Benchmark Results:", r.BenchmarkType)
	fmt.Fprintf(&sb, "\n  Key Mode: %s", r.Mode)
	fmt.Fprintf(&sb, "\n  Operations: %d (%d errors)", r.Operations, r.Errors)
	fmt.Fprintf(&sb, "\n  Time: %.2f seconds", r.Duration)
	fmt.Fprintf(&sb, "\n  Throughput: %.2f ops/sec", r.Throughput)
	if r.Bytes > 0 && r.Duration > 0 {
		mb := float64(r.Bytes) / (1024 * 1024)
		fmt.Fprintf(&sb, "\n  Data Written: %.2f MB (%.2f MB/sec)", mb, mb/r.Duration)
	}
	fmt.Fprintf(&sb, "\n  Latency: %.3f µs/op", r.Latency)
	if r.HitRate > 0 {
		fmt.Fprintf(&sb, "\n  Hit Rate: %.2f%%", r.HitRate)
	}
	if r.EntriesPerSec > 0 {
		fmt.Fprintf(&sb, "\n  Entries: %.2f entries/sec", r.EntriesPerSec)
	}
	if r.ReadRatio > 0 {
		fmt.Fprintf(&sb, "\n  Mix: %.0f%% reads, %.0f%% writes", r.ReadRatio, r.WriteRatio)
	}
	if r.Note != "" {
		fmt.Fprintf(&sb, "\n  Note: %s", r.Note)
	}
	return sb.String()
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumKeys", "ValueSize", "Mode",
	"Operations", "Errors", "Bytes", "Duration", "Throughput", "Latency",
	"HitRate", "EntriesPerSec", "ReadRatio", "WriteRatio",
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumKeys),
			strconv.Itoa(r.ValueSize),
			r.Mode,
			strconv.Itoa(r.Operations),
			strconv.Itoa(r.Errors),
			strconv.FormatInt(r.Bytes, 10),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.3f", r.Latency),
			fmt.Sprintf("%.2f", r.HitRate),
			fmt.Sprintf("%.2f", r.EntriesPerSec),
			fmt.Sprintf("%.1f", r.ReadRatio),
			fmt.Sprintf("%.1f", r.WriteRatio),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return []BenchmarkResult{}, nil
	}

	results := make([]BenchmarkResult, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < len(csvHeader) {
			continue
		}
		timestamp, _ := time.Parse(time.RFC3339, record[0])
		numKeys, _ := strconv.Atoi(record[2])
		valueSize, _ := strconv.Atoi(record[3])
		operations, _ := strconv.Atoi(record[5])
		errCount, _ := strconv.Atoi(record[6])
		bytes, _ := strconv.ParseInt(record[7], 10, 64)
		duration, _ := strconv.ParseFloat(record[8], 64)
		throughput, _ := strconv.ParseFloat(record[9], 64)
		latency, _ := strconv.ParseFloat(record[10], 64)
		hitRate, _ := strconv.ParseFloat(record[11], 64)
		entriesPerSec, _ := strconv.ParseFloat(record[12], 64)
		readRatio, _ := strconv.ParseFloat(record[13], 64)
		writeRatio, _ := strconv.ParseFloat(record[14], 64)

		results = append(results, BenchmarkResult{
			Timestamp:     timestamp,
			BenchmarkType: record[1],
			NumKeys:       numKeys,
			ValueSize:     valueSize,
			Mode:          record[4],
			Operations:    operations,
			Errors:        errCount,
			Bytes:         bytes,
			Duration:      duration,
			Throughput:    throughput,
			Latency:       latency,
			HitRate:       hitRate,
			EntriesPerSec: entriesPerSec,
			ReadRatio:     readRatio,
			WriteRatio:    writeRatio,
		})
	}
	return results, nil
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(w io.Writer, results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results to display")
		return
	}

	const rule = "+------------------+--------+---------+------------+----------+-------------+"
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "| Benchmark Type   | Keys   | ValSize | Throughput | Latency  | Hit/Mix     |")
	fmt.Fprintln(w, rule)
	for _, r := range results {
		extra := "-"
		switch {
		case r.ReadRatio > 0:
			extra = fmt.Sprintf("R:%.0f/W:%.0f", r.ReadRatio, r.WriteRatio)
		case r.HitRate > 0:
			extra = fmt.Sprintf("%.2f%%", r.HitRate)
		}

		latencyUnit := "µs"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Fprintf(w, "| %-16s | %6d | %7d | %10.2f | %6.2f%s | %11s |\n",
			r.BenchmarkType, r.NumKeys, r.ValueSize, r.Throughput,
			latency, latencyUnit, extra)
	}
	fmt.Fprintln(w, rule)
}
