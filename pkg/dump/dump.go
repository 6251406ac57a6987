// Package dump exports the live entries of an engine to a compressed
// stream and loads such a stream back into an engine.
//
// A dump is an 8 byte magic, one codec byte and then, through the codec,
// the live entries in key order in the block entry encoding.
package dump

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/engine"
	"golang.org/x/sync/errgroup"
)

const magic = "TKVDUMP1"

// maxRecord bounds one record so a corrupt length cannot exhaust memory.
const maxRecord = 1 << 30

var (
	// ErrBadHeader is returned for a stream that is not a dump
	ErrBadHeader = errors.New("not a dump stream")
	// ErrCorruptRecord is returned for a record that cannot be decoded
	ErrCorruptRecord = errors.New("corrupt dump record")
)

// Source is the read side of an engine.
type Source interface {
	All() (*engine.Iterator, error)
}

// Sink is the write side of an engine.
type Sink interface {
	Put(key, value []byte) (*engine.Entry, error)
}

// Options configures Export and Import.
type Options struct {
	Codec   Codec
	Logger  log.Logger
	Metrics DumpMetrics
	// Buffer is the number of decoded records queued ahead of the writer
	// during import.
	Buffer int
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = log.GetDefaultLogger().WithField("component", "dump")
	}
	if o.Metrics == nil {
		o.Metrics = NewDumpMetrics(nil)
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
}

// Result summarises an export or import.
type Result struct {
	Entries  int64
	Bytes    int64 // uncompressed record bytes
	Codec    Codec
	Duration time.Duration
}

// Export writes every live entry of src to w.
func Export(ctx context.Context, src Source, w io.Writer, opts Options) (Result, error) {
	opts.defaults()
	start := time.Now()
	res := Result{Codec: opts.Codec}

	header := append([]byte(magic), byte(opts.Codec))
	if _, err := w.Write(header); err != nil {
		return res, fmt.Errorf("failed to write dump header: %w", err)
	}
	cw, err := newCompressWriter(w, opts.Codec)
	if err != nil {
		return res, err
	}

	it, err := src.All()
	if err != nil {
		cw.Close()
		return res, err
	}
	defer it.Close()

	var buf []byte
	for it.Next() {
		if res.Entries%1024 == 0 {
			if err := ctx.Err(); err != nil {
				cw.Close()
				return res, err
			}
		}
		e := it.Entry()
		rec := &block.Entry{
			Key:       e.Key,
			Value:     e.Value,
			Kind:      block.ValueInline,
			Size:      e.Size,
			Timestamp: e.Timestamp,
		}
		n := rec.EncodedSize()
		if cap(buf) < n {
			buf = make([]byte, n)
		}
		buf = buf[:n]
		if _, err := rec.Encode(buf); err != nil {
			cw.Close()
			return res, err
		}
		if _, err := cw.Write(buf); err != nil {
			cw.Close()
			return res, fmt.Errorf("failed to write dump record: %w", err)
		}
		res.Entries++
		res.Bytes += int64(n)
	}
	if err := it.Err(); err != nil {
		cw.Close()
		return res, err
	}
	if err := cw.Close(); err != nil {
		return res, fmt.Errorf("failed to finish dump stream: %w", err)
	}

	res.Duration = time.Since(start)
	opts.Metrics.RecordExport(ctx, res.Duration, res.Entries, res.Bytes, opts.Codec)
	opts.Logger.Info("Exported %d entries (%d bytes, %s) in %v", res.Entries, res.Bytes, opts.Codec, res.Duration)
	return res, nil
}

// Import reads a dump from r and puts every entry into dst. Decoding runs
// ahead of the writes in its own goroutine. The codec is taken from the
// stream header; opts.Codec is ignored.
func Import(ctx context.Context, dst Sink, r io.Reader, opts Options) (Result, error) {
	opts.defaults()
	start := time.Now()
	var res Result

	header := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return res, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if string(header[:len(magic)]) != magic {
		return res, ErrBadHeader
	}
	res.Codec = Codec(header[len(magic)])
	cr, err := newCompressReader(r, res.Codec)
	if err != nil {
		return res, err
	}
	defer cr.Close()

	records := make(chan *block.Entry, opts.Buffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(records)
		br := bufio.NewReaderSize(cr, 64*1024)
		for {
			e, err := readRecord(br)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case records <- e:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for e := range records {
			if _, err := dst.Put(e.Key, e.Value); err != nil {
				return fmt.Errorf("failed to import %q: %w", e.Key, err)
			}
			res.Entries++
			res.Bytes += int64(e.EncodedSize())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	opts.Metrics.RecordImport(ctx, res.Duration, res.Entries, res.Bytes, res.Codec)
	opts.Logger.Info("Imported %d entries (%d bytes, %s) in %v", res.Entries, res.Bytes, res.Codec, res.Duration)
	return res, nil
}

// readRecord reads one length-prefixed entry. A clean end of stream before
// the prefix is io.EOF.
func readRecord(r io.Reader) (*block.Entry, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	total := int(binary.BigEndian.Uint32(lenBuf[:]))
	if total < block.EntryMetaSize || total > maxRecord {
		return nil, fmt.Errorf("%w: length %d", ErrCorruptRecord, total)
	}

	raw := make([]byte, total)
	copy(raw, lenBuf[:])
	if _, err := io.ReadFull(r, raw[4:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	e, _, err := block.DecodeEntry(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if e.Kind != block.ValueInline || e.Deleted {
		return nil, fmt.Errorf("%w: %q holds no value", ErrCorruptRecord, e.Key)
	}
	return e, nil
}
