package tlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/KevoDB/treekv/pkg/block"
)

// errEndOfLog marks a clean end of the log
var errEndOfLog = errors.New("end of recovery log")

// ErrTruncatedRecord indicates a record cut short by the end of the file
var ErrTruncatedRecord = errors.New("truncated recovery record")

// Reader reads records sequentially from a recovery log file.
type Reader struct {
	file   *os.File
	reader *bufio.Reader
	size   int64
}

// OpenReader opens the log at path for reading.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat recovery log: %w", err)
	}
	return &Reader{
		file:   file,
		reader: bufio.NewReaderSize(file, 64*1024),
		size:   info.Size(),
	}, nil
}

// Size returns the file length at open.
func (r *Reader) Size() int64 { return r.size }

// Next returns the next record and its raw bytes.
func (r *Reader) Next() (*block.Entry, []byte, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r.reader, lenBuf[:])
	if err == io.EOF {
		return nil, nil, errEndOfLog
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %d byte length prefix", ErrTruncatedRecord, n)
	}

	total := int(binary.BigEndian.Uint32(lenBuf[:]))
	if total < block.EntryMetaSize || int64(total) > r.size {
		return nil, nil, fmt.Errorf("%w: record length %d", block.ErrCorruptEntry, total)
	}

	raw := make([]byte, total)
	copy(raw, lenBuf[:])
	if _, err := io.ReadFull(r.reader, raw[4:]); err != nil {
		return nil, nil, fmt.Errorf("%w: expected %d bytes", ErrTruncatedRecord, total)
	}

	e, _, err := block.DecodeEntry(raw)
	if err != nil {
		return nil, nil, err
	}
	return e, raw, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
