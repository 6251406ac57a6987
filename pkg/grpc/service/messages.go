package service

import (
	"encoding/base64"
	"fmt"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/engine"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// encodeEntry packs an engine entry into the block entry encoding.
func encodeEntry(e *engine.Entry) *wrapperspb.BytesValue {
	rec := &block.Entry{
		Key:       e.Key,
		Value:     e.Value,
		Size:      e.Size,
		Timestamp: e.Timestamp,
		Deleted:   e.Deleted,
	}
	if !e.Deleted {
		rec.Kind = block.ValueInline
	}
	return wrapperspb.Bytes(rec.Marshal())
}

// decodeEntry unpacks an entry sent by encodeEntry or by a Put request.
func decodeEntry(m *wrapperspb.BytesValue) (*engine.Entry, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: missing entry", block.ErrCorruptEntry)
	}
	rec, n, err := block.DecodeEntry(m.GetValue())
	if err != nil {
		return nil, err
	}
	if n != len(m.GetValue()) {
		return nil, fmt.Errorf("%w: %d trailing bytes", block.ErrCorruptEntry, len(m.GetValue())-n)
	}
	if rec.Kind == block.ValueRef {
		return nil, fmt.Errorf("%w: reference value for %q", block.ErrCorruptEntry, rec.Key)
	}
	return &engine.Entry{
		Key:       rec.Key,
		Value:     rec.Value,
		Size:      rec.Size,
		Timestamp: rec.Timestamp,
		Deleted:   rec.Deleted,
	}, nil
}

// putRequest encodes a key and value for Put.
func putRequest(key, value []byte) *wrapperspb.BytesValue {
	rec := &block.Entry{Key: key, Value: value, Kind: block.ValueInline}
	return wrapperspb.Bytes(rec.Marshal())
}

// ScanRequest selects the entries a Scan streams back. Start and End follow
// engine.IterOptions. A Prefix restricts the scan to keys beginning with it
// and, going forward with no Start, also positions the scan. Limit caps the
// number of entries; zero means no cap.
type ScanRequest struct {
	Start   []byte
	End     []byte
	Prefix  []byte
	Reverse bool
	Limit   int
}

// Struct field names of a scan request.
const (
	scanStart   = "start"
	scanEnd     = "end"
	scanPrefix  = "prefix"
	scanReverse = "reverse"
	scanLimit   = "limit"
)

// toStruct encodes r. Byte fields are base64 strings.
func (r ScanRequest) toStruct() (*structpb.Struct, error) {
	fields := map[string]interface{}{
		scanReverse: r.Reverse,
		scanLimit:   r.Limit,
	}
	for name, b := range map[string][]byte{scanStart: r.Start, scanEnd: r.End, scanPrefix: r.Prefix} {
		if b != nil {
			fields[name] = base64.StdEncoding.EncodeToString(b)
		}
	}
	return structpb.NewStruct(fields)
}

func scanRequestFromStruct(s *structpb.Struct) (ScanRequest, error) {
	var r ScanRequest
	fields := s.GetFields()

	decode := func(name string) ([]byte, error) {
		v, ok := fields[name]
		if !ok {
			return nil, nil
		}
		b, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("%w: bad %s: %v", engine.ErrInvalidRange, name, err)
		}
		return b, nil
	}

	var err error
	if r.Start, err = decode(scanStart); err != nil {
		return r, err
	}
	if r.End, err = decode(scanEnd); err != nil {
		return r, err
	}
	if r.Prefix, err = decode(scanPrefix); err != nil {
		return r, err
	}
	r.Reverse = fields[scanReverse].GetBoolValue()
	limit := fields[scanLimit].GetNumberValue()
	if limit < 0 {
		return r, fmt.Errorf("%w: negative limit", engine.ErrInvalidRange)
	}
	r.Limit = int(limit)
	return r, nil
}
