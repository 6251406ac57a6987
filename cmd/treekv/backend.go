package main

import (
	"bytes"
	"context"

	"github.com/KevoDB/treekv/pkg/client"
	"github.com/KevoDB/treekv/pkg/engine"
)

// backend is what the shell runs commands against: an engine opened in
// this process or a server reached through the client.
type backend interface {
	Put(ctx context.Context, key, value []byte) (*engine.Entry, error)
	Get(ctx context.Context, key []byte) (*engine.Entry, error)
	Delete(ctx context.Context, key []byte) (*engine.Entry, error)
	First(ctx context.Context) (*engine.Entry, error)
	Last(ctx context.Context) (*engine.Entry, error)
	Next(ctx context.Context, key []byte) (*engine.Entry, error)
	Prev(ctx context.Context, key []byte) (*engine.Entry, error)
	Scan(ctx context.Context, opts client.ScanOptions, fn func(*engine.Entry) error) error
	Sync(ctx context.Context) error
	Stats(ctx context.Context) (map[string]interface{}, error)
	Close() error
	Name() string
}

type localBackend struct {
	eng  *engine.Engine
	path string
}

func (b *localBackend) Put(_ context.Context, key, value []byte) (*engine.Entry, error) {
	return b.eng.Put(key, value)
}

func (b *localBackend) Get(_ context.Context, key []byte) (*engine.Entry, error) {
	return b.eng.Get(key)
}

func (b *localBackend) Delete(_ context.Context, key []byte) (*engine.Entry, error) {
	return b.eng.Delete(key)
}

func (b *localBackend) First(context.Context) (*engine.Entry, error) { return b.eng.First() }
func (b *localBackend) Last(context.Context) (*engine.Entry, error)  { return b.eng.Last() }

func (b *localBackend) Next(_ context.Context, key []byte) (*engine.Entry, error) {
	return b.eng.Next(key)
}

func (b *localBackend) Prev(_ context.Context, key []byte) (*engine.Entry, error) {
	return b.eng.Prev(key)
}

func (b *localBackend) Scan(ctx context.Context, opts client.ScanOptions, fn func(*engine.Entry) error) error {
	iter := engine.IterOptions{Start: opts.StartKey, End: opts.EndKey, Reverse: opts.Reverse}
	if opts.Prefix != nil {
		if opts.Reverse {
			iter.Start = prefixEnd(opts.Prefix)
			iter.End = nil
		} else {
			iter.Start, iter.End = opts.Prefix, prefixEnd(opts.Prefix)
		}
	}

	it, err := b.eng.Iterator(iter)
	if err != nil {
		return err
	}
	defer it.Close()

	n := 0
	for it.Next() {
		e := it.Entry()
		if opts.Prefix != nil && !bytes.HasPrefix(e.Key, opts.Prefix) {
			if opts.Reverse && bytes.Compare(e.Key, opts.Prefix) < 0 {
				break
			}
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
		n++
		if opts.Limit > 0 && n >= opts.Limit {
			break
		}
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return it.Err()
}

func (b *localBackend) Sync(context.Context) error { return b.eng.Sync() }

func (b *localBackend) Stats(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"engine":     b.eng.Stats().Map(),
		"operations": b.eng.OperationStats(),
	}, nil
}

func (b *localBackend) Close() error { return b.eng.Close() }
func (b *localBackend) Name() string { return b.path }

type remoteBackend struct {
	c        *client.Client
	endpoint string
}

func (b *remoteBackend) Put(ctx context.Context, key, value []byte) (*engine.Entry, error) {
	return b.c.Put(ctx, key, value, false)
}

func (b *remoteBackend) Get(ctx context.Context, key []byte) (*engine.Entry, error) {
	return b.c.GetEntry(ctx, key)
}

func (b *remoteBackend) Delete(ctx context.Context, key []byte) (*engine.Entry, error) {
	return b.c.Delete(ctx, key, false)
}

func (b *remoteBackend) First(ctx context.Context) (*engine.Entry, error) { return b.c.First(ctx) }
func (b *remoteBackend) Last(ctx context.Context) (*engine.Entry, error)  { return b.c.Last(ctx) }

func (b *remoteBackend) Next(ctx context.Context, key []byte) (*engine.Entry, error) {
	return b.c.Next(ctx, key)
}

func (b *remoteBackend) Prev(ctx context.Context, key []byte) (*engine.Entry, error) {
	return b.c.Prev(ctx, key)
}

func (b *remoteBackend) Scan(ctx context.Context, opts client.ScanOptions, fn func(*engine.Entry) error) error {
	s, err := b.c.Scan(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	for s.Next() {
		if err := fn(s.Entry()); err != nil {
			return err
		}
	}
	return s.Error()
}

func (b *remoteBackend) Sync(ctx context.Context) error { return b.c.Sync(ctx) }

func (b *remoteBackend) Stats(ctx context.Context) (map[string]interface{}, error) {
	return b.c.GetStats(ctx)
}

func (b *remoteBackend) Close() error { return b.c.Close() }
func (b *remoteBackend) Name() string { return b.endpoint }

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
