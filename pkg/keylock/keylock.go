// Package keylock provides exclusive, reentrant locks keyed by an arbitrary
// comparable identifier. A Registry belongs to one engine instance.
package keylock

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Owner identifies a logical lock holder. Re-acquiring a key with the same
// owner does not block.
type Owner uint64

// Registry maps keys to their current holder. Keys are spread over shards so
// unrelated keys rarely contend on the same mutex.
type Registry[K comparable] struct {
	shards []*shard[K]
	mask   uint64
	hasher func(K) uint64
	owners atomic.Uint64
}

type shard[K comparable] struct {
	mu   sync.Mutex
	held map[K]*holder
}

// holder is one key's lock state. cond shares the shard mutex, so checking
// ownership and starting to wait happen in one critical section.
type holder struct {
	owner   Owner
	count   int
	waiters int
	cond    *sync.Cond
}

// New creates a registry with the given number of shards, rounded up to a
// power of two.
func New[K comparable](shards int, hashFn func(K) uint64) *Registry[K] {
	if shards <= 0 {
		shards = 64
	}
	n := 1
	for n < shards {
		n <<= 1
	}
	r := &Registry[K]{
		shards: make([]*shard[K], n),
		mask:   uint64(n - 1),
		hasher: hashFn,
	}
	for i := range r.shards {
		r.shards[i] = &shard[K]{held: make(map[K]*holder)}
	}
	return r
}

// HashInt64 hashes integer keys such as block references.
func HashInt64(k int64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return xxhash.Sum64(b[:])
}

// HashString hashes string keys.
func HashString(k string) uint64 {
	return xxhash.Sum64String(k)
}

// NewOwner returns a fresh owner token, distinct from every other token this
// registry has handed out.
func (r *Registry[K]) NewOwner() Owner {
	return Owner(r.owners.Add(1))
}

func (r *Registry[K]) shardFor(key K) *shard[K] {
	return r.shards[r.hasher(key)&r.mask]
}

// Lock blocks until owner is the sole holder of key. A holder calling Lock
// again increments its hold count.
func (r *Registry[K]) Lock(owner Owner, key K) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		h, ok := s.held[key]
		if !ok {
			s.held[key] = &holder{owner: owner, count: 1, cond: sync.NewCond(&s.mu)}
			return
		}
		if h.owner == owner {
			h.count++
			return
		}
		h.waiters++
		h.cond.Wait()
		h.waiters--
		// The woken waiter competes with any newcomer: loop and look again.
	}
}

// Unlock drops one hold. When the count reaches zero the key is released and
// its waiters are woken. Unlocking a key the owner does not hold panics.
func (r *Registry[K]) Unlock(owner Owner, key K) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.held[key]
	if !ok || h.owner != owner {
		panic(fmt.Sprintf("keylock: unlock of %v by non-holder %d", key, owner))
	}
	h.count--
	if h.count > 0 {
		return
	}
	delete(s.held, key)
	if h.waiters > 0 {
		h.cond.Broadcast()
	}
}

// LockAll acquires several keys in the given order.
func (r *Registry[K]) LockAll(owner Owner, keys ...K) {
	for _, k := range keys {
		r.Lock(owner, k)
	}
}

// UnlockAll releases keys in reverse order.
func (r *Registry[K]) UnlockAll(owner Owner, keys ...K) {
	for i := len(keys) - 1; i >= 0; i-- {
		r.Unlock(owner, keys[i])
	}
}

// Held reports whether key currently has a holder.
func (r *Registry[K]) Held(key K) bool {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[key]
	return ok
}

// Len returns the number of held keys.
func (r *Registry[K]) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.held)
		s.mu.Unlock()
	}
	return n
}
