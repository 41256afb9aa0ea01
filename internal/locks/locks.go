// Package locks provides a keyed mutex table. Different keys never wait on
// each other and an idle key holds no memory. Callers that hold several
// keys at once must acquire them in sorted order.
//
// Usage:
//
//	unlock := table.Lock(addr.String())
//	defer unlock()
package locks

import (
	"context"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the number of shards the key space is split over.
const DefaultShardCount = 32

// Table is a set of per-key mutexes.
type Table struct {
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// entry is a per-key lock. refs counts holders and waiters and is guarded
// by the owning shard's mutex.
type entry struct {
	sem  chan struct{}
	refs int
}

// New returns a table with DefaultShardCount shards.
func New() *Table { return NewWithShards(DefaultShardCount) }

// NewWithShards returns a table with n shards. Non-positive n selects the
// default.
func NewWithShards(n int) *Table {
	if n <= 0 {
		n = DefaultShardCount
	}
	t := &Table{shards: make([]*shard, n)}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return t
}

func (t *Table) shardFor(key string) *shard {
	return t.shards[murmur3.Sum32([]byte(key))%uint32(len(t.shards))]
}

// Lock blocks until key is held and returns the function that releases it.
func (t *Table) Lock(key string) (unlock func()) {
	unlock, _ = t.LockContext(context.Background(), key)
	return unlock
}

// LockContext is Lock with cancellation. On error the key is not held.
func (t *Table) LockContext(ctx context.Context, key string) (func(), error) {
	s := t.shardFor(key)
	e := s.acquire(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			s.release(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (s *shard) acquire(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	return e
}

func (s *shard) release(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
}
