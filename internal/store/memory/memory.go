// Package memory is an in-process Transactor. Readers work on an immutable
// snapshot map; a write transaction buffers its changes and, on success,
// publishes a new map in a single pointer swap. Writers are serialised.
package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"axolotl/internal/domain"
	"axolotl/internal/store"
)

type snapshot map[string][]byte

// DB is an in-memory key-value backend.
type DB struct {
	writer sync.Mutex
	data   atomic.Pointer[snapshot]
	closed atomic.Bool
}

// New returns an empty DB.
func New() *DB {
	db := &DB{}
	empty := snapshot{}
	db.data.Store(&empty)
	return db
}

// View runs fn against the current snapshot.
func (db *DB) View(ctx context.Context, fn func(domain.ReadContext) error) error {
	if db.closed.Load() {
		return store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&readTx{ctx: ctx, base: *db.data.Load()})
}

// Update runs fn in a write transaction. Its writes are published only if
// fn returns nil.
func (db *DB) Update(ctx context.Context, fn func(domain.WriteContext) error) error {
	db.writer.Lock()
	defer db.writer.Unlock()

	if db.closed.Load() {
		return store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &writeTx{readTx: readTx{ctx: ctx, base: *db.data.Load()}, pending: map[string][]byte{}}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.pending) == 0 {
		return nil
	}

	next := make(snapshot, len(tx.base)+len(tx.pending))
	for k, v := range tx.base {
		next[k] = v
	}
	for k, v := range tx.pending {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	db.data.Store(&next)
	return nil
}

// Close makes further transactions fail with store.ErrClosed.
func (db *DB) Close() error {
	db.closed.Store(true)
	return nil
}

type readTx struct {
	ctx  context.Context
	base snapshot
}

func (tx *readTx) Context() context.Context { return tx.ctx }

func (tx *readTx) Get(key []byte) ([]byte, bool, error) {
	v, ok := tx.base[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (tx *readTx) Scan(prefix []byte, fn func(k, v []byte) error) error {
	return scan(tx.base, nil, string(prefix), fn)
}

type writeTx struct {
	readTx
	// pending holds buffered writes; a nil value is a delete.
	pending map[string][]byte
}

func (tx *writeTx) Get(key []byte) ([]byte, bool, error) {
	if v, ok := tx.pending[string(key)]; ok {
		if v == nil {
			return nil, false, nil
		}
		return bytes.Clone(v), true, nil
	}
	return tx.readTx.Get(key)
}

func (tx *writeTx) Scan(prefix []byte, fn func(k, v []byte) error) error {
	return scan(tx.base, tx.pending, string(prefix), fn)
}

func (tx *writeTx) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	tx.pending[string(key)] = bytes.Clone(value)
	return nil
}

func (tx *writeTx) Delete(key []byte) error {
	tx.pending[string(key)] = nil
	return nil
}

// scan visits base overlaid with pending, in key order.
func scan(base snapshot, pending map[string][]byte, prefix string, fn func(k, v []byte) error) error {
	merged := map[string][]byte{}
	for k, v := range base {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k, v := range pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), bytes.Clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time assertion that DB implements domain.Transactor.
var _ domain.Transactor = (*DB)(nil)
