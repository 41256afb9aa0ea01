// Package sqlitekv is a durable Transactor on a single SQLite table, using
// the pure-Go modernc.org/sqlite driver. Each context is one database/sql
// transaction. The pool holds a single connection, so transactions run one
// at a time and a View waits for any open Update to finish. WAL mode keeps
// other processes reading the file from blocking this writer.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"axolotl/internal/domain"
	"axolotl/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB NOT NULL
) WITHOUT ROWID;
`

// DB wraps a SQLite database holding one key-value table.
type DB struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens or creates the database file at path.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: SQLite allows a single writer, and serialising here
	// keeps write transactions from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	logger.Info("sqlite store opened", zap.String("path", path))
	return &DB{db: db}, nil
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(domain.ReadContext) error) error {
	return d.run(ctx, true, func(t *tx) error { return fn(t) })
}

// Update runs fn in a transaction that commits only if fn returns nil.
func (d *DB) Update(ctx context.Context, fn func(domain.WriteContext) error) error {
	return d.run(ctx, false, func(t *tx) error { return fn(t) })
}

func (d *DB) run(ctx context.Context, readOnly bool, fn func(*tx) error) (err error) {
	if d.closed.Load() {
		return store.ErrClosed
	}
	sqlTx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if err = fn(&tx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

type tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *tx) Context() context.Context { return t.ctx }

func (t *tx) Get(key []byte) ([]byte, bool, error) {
	var v []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

func (t *tx) Scan(prefix []byte, fn func(k, v []byte) error) error {
	var (
		rows *sql.Rows
		err  error
	)
	if end := prefixEnd(prefix); end != nil {
		rows, err = t.tx.QueryContext(t.ctx, `SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k`, prefix, end)
	} else {
		rows, err = t.tx.QueryContext(t.ctx, `SELECT k, v FROM kv WHERE k >= ? ORDER BY k`, prefix)
	}
	if err != nil {
		return err
	}
	// Collect first: fn may write through the same transaction.
	type kv struct{ k, v []byte }
	var all []kv
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.k, &e.v); err != nil {
			_ = rows.Close()
			return err
		}
		all = append(all, e)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, e := range all {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	return err
}

func (t *tx) Delete(key []byte) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE k = ?`, key)
	return err
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
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

// Compile-time assertion that DB implements domain.Transactor.
var _ domain.Transactor = (*DB)(nil)
