// Package db implements the persistent catalog shared by the sync loop and the
// command line. All writes are funnelled through one goroutine; reads go
// straight to the connection pool.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/chmdznr/oss-asset-sync/internal/db/migrations"
	"github.com/chmdznr/oss-asset-sync/internal/ignore"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned for writes submitted after Close.
	ErrClosed = errors.New("catalog closed")
)

const (
	maxBusyRetries = 8
	busyBackoff    = 50 * time.Millisecond
	maxBusyBackoff = 2 * time.Second
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type writeOp struct {
	ctx  context.Context
	fn   func(ctx context.Context, tx DBTX) error
	done chan error
}

// Catalog is the SQLite backed store of projects, assets, ignore patterns and
// credentials.
type Catalog struct {
	conn *sql.DB

	writes chan writeOp
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Open opens (creating if needed) the catalog at path, applies migrations,
// seeds the system ignore patterns and starts the writer.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if err := runMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	c := &Catalog{
		conn:   conn,
		writes: make(chan writeOp),
		quit:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.runWriter()

	if err := c.SeedIgnorePatterns(ctx, ignore.SystemPatterns); err != nil {
		c.Close()
		return nil, fmt.Errorf("seed ignore patterns: %w", err)
	}
	return c, nil
}

func runMigrations(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, conn, ".")
}

// Close stops the writer and closes the connection pool. Safe to call twice.
func (c *Catalog) Close() error {
	var err error
	c.once.Do(func() {
		close(c.quit)
		c.wg.Wait()
		err = c.conn.Close()
	})
	return err
}

func (c *Catalog) runWriter() {
	defer c.wg.Done()
	for {
		select {
		case op := <-c.writes:
			op.done <- c.apply(op)
		case <-c.quit:
			return
		}
	}
}

// write hands fn to the writer goroutine and blocks until it has committed or
// failed.
func (c *Catalog) write(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	op := writeOp{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case c.writes <- op:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-op.done
}

func (c *Catalog) apply(op writeOp) error {
	delay := busyBackoff
	for attempt := 0; ; attempt++ {
		err := withTx(op.ctx, c.conn, op.fn)
		if err == nil || !isBusy(err) || attempt >= maxBusyRetries {
			return err
		}
		select {
		case <-time.After(delay):
		case <-op.ctx.Done():
			return op.ctx.Err()
		}
		if delay < maxBusyBackoff {
			delay *= 2
		}
	}
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func withTx(ctx context.Context, conn *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// exec runs a single statement through the writer.
func (c *Catalog) exec(ctx context.Context, query string, args ...any) error {
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// execOne is exec that reports ErrNotFound when nothing was touched.
func (c *Catalog) execOne(ctx context.Context, query string, args ...any) error {
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
