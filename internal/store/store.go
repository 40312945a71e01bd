// Package store is the StateStore: the persistent relational model of
// DeviceConfig, ServerBinding, and LastKnownState rows, opened against a
// schema-versioned SQLite file inside the configured folder. It follows the
// same database/sql-and-raw-SQL repository idiom the rest of this codebase
// uses for its relational access, just pointed at an embedded single-user
// database instead of a server one.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/driveagent/driveagent/internal/ctlerr"
	"github.com/driveagent/driveagent/internal/logger"
)

const fileName = "driveagent.db"

// Store opens or creates the on-disk relational store and hands out scoped
// Sessions. It is safe for concurrent use. The pool holds a single
// connection and each Session holds a transaction on it, so Sessions are
// serialized: a second Session, reader or writer, blocks until the first is
// committed, rolled back, or closed.
type Store struct {
	db   *sql.DB
	log  *logger.Logger
	echo bool
	Path string
}

// Open opens (creating if absent) the store at configFolder/driveagent.db.
// It fails with ctlerr.SchemaError if an existing store's stamped schema
// version is newer than this binary knows how to read.
func Open(configFolder string, log *logger.Logger, echo bool) (*Store, error) {
	if err := os.MkdirAll(configFolder, 0o700); err != nil {
		return nil, ctlerr.Wrap(ctlerr.SchemaError, "store.Open", err)
	}
	path := filepath.Join(configFolder, fileName)

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, ctlerr.Wrap(ctlerr.SchemaError, "store.Open", err)
	}
	db.SetMaxOpenConns(1) // single connection: one Session (transaction) at a time

	s := &Store{db: db, log: log, echo: echo, Path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Session is a scoped transactional handle. Every exit path (Commit,
// Rollback, or the caller simply returning without either) leaves the
// underlying transaction released: Close() is idempotent and safe to defer
// unconditionally right after Session() returns.
type Session struct {
	tx     *sql.Tx
	echo   bool
	log    *logger.Logger
	closed bool
}

// Session opens a new transactional unit of work. Sessions are cheap and
// must never be shared across goroutines; callers defer sess.Close() and
// explicitly Commit() on the success path.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ctlerr.Wrap(ctlerr.SchemaError, "store.Session", err)
	}
	return &Session{tx: tx, echo: s.echo, log: s.log}, nil
}

func (sess *Session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	sess.trace(query, args)
	return sess.tx.ExecContext(ctx, query, args...)
}

func (sess *Session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	sess.trace(query, args)
	return sess.tx.QueryContext(ctx, query, args...)
}

func (sess *Session) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	sess.trace(query, args)
	return sess.tx.QueryRowContext(ctx, query, args...)
}

func (sess *Session) trace(query string, args []any) {
	if sess.echo && sess.log != nil {
		sess.log.Debug("sql", query, args)
	}
}

func (sess *Session) Commit() error {
	if sess.closed {
		return nil
	}
	sess.closed = true
	return sess.tx.Commit()
}

func (sess *Session) Rollback() error {
	if sess.closed {
		return nil
	}
	sess.closed = true
	return sess.tx.Rollback()
}

// Close rolls back if the session was never committed. Safe to call after
// Commit or Rollback; safe to defer unconditionally.
func (sess *Session) Close() {
	if sess.closed {
		return
	}
	_ = sess.Rollback()
}

func wrapNotFound(op string, err error) error {
	if err == sql.ErrNoRows {
		return ctlerr.Wrap(ctlerr.NotFound, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
