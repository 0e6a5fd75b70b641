package memory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// DB exposes the internal *sql.DB for test helpers in memory_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// FailExecContaining makes every write whose SQL contains fragment fail.
func (s *Store) FailExecContaining(fragment string) {
	s.hooks.exec = func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
		if strings.Contains(query, fragment) {
			return nil, errors.New("injected exec failure")
		}
		return db.ExecContext(ctx, query, args...)
	}
}

// FailQueryContaining makes every read whose SQL contains fragment fail.
func (s *Store) FailQueryContaining(fragment string) {
	s.hooks.queryIt = func(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error) {
		if strings.Contains(query, fragment) {
			return nil, errors.New("injected query failure")
		}
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return sqlRowScanner{rows: rows}, nil
	}
}

// FailBegin makes every write transaction fail to start.
func (s *Store) FailBegin() {
	s.hooks.beginTx = func(context.Context, *sql.DB) (*sql.Tx, error) {
		return nil, errors.New("injected begin failure")
	}
}

// FailCommit makes every write transaction fail to commit. The transaction
// is rolled back so the store stays usable.
func (s *Store) FailCommit() {
	s.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return errors.New("injected commit failure")
	}
}

// SwapOpenDB replaces the database opener until restore is called.
func SwapOpenDB(fn func(driver, dsn string) (*sql.DB, error)) (restore func()) {
	prev := openDB
	openDB = fn
	return func() { openDB = prev }
}

// SanitizeFTS exposes sanitizeFTS for tests.
var SanitizeFTS = sanitizeFTS
