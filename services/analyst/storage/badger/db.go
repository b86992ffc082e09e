// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB for analyst session persistence.
//
// Sessions and their conversation turns are service infrastructure, not
// user-facing search data: lookups are exact-key or small-prefix scans, so
// an embedded store with no network dependency is the right fit.
package badger

import (
	"context"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory opens a non-persistent database. Used by tests.
	InMemory bool
}

// DefaultConfig returns a config with no path set; the caller fills in
// Path before OpenDB.
func DefaultConfig() Config {
	return Config{}
}

// DB is a thin wrapper around a BadgerDB instance.
//
// Description:
//
//	Owns the underlying database handle. Opened once at startup and
//	closed at shutdown; stores built on top of it (ChatStore) borrow the
//	handle and never close it themselves.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine.
type DB struct {
	inner *dgbadger.DB
}

// OpenDB opens the database described by cfg.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: config path is empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}
	return &DB{inner: inner}, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.inner.Close()
}

// WithReadTxn runs fn inside a read-only transaction.
func (db *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.inner.View(fn)
}

// WithWriteTxn runs fn inside a read-write transaction.
func (db *DB) WithWriteTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.inner.Update(fn)
}
