// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists planner runs, phase records, reports, and the
// user's tool inventory in an embedded BadgerDB instance.
//
// Design choices:
//
//  1. BadgerDB (not an external database): planner state is service
//     infrastructure, not shared data. An embedded store means no network
//     call, no availability dependency, and a single directory to back up.
//
//  2. Versioned key prefixes (run/v1/, report/v1/, ...) allow future
//     format changes without collision.
//
//  3. JSON values: run and report payloads are read by humans during
//     debugging far more often than they are bulk-scanned, so a
//     self-describing encoding beats gob here.
//
//  4. Native TTL for reports and share tokens: expiry is enforced by
//     BadgerDB's GC, not application code. Expired keys return
//     ErrKeyNotFound, which the store surfaces as ErrNotFound.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// =============================================================================
// DB Wrapper
// =============================================================================

// DBConfig controls how the embedded database is opened.
type DBConfig struct {
	// Path is the database directory. Created if missing.
	Path string

	// InMemory runs BadgerDB without touching disk. Used by tests.
	InMemory bool

	// GCInterval is how often value-log garbage collection runs.
	// Zero uses the default (10 minutes).
	GCInterval time.Duration
}

// DefaultDBConfig returns the standard on-disk configuration.
func DefaultDBConfig(path string) DBConfig {
	return DBConfig{Path: path, GCInterval: 10 * time.Minute}
}

// DB wraps a BadgerDB instance with transaction helpers and a background
// GC loop.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine.
type DB struct {
	inner  *badger.DB
	stopGC chan struct{}
}

// OpenDB opens (or creates) the database at the configured path.
//
// Outputs:
//   - *DB: Ready-to-use wrapper. Caller owns the lifecycle and must Close.
//   - error: Non-nil if the directory cannot be opened.
func OpenDB(cfg DBConfig) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithInMemory(cfg.InMemory)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	inner, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: opening badger at %s: %w", cfg.Path, err)
	}

	db := &DB{inner: inner, stopGC: make(chan struct{})}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if !cfg.InMemory {
		go db.gcLoop(interval)
	}

	return db, nil
}

// Close stops GC and closes the underlying database.
func (d *DB) Close() error {
	close(d.stopGC)
	return d.inner.Close()
}

// WithTxn runs fn inside a read-write transaction, honoring ctx cancellation
// before starting.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.inner.View(fn)
}

// gcLoop runs value-log garbage collection until Close.
func (d *DB) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing
			// to collect; that is the common case and not an error.
			if err := d.inner.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
				slog.Warn("badger GC failed", slog.String("error", err.Error()))
			}
		}
	}
}
