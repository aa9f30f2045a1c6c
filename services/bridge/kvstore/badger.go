// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for the BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC rewrites a file.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults for the given directory.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is a Store backed by an embedded BadgerDB.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenBadger opens a BadgerDB-backed store.
//
// # Description
//
// Opens the database at cfg.Path (creating the directory) or in memory,
// and starts a value-log GC loop when GCInterval > 0 on a persistent store.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Badger: The opened store. Caller must Close it.
//   - error: Non-nil if the path is invalid or the database cannot be opened.
//
// # Thread Safety
//
// The returned store is safe for concurrent use.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Badger{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.stopCh = make(chan struct{})
		b.doneCh = make(chan struct{})
		go b.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return b, nil
}

// OpenBadgerInMemory opens an in-memory store for tests.
func OpenBadgerInMemory() (*Badger, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

func (b *Badger) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *Badger) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// CompareAndSwap relies on Badger's optimistic transactions: a concurrent
// writer to the same key makes Commit fail with ErrConflict, which is
// reported as a lost race.
func (b *Badger) CompareAndSwap(ctx context.Context, key string, expected, next []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	var current []byte
	found := true
	item, err := txn.Get([]byte(key))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		found = false
	case err != nil:
		return false, err
	default:
		if current, err = item.ValueCopy(nil); err != nil {
			return false, err
		}
	}

	if !equalValue(current, found, expected) {
		return false, nil
	}
	if err := txn.Set([]byte(key), next); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close stops the GC loop and closes the database.
func (b *Badger) Close() error {
	if b.stopCh != nil {
		close(b.stopCh)
		<-b.doneCh
		b.stopCh = nil
	}
	return b.db.Close()
}

func (b *Badger) runGC(interval time.Duration, ratio float64) {
	defer close(b.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			if err := b.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				if b.logger != nil {
					b.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

var _ Store = (*Badger)(nil)
