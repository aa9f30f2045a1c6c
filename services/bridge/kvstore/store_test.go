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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"badger": b,
	}
}

// =============================================================================
// Store Contract Tests
// =============================================================================

func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "k", []byte("v1")))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got)

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			// deleting again is fine
			assert.NoError(t, s.Delete(ctx, "k"))
		})
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.CompareAndSwap(ctx, "cas", nil, []byte("a"))
			require.NoError(t, err)
			assert.True(t, ok, "absent key should accept nil expectation")

			ok, err = s.CompareAndSwap(ctx, "cas", nil, []byte("b"))
			require.NoError(t, err)
			assert.False(t, ok, "present key must reject nil expectation")

			ok, err = s.CompareAndSwap(ctx, "cas", []byte("wrong"), []byte("b"))
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.CompareAndSwap(ctx, "cas", []byte("a"), []byte("b"))
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(ctx, "cas")
			require.NoError(t, err)
			assert.Equal(t, []byte("b"), got)
		})
	}
}

func TestStore_CompareAndSwap_SingleWinner(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "race", []byte("0")))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.CompareAndSwap(ctx, "race", []byte("0"), []byte("1"))
					if err == nil && ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestStore_ContextCancelled(t *testing.T) {
	b, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, b.Set(ctx, "k", []byte("v")))
}

// =============================================================================
// JSON Helper Tests
// =============================================================================

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var out record
	found, err := GetJSON(ctx, s, "rec", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, SetJSON(ctx, s, "rec", record{Name: "a", Count: 2}))
	found, err = GetJSON(ctx, s, "rec", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, record{Name: "a", Count: 2}, out)

	require.NoError(t, s.Set(ctx, "bad", []byte("{")))
	_, err = GetJSON(ctx, s, "bad", &out)
	assert.Error(t, err)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestOpenBadger_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig(dir)
	cfg.SyncWrites = false

	b, err := OpenBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Set(context.Background(), "k", []byte("v")))
	require.NoError(t, b.Close())

	b, err = OpenBadger(cfg)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
