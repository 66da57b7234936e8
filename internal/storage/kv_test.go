// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestKV(t *testing.T) *KVStore {
	t.Helper()
	kv, err := OpenKV(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKVStore_GetSet(t *testing.T) {
	kv := openTestKV(t)

	got, err := kv.Get("missing")
	require.NoError(t, err)
	assert.Equal(t, "", got, "unknown keys read as empty")

	require.NoError(t, kv.Set("relay:nav:v2:conv1", "q1|anthropic|anthropic|claude|0=a3"))
	got, err = kv.Get("relay:nav:v2:conv1")
	require.NoError(t, err)
	assert.Equal(t, "q1|anthropic|anthropic|claude|0=a3", got)

	// Overwrite
	require.NoError(t, kv.Set("relay:nav:v2:conv1", "q1|anthropic|anthropic|claude|0=a4"))
	got, _ = kv.Get("relay:nav:v2:conv1")
	assert.Equal(t, "q1|anthropic|anthropic|claude|0=a4", got)
}

func TestKVStore_Delete(t *testing.T) {
	kv := openTestKV(t)

	require.NoError(t, kv.Set("k", "v"))
	require.NoError(t, kv.Delete("k"))
	got, err := kv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	require.NoError(t, kv.Delete("never existed"))
}

func TestKVStore_KeysByPrefix(t *testing.T) {
	kv := openTestKV(t)

	require.NoError(t, kv.Set("relay:nav:v2:b", "1"))
	require.NoError(t, kv.Set("relay:nav:v2:a", "1"))
	require.NoError(t, kv.Set("relay:msgcache:v1:a", "1"))

	keys, err := kv.Keys("relay:nav:v2:")
	require.NoError(t, err)
	assert.Equal(t, []string{"relay:nav:v2:a", "relay:nav:v2:b"}, keys)
}

func TestKVStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	kv, err := OpenKV(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set("pin", "value"))
	require.NoError(t, kv.Close())

	kv2, err := OpenKV(path)
	require.NoError(t, err)
	defer kv2.Close()

	got, err := kv2.Get("pin")
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestKVStore_ClosedErrors(t *testing.T) {
	kv := openTestKV(t)
	require.NoError(t, kv.Close())

	_, err := kv.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, kv.Set("k", "v"), ErrClosed)

	// Closing twice is a no-op.
	assert.NoError(t, kv.Close())
}

func TestKVStore_CloseDuringWrites(t *testing.T) {
	kv := openTestKV(t)
	require.NoError(t, kv.Set("warm", "v"))

	// The config watcher and navigation persistence write in the
	// background while shutdown closes the store.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Errors are expected once the store closes. A write that
			// slips past the flag check gets a driver error instead
			// of ErrClosed, so only the absence of a race matters
			// here.
			for j := 0; j < 25; j++ {
				_ = kv.Set("k"+strconv.Itoa(n), "v")
				_, _ = kv.Get("warm")
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, kv.Close())
	}()
	wg.Wait()

	_, err := kv.Get("warm")
	assert.ErrorIs(t, err, ErrClosed)
}
