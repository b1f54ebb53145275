package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

const testKey core.CacheKey = "0123abcd"

func newStore(t *testing.T) *Local {
	t.Helper()
	store, err := NewLocal(filepath.Join(t.TempDir(), "cache"), 0)
	require.NoError(t, err)
	return store
}

func TestPutGetLayout(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Put(ctx, testKey, "blog/hero-800w.png", []byte("png")))

	data, err := store.Get(ctx, testKey, "blog/hero-800w.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = os.Stat(filepath.Join(store.Root(), string(testKey), "blog", "hero-800w.png"))
	assert.NoError(t, err, "entries live under <root>/<key>/<relative output path>")
}

func TestGetMiss(t *testing.T) {
	_, err := newStore(t).Get(context.Background(), testKey, "hero.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryCache))
}

func TestHasAllRequiresEveryArtifact(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	ok, err := store.HasAll(ctx, testKey, "hero.png", "hero.webp")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, testKey, "hero.png", []byte("png")))
	ok, err = store.HasAll(ctx, testKey, "hero.png", "hero.webp")
	require.NoError(t, err)
	assert.False(t, ok, "partial entry is a miss")

	require.NoError(t, store.Put(ctx, testKey, "hero.webp", []byte("webp")))
	ok, err = store.HasAll(ctx, testKey, "hero.png", "hero.webp")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasAll(ctx, "other", "hero.png")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.HasAll(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok, "an entry with no artifacts is never a hit")
}

func TestCopyTo(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Put(ctx, testKey, "a/b.gif", []byte("GIF89a")))

	dst := filepath.Join(t.TempDir(), "out", "a", "b.gif")
	require.NoError(t, store.CopyTo(ctx, testKey, "a/b.gif", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("GIF89a"), data)

	err = store.CopyTo(ctx, testKey, "missing.gif", dst)
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
}

func TestRejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for _, rel := range []string{"../escape.png", "a/../../escape.png", "/abs.png", ""} {
		assert.Error(t, store.Put(ctx, testKey, rel, []byte("x")), rel)
	}
	for _, key := range []core.CacheKey{"", "..", "a/b"} {
		assert.Error(t, store.Put(ctx, key, "x.png", []byte("x")), string(key))
	}
}

func TestConcurrentPutSameKey(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	payload := []byte("identical bytes for identical keys")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, testKey, "hero.png", payload))
		}()
	}
	wg.Wait()

	data, err := store.Get(ctx, testKey, "hero.png")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	entries, err := os.ReadDir(filepath.Join(store.Root(), string(testKey)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newStore(t)
	assert.ErrorIs(t, store.Put(ctx, testKey, "hero.png", nil), context.Canceled)
	_, err := store.HasAll(ctx, testKey, "hero.png")
	assert.ErrorIs(t, err, context.Canceled)
}
