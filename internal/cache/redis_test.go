package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client, "test"), mr
}

func TestRedisStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage, mr := newRedisStorage(t)

	c, err := storage.Open(ctx, "sxrx-api-v1")
	require.NoError(t, err)
	cachedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Entry{
		URL:    "https://api.sxrx.test/api/availability/CA",
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"slots":[]}`),
		Meta:   &Meta{CachedAt: cachedAt, MaxAge: 2 * time.Minute},
	}
	require.NoError(t, c.Put(ctx, in.URL, in))

	out, err := c.Match(ctx, in.URL)
	require.NoError(t, err)
	assert.Equal(t, in.Body, out.Body)
	assert.Equal(t, "application/json", out.Header.Get("Content-Type"))
	require.NotNil(t, out.Meta)
	assert.True(t, out.Meta.CachedAt.Equal(cachedAt))
	assert.Equal(t, 2*time.Minute, out.Meta.MaxAge)

	_, err = c.Match(ctx, "https://api.sxrx.test/missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists("test:ns:sxrx-api-v1"))

	removed, err := c.Delete(ctx, in.URL)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRedisStorageNamespaces(t *testing.T) {
	ctx := context.Background()
	storage, mr := newRedisStorage(t)

	for _, name := range []string{"sxrx-static-v1", "sxrx-api-v1"} {
		c, err := storage.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, "k", &Entry{Status: 200}))
	}

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sxrx-api-v1", "sxrx-static-v1"}, names)

	ok, err := storage.Delete(ctx, "sxrx-static-v1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("test:ns:sxrx-static-v1"))

	has, err := storage.Has(ctx, "sxrx-static-v1")
	require.NoError(t, err)
	assert.False(t, has)

	ok, err = storage.Delete(ctx, "sxrx-static-v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouterOverRedisSurvivesOutage(t *testing.T) {
	storage, mr := newRedisStorage(t)
	f := newRouterFixtureWithStorage(t, storage, nil)
	f.upstream.set(cssURL, http.StatusOK, "body{}", nil)

	mr.Close()
	resp := f.get(t, cssURL)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "body{}", string(resp.Body))
}

func TestRedisStorageRegistersNamespaceOnPut(t *testing.T) {
	ctx := context.Background()
	storage, _ := newRedisStorage(t)

	c, err := storage.Open(ctx, "sxrx-static-v1")
	require.NoError(t, err)
	_, err = c.Match(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	has, err := storage.Has(ctx, "sxrx-static-v1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, c.Put(ctx, "k", &Entry{Status: 200}))
	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sxrx-static-v1"}, names)

	_, err = storage.Delete(ctx, "sxrx-static-v1")
	require.NoError(t, err)
	c, err = storage.Open(ctx, "sxrx-static-v1")
	require.NoError(t, err)
	_, err = c.Match(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err = storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
