package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tileview/internal/metrics"
	"tileview/internal/tile"
)

type failingCache struct {
	MemoryCache
	err error
}

func (c *failingCache) Put(tile.Coordinate, []byte) error {
	return c.err
}

func TestTieredCacheValidation(t *testing.T) {
	_, err := NewTieredCache(nil)
	assert.ErrorIs(t, err, ErrNoTiers)

	mem, err := NewMemoryCache(1)
	require.NoError(t, err)

	_, err = NewTieredCache(nil, mem, nil)
	assert.ErrorIs(t, err, ErrNilTier)
}

func TestTieredCachePromotesOnHit(t *testing.T) {
	mem, err := NewMemoryCache(10)
	require.NoError(t, err)
	disk, err := NewDiskCache(filepath.Join(t.TempDir(), "tiles"), 10, nil)
	require.NoError(t, err)

	tiered, err := NewTieredCache(zaptest.NewLogger(t), mem, disk)
	require.NoError(t, err)

	key := tile.New(7, 10, 20)
	require.NoError(t, disk.Put(key, []byte("from-disk")))

	_, ok := mem.Get(key)
	require.False(t, ok, "memory tier must not see the value before the first get")

	promoted := testutil.ToFloat64(metrics.CachePromotions.WithLabelValues("0"))

	got, ok := tiered.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("from-disk"), got)
	assert.Equal(t, promoted+1, testutil.ToFloat64(metrics.CachePromotions.WithLabelValues("0")))

	got, ok = mem.Get(key)
	assert.True(t, ok, "value should be promoted into memory")
	assert.Equal(t, []byte("from-disk"), got)
}

func TestTieredCachePromotesOnlyIntoFasterTiers(t *testing.T) {
	first, _ := NewMemoryCache(10)
	second, _ := NewMemoryCache(10)
	third, _ := NewMemoryCache(10)

	tiered, err := NewTieredCache(nil, first, second, third)
	require.NoError(t, err)

	key := tile.New(2, 1, 1)
	require.NoError(t, second.Put(key, []byte("v")))

	_, ok := tiered.Get(key)
	require.True(t, ok)

	_, ok = first.Get(key)
	assert.True(t, ok)
	_, ok = third.Get(key)
	assert.False(t, ok)
}

func TestTieredCachePutWritesEveryTier(t *testing.T) {
	first, _ := NewMemoryCache(10)
	second, _ := NewMemoryCache(10)
	tiered, err := NewTieredCache(nil, first, second)
	require.NoError(t, err)

	key := tile.New(1, 1, 0)
	require.NoError(t, tiered.Put(key, []byte("v")))

	for _, c := range []*MemoryCache{first, second} {
		got, ok := c.Get(key)
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), got)
	}

	tiered.Clear()
	assert.Equal(t, 0, first.Len())
	assert.Equal(t, 0, second.Len())

	_, ok := tiered.Get(key)
	assert.False(t, ok)
}

func TestTieredCachePutContinuesPastFailingTier(t *testing.T) {
	boom := errors.New("disk full")
	broken := &failingCache{err: boom}
	mem, _ := NewMemoryCache(10)

	tiered, err := NewTieredCache(nil, broken, mem)
	require.NoError(t, err)

	key := tile.New(1, 0, 1)
	err = tiered.Put(key, []byte("v"))
	require.ErrorIs(t, err, boom)

	_, ok := mem.Get(key)
	assert.True(t, ok, "later tiers are still written")
}
