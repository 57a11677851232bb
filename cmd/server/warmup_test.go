package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tileview/internal/cache"
	"tileview/internal/config"
	"tileview/internal/manager"
	"tileview/internal/retriever"
	"tileview/internal/tile"
)

var testMap = config.Map{MinZoom: 0, MaxZoom: 19, TileSize: 256}

func newTestManager(t *testing.T, r retriever.Retriever) (*manager.TileManager, cache.Cache) {
	t.Helper()
	c, err := cache.NewMemoryCache(100)
	require.NoError(t, err)
	m, err := manager.New(c, r, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m, c
}

func TestWarmupTilesLoadsEveryLevel(t *testing.T) {
	m, c := newTestManager(t, retriever.Func(func(zoom, x, y int) ([]byte, error) {
		return []byte("png"), nil
	}))

	stats := warmupTiles(context.Background(), m, config.Warmup{
		Levels:  1,
		Workers: 2,
		Width:   256,
		Height:  256,
		Timeout: time.Second,
	}, testMap, zaptest.NewLogger(t))

	// One tile at zoom 0, a 2x2 block at zoom 1.
	assert.EqualValues(t, 5, stats.loaded.Load())
	assert.EqualValues(t, 0, stats.skipped.Load())

	for _, coord := range []tile.Coordinate{
		tile.New(0, 0, 0),
		tile.New(1, 0, 0), tile.New(1, 1, 0),
		tile.New(1, 0, 1), tile.New(1, 1, 1),
	} {
		_, ok := c.Get(coord)
		assert.True(t, ok, coord.String())
	}
}

func TestWarmupTilesSkipsFailures(t *testing.T) {
	m, _ := newTestManager(t, retriever.Func(func(zoom, x, y int) ([]byte, error) {
		return nil, errors.New("upstream down")
	}))

	start := time.Now()
	stats := warmupTiles(context.Background(), m, config.Warmup{
		Levels:  1,
		Workers: 4,
		Width:   256,
		Height:  256,
		Timeout: 10 * time.Second,
	}, testMap, zaptest.NewLogger(t))

	assert.EqualValues(t, 0, stats.loaded.Load())
	assert.EqualValues(t, 5, stats.skipped.Load())
	assert.Less(t, time.Since(start), 5*time.Second, "failures are detected without waiting for the timeout")
}

func TestWarmupTilesStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, retriever.Func(func(zoom, x, y int) ([]byte, error) {
		time.Sleep(time.Second)
		return []byte("png"), nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := warmupTiles(ctx, m, config.Warmup{
		Levels:  3,
		Workers: 1,
		Width:   256,
		Height:  256,
		Timeout: time.Minute,
	}, testMap, zaptest.NewLogger(t))

	assert.Zero(t, stats.loaded.Load())
}

func TestBuildCache(t *testing.T) {
	dir := t.TempDir()

	c, err := buildCache(config.Cache{
		Tiers:          []string{"memory", "disk"},
		MemoryCapacity: 10,
		DiskDir:        dir,
		DiskMaxFiles:   10,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &cache.TieredCache{}, c)

	c, err = buildCache(config.Cache{Tiers: []string{"memory"}, MemoryCapacity: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryCache{}, c)

	_, err = buildCache(config.Cache{}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, cache.ErrNoTiers)

	_, err = buildCache(config.Cache{Tiers: []string{"tape"}}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
