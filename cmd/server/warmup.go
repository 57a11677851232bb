package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tileview/internal/config"
	"tileview/internal/manager"
	"tileview/internal/tile"
	"tileview/internal/viewport"
)

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Fill the cache with the tiles around the configured center and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		warmupTiles(ctx, a.manager, a.cfg.Warmup, a.cfg.Map, a.log)
		return nil
	},
}

type warmupStats struct {
	loaded  atomic.Int64
	skipped atomic.Int64
}

// warmupTiles requests every tile covering the warmup viewport for zoom
// levels 0..cfg.Levels. Each tile waits at most cfg.Timeout for delivery.
func warmupTiles(ctx context.Context, m *manager.TileManager, cfg config.Warmup, mapCfg config.Map, log *zap.Logger) *warmupStats {
	stats := &warmupStats{}

	levels := min(cfg.Levels, int(mapCfg.MaxZoom))
	log.Info("Starting tile warmup",
		zap.Int("levels", levels),
		zap.Float64("lat", cfg.Latitude),
		zap.Float64("lon", cfg.Longitude))

	// Worker pool size configured via env (defaults to 1)
	workerLimit := cfg.Workers
	if workerLimit <= 0 {
		workerLimit = 1
	}

	workerChan := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup

	state := viewport.New(
		viewport.WithZoomRange(mapCfg.MinZoom, mapCfg.MaxZoom),
		viewport.WithTileSize(mapCfg.TileSize),
	)
	state.SetCenter(cfg.Latitude, cfg.Longitude)
	state.SetViewportSize(int(cfg.Width), int(cfg.Height))

outer:
	for z := 0; z <= levels; z++ {
		state.SetZoom(float64(z))

		seen := make(map[tile.Coordinate]struct{})
		for _, coord := range state.VisibleTiles() {
			if _, dup := seen[coord]; dup {
				continue
			}
			seen[coord] = struct{}{}

			select {
			case workerChan <- struct{}{}: // Acquire worker slot
			case <-ctx.Done():
				break outer
			}

			wg.Add(1)
			go func(coord tile.Coordinate) {
				defer wg.Done()
				defer func() { <-workerChan }() // Release worker slot

				if warmupTile(ctx, m, coord, cfg.Timeout) {
					stats.loaded.Add(1)
					return
				}
				stats.skipped.Add(1)
				log.Debug("Warmup tile not loaded", zap.Int("z", coord.Zoom), zap.Int("x", coord.X), zap.Int("y", coord.Y))
			}(coord)
		}
	}

	wg.Wait()
	log.Info("Tile warmup completed",
		zap.Int64("loaded", stats.loaded.Load()),
		zap.Int64("skipped", stats.skipped.Load()))
	return stats
}

// warmupTile reports whether coord was delivered within timeout. A fetch that
// fails is never delivered, so it is detected once the tile is neither cached
// nor pending.
func warmupTile(ctx context.Context, m *manager.TileManager, coord tile.Coordinate, timeout time.Duration) bool {
	done := make(chan struct{}, 1)
	m.RefreshTiles([]tile.Coordinate{coord}, func(tile.Coordinate, []byte) {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-done:
			return true
		case <-poll.C:
			if !m.Pending(coord) {
				_, ok := m.CachedTile(coord)
				return ok
			}
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
