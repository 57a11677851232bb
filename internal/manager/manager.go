package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/metrics"
	"tileview/internal/retriever"
	"tileview/internal/tile"
)

// TileLoadedFunc receives a tile payload. It is called either synchronously
// from RefreshTiles for cache hits or later from an arbitrary goroutine when a
// fetch completes, so implementations must do their own synchronisation.
type TileLoadedFunc func(coord tile.Coordinate, data []byte)

// TileManager resolves tiles from a cache and fetches misses through a
// retriever, allowing at most one outstanding fetch per coordinate.
type TileManager struct {
	cache      cache.Cache
	retriever  retriever.Retriever
	logger     *zap.Logger
	pending    sync.Map // tile.Coordinate -> *inflight
	generation atomic.Int64
}

// inflight tracks the callbacks waiting on one fetch. Every refresh that asks
// for the coordinate while the fetch is running attaches its callback here.
type inflight struct {
	mu        sync.Mutex
	callbacks []TileLoadedFunc
	settled   bool
}

func (f *inflight) attach(cb TileLoadedFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settled {
		return false
	}
	if cb != nil {
		f.callbacks = append(f.callbacks, cb)
	}
	return true
}

func (f *inflight) settle() []TileLoadedFunc {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.settled = true
	callbacks := f.callbacks
	f.callbacks = nil
	return callbacks
}

func New(c cache.Cache, r retriever.Retriever, logger *zap.Logger) (*TileManager, error) {
	if c == nil {
		return nil, errors.New("tile manager requires a cache")
	}
	if r == nil {
		return nil, errors.New("tile manager requires a retriever")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TileManager{
		cache:     c,
		retriever: r,
		logger:    logger,
	}, nil
}

// RefreshTiles requests every tile in desired and returns the generation id
// of this call. Cached tiles are delivered before RefreshTiles returns; the
// rest are delivered as their fetches complete. A failed fetch is logged and
// never delivered. Duplicate coordinates in desired are requested once.
func (m *TileManager) RefreshTiles(desired []tile.Coordinate, onTileLoaded TileLoadedFunc) int64 {
	generation := m.generation.Add(1)

	seen := make(map[tile.Coordinate]struct{}, len(desired))
	for _, coord := range desired {
		if _, dup := seen[coord]; dup {
			continue
		}
		seen[coord] = struct{}{}

		if data, ok := m.cache.Get(coord); ok {
			metrics.CacheHits.Inc()
			if onTileLoaded != nil {
				onTileLoaded(coord, data)
			}
			continue
		}
		metrics.CacheMisses.Inc()

		m.request(coord, onTileLoaded, generation)
	}

	return generation
}

func (m *TileManager) request(coord tile.Coordinate, onTileLoaded TileLoadedFunc, generation int64) {
	for {
		fresh := &inflight{}
		if onTileLoaded != nil {
			fresh.callbacks = []TileLoadedFunc{onTileLoaded}
		}

		actual, loaded := m.pending.LoadOrStore(coord, fresh)
		if !loaded {
			metrics.FetchesStarted.Inc()
			metrics.InFlightFetches.Inc()

			ch := m.retriever.LoadTile(coord.Zoom, coord.X, coord.Y)
			go m.await(coord, fresh, ch, generation, time.Now())
			return
		}

		existing := actual.(*inflight)
		if existing.attach(onTileLoaded) {
			metrics.FetchesDeduplicated.Inc()
			return
		}

		// The fetch settled between the cache lookup and now. A successful
		// fetch has already cached the tile.
		if data, ok := m.cache.Get(coord); ok {
			if onTileLoaded != nil {
				onTileLoaded(coord, data)
			}
			return
		}

		// The fetch failed and its entry is about to be removed. Remove it
		// here and start over so this refresh still gets a fetch.
		m.pending.CompareAndDelete(coord, existing)
	}
}

func (m *TileManager) await(coord tile.Coordinate, f *inflight, ch <-chan retriever.Result, generation int64, started time.Time) {
	res, ok := <-ch
	if !ok {
		res = retriever.Result{Err: errors.New("retriever closed without a result")}
	}

	metrics.FetchLatency.Observe(time.Since(started).Seconds())
	metrics.InFlightFetches.Dec()

	if res.Err != nil {
		f.settle()
		m.pending.CompareAndDelete(coord, f)

		metrics.FetchFailures.Inc()
		m.logger.Warn("Tile fetch failed",
			zap.Int("zoom", coord.Zoom),
			zap.Int("x", coord.X),
			zap.Int("y", coord.Y),
			zap.Int64("generation", generation),
			zap.Error(res.Err))
		return
	}

	// Cache before settling so a late joiner that finds the fetch settled
	// can read the tile back.
	if err := m.cache.Put(coord, res.Data); err != nil {
		m.logger.Warn("Failed to cache tile",
			zap.Int("zoom", coord.Zoom),
			zap.Int("x", coord.X),
			zap.Int("y", coord.Y),
			zap.Error(err))
	}

	callbacks := f.settle()
	m.pending.CompareAndDelete(coord, f)

	for _, cb := range callbacks {
		cb(coord, res.Data)
	}
}

// CachedTile returns the cached payload for coord without fetching.
func (m *TileManager) CachedTile(coord tile.Coordinate) ([]byte, bool) {
	return m.cache.Get(coord)
}

// Pending reports whether a fetch for coord is in flight.
func (m *TileManager) Pending(coord tile.Coordinate) bool {
	_, ok := m.pending.Load(coord)
	return ok
}

func (m *TileManager) ClearCache() {
	m.cache.Clear()
}

func (m *TileManager) CurrentGeneration() int64 {
	return m.generation.Load()
}
