package cache

import (
	"fmt"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tileview/internal/metrics"
	"tileview/internal/tile"
)

// TieredCache chains caches from fastest to slowest. A hit in a slower tier
// is copied into every faster tier before it is returned.
type TieredCache struct {
	tiers  []Cache
	logger *zap.Logger
}

func NewTieredCache(logger *zap.Logger, tiers ...Cache) (*TieredCache, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	for i, t := range tiers {
		if t == nil {
			return nil, fmt.Errorf("%w: position %d", ErrNilTier, i)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TieredCache{
		tiers:  append([]Cache(nil), tiers...),
		logger: logger,
	}, nil
}

func (c *TieredCache) Get(key tile.Coordinate) ([]byte, bool) {
	for i, t := range c.tiers {
		value, ok := t.Get(key)
		if !ok {
			continue
		}

		for j := 0; j < i; j++ {
			if err := c.tiers[j].Put(key, value); err != nil {
				c.logger.Debug("Failed to promote tile",
					zap.Stringer("tile", key),
					zap.Int("tier", j),
					zap.Error(err))
				continue
			}
			metrics.CachePromotions.WithLabelValues(strconv.Itoa(j)).Inc()
		}
		return value, true
	}
	return nil, false
}

// Put writes value to every tier. A failing tier does not stop the others;
// all failures are returned together.
func (c *TieredCache) Put(key tile.Coordinate, value []byte) error {
	var err error
	for i, t := range c.tiers {
		if putErr := t.Put(key, value); putErr != nil {
			err = multierr.Append(err, fmt.Errorf("tier %d: %w", i, putErr))
		}
	}
	return err
}

func (c *TieredCache) Clear() {
	for _, t := range c.tiers {
		t.Clear()
	}
}
