package cache

import (
	"errors"

	"tileview/internal/tile"
)

var (
	ErrInvalidCapacity = errors.New("cache capacity must be positive")
	ErrNoTiers         = errors.New("cache requires at least one tier")
	ErrNilTier         = errors.New("cache tier is nil")
)

// Cache stores opaque tile payloads keyed by tile coordinate.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key tile.Coordinate) ([]byte, bool)
	Put(key tile.Coordinate, value []byte) error
	Clear()
}
