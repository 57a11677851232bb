package cache

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type tierSpec struct {
	name  string
	build func(log *zap.Logger) (Cache, error)
}

// Builder assembles a cache from an ordered list of tier declarations,
// fastest first.
type Builder struct {
	logger *zap.Logger
	tiers  []tierSpec
}

func NewBuilder(log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{logger: log}
}

func (b *Builder) Memory(capacity int) *Builder {
	b.tiers = append(b.tiers, tierSpec{
		name: "memory",
		build: func(log *zap.Logger) (Cache, error) {
			log.Info("Using memory cache", zap.Int("max_tiles", capacity))
			return NewMemoryCache(capacity)
		},
	})
	return b
}

func (b *Builder) Disk(path string, maxFiles int) *Builder {
	b.tiers = append(b.tiers, tierSpec{
		name: "disk",
		build: func(log *zap.Logger) (Cache, error) {
			log.Info("Using disk cache", zap.String("cache_dir", path), zap.Int("max_files", maxFiles))
			return NewDiskCache(path, maxFiles, log)
		},
	})
	return b
}

func (b *Builder) Redis(cfg RedisConfig) *Builder {
	b.tiers = append(b.tiers, tierSpec{
		name: "redis",
		build: func(log *zap.Logger) (Cache, error) {
			log.Info("Using redis cache", zap.String("addr", cfg.Addr), zap.Duration("ttl", cfg.TTL))
			return NewRedisCache(cfg, log)
		},
	})
	return b
}

func (b *Builder) SQLite(path string, maxTiles int) *Builder {
	b.tiers = append(b.tiers, tierSpec{
		name: "sqlite",
		build: func(log *zap.Logger) (Cache, error) {
			log.Info("Using sqlite cache", zap.String("path", path), zap.Int("max_tiles", maxTiles))
			return NewSQLiteCache(path, maxTiles, log)
		},
	})
	return b
}

// Build constructs every declared tier. A single tier is returned as is;
// several are wrapped in a TieredCache. Tiers built before a failure are
// closed when they hold external resources.
func (b *Builder) Build() (Cache, error) {
	if len(b.tiers) == 0 {
		return nil, ErrNoTiers
	}

	built := make([]Cache, 0, len(b.tiers))
	for i, spec := range b.tiers {
		c, err := spec.build(b.logger)
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("failed to build %s tier %d: %w", spec.name, i, err),
				closeAll(built),
			)
		}
		built = append(built, c)
	}

	if len(built) == 1 {
		return built[0], nil
	}
	return NewTieredCache(b.logger, built...)
}

type closer interface {
	Close() error
}

func closeAll(tiers []Cache) error {
	var err error
	for _, t := range tiers {
		if c, ok := t.(closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

// Close releases tiers that hold connections or file handles.
func Close(c Cache) error {
	if t, ok := c.(*TieredCache); ok {
		return closeAll(t.tiers)
	}
	return closeAll([]Cache{c})
}
