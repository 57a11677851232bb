package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tileview/internal/cache"
	"tileview/internal/config"
	"tileview/internal/imagecheck"
	"tileview/internal/logger"
	"tileview/internal/manager"
	"tileview/internal/retriever"
	"tileview/internal/telemetry"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	cache   cache.Cache
	manager *manager.TileManager
	closers []func()
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	envFile, err := cmd.Flags().GetString(envFileFlag)
	if err != nil {
		return nil, err
	}

	cfg, err := config.New(envFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			OTLPEndpoint: cfg.Telemetry.Endpoint,
			Insecure:     cfg.Telemetry.Insecure,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		a.onClose(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("Failed to shutdown telemetry", zap.Error(err))
			}
		})
	}

	tileCache, err := buildCache(cfg.Cache, log)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = tileCache
	a.onClose(func() {
		if err := cache.Close(tileCache); err != nil {
			log.Error("Failed to close cache", zap.Error(err))
		}
	})

	limiter, err := retriever.NewFetchLimiter(cfg.Retriever.MaxConcurrent)
	if err != nil {
		return err
	}

	var source retriever.Retriever
	source, err = retriever.NewHTTPRetriever(retriever.HTTPConfig{
		URLTemplate: cfg.Retriever.URLTemplate,
		UserAgent:   cfg.Retriever.UserAgent,
		Referer:     cfg.Retriever.Referer,
		Timeout:     cfg.Retriever.Timeout,
		RateLimit:   cfg.Retriever.RateLimit,
		Burst:       cfg.Retriever.Burst,
	}, limiter, retriever.WithBaseContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	if cfg.Retriever.ValidateImages {
		imagecheck.Startup(imagecheck.Config{
			Concurrency: cfg.Retriever.VipsWorkers,
			MaxCacheMB:  cfg.Retriever.VipsMaxCacheMB,
		}, log)
		a.onClose(imagecheck.Shutdown)
		source = imagecheck.NewValidating(source)
	}

	a.manager, err = manager.New(tileCache, source, log)
	if err != nil {
		return err
	}

	log.Info("Tile manager ready",
		zap.Strings("tiers", cfg.Cache.Tiers),
		zap.String("upstream", cfg.Retriever.URLTemplate),
		zap.Int("max_concurrent_fetches", limiter.Size()),
	)
	return nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.log.Sync()
}

func buildCache(cfg config.Cache, log *zap.Logger) (cache.Cache, error) {
	b := cache.NewBuilder(log)
	for _, tier := range cfg.Tiers {
		switch tier {
		case "memory":
			b.Memory(cfg.MemoryCapacity)
		case "disk":
			b.Disk(cfg.DiskDir, cfg.DiskMaxFiles)
		case "redis":
			b.Redis(cache.RedisConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
				TTL:      cfg.RedisTTL,
			})
		case "sqlite":
			b.SQLite(cfg.SQLitePath, cfg.SQLiteMaxTiles)
		default:
			return nil, fmt.Errorf("unknown cache tier %q", tier)
		}
	}
	return b.Build()
}
