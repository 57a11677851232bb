// Package imagecheck rejects fetched tiles that libvips cannot decode, so a
// corrupt upstream response is treated as a failed fetch instead of being
// cached.
package imagecheck

import (
	"errors"
	"fmt"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"tileview/internal/retriever"
)

var ErrUndecodable = errors.New("tile payload is not a decodable image")

type Config struct {
	Concurrency int
	MaxCacheMB  int
}

// Startup initialises libvips and routes its warnings to log. Call Shutdown
// on exit.
func Startup(cfg Config, log *zap.Logger) {
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelWarning)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheMem:      cfg.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.MaxCacheMB),
		zap.Int("concurrency", cfg.Concurrency),
	)
}

func Shutdown() {
	vips.Shutdown()
}

// Decode checks that data is an image with a non-empty raster.
func Decode(data []byte) error {
	image, err := vips.NewImageFromBuffer(data, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	defer image.Close()

	if image.Width() <= 0 || image.Height() <= 0 {
		return fmt.Errorf("%w: empty raster", ErrUndecodable)
	}
	return nil
}

// Validating wraps a retriever and turns undecodable payloads into errors.
type Validating struct {
	next   retriever.Retriever
	decode func([]byte) error
}

func NewValidating(next retriever.Retriever) *Validating {
	return &Validating{next: next, decode: Decode}
}

func (v *Validating) LoadTile(zoom, x, y int) <-chan retriever.Result {
	out := make(chan retriever.Result, 1)
	in := v.next.LoadTile(zoom, x, y)

	go func() {
		defer close(out)
		res, ok := <-in
		if !ok {
			out <- retriever.Result{Err: errors.New("retriever closed without a result")}
			return
		}
		if res.Err == nil {
			if err := v.decode(res.Data); err != nil {
				res = retriever.Result{Err: fmt.Errorf("tile %d/%d/%d: %w", zoom, x, y, err)}
			}
		}
		out <- res
	}()

	return out
}
