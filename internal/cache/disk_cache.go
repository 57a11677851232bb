package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tileview/internal/metrics"
	"tileview/internal/tile"
)

const tileExt = ".png"

// DiskCache implements a persistent LRU cache on the filesystem.
// Structure: {cacheDir}/{zoom}/{x}/{y}.png
//
// File modification time is the recency signal: reads touch the file and
// eviction removes the oldest files first. Capacity is a soft bound; when an
// eviction pass is already running, writers skip eviction instead of waiting.
// A pass trims down to a low-water mark below maxFiles so the tree is not
// rescanned on every write once the cache is full.
type DiskCache struct {
	cacheDir string
	maxFiles int
	lowWater int
	logger   *zap.Logger

	evictMu sync.Mutex
	// files is an estimate of the number of tiles on disk, reconciled on
	// every eviction pass.
	files atomic.Int64
}

func NewDiskCache(cacheDir string, maxFiles int, logger *zap.Logger) (*DiskCache, error) {
	if strings.TrimSpace(cacheDir) == "" {
		return nil, errors.New("cache directory is required")
	}
	if maxFiles <= 0 {
		return nil, fmt.Errorf("%w: max files %d", ErrInvalidCapacity, maxFiles)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &DiskCache{
		cacheDir: cacheDir,
		maxFiles: maxFiles,
		lowWater: maxFiles - maxFiles/10,
		logger:   logger.With(zap.String("tier", "disk"), zap.String("path", cacheDir)),
	}
	c.files.Store(int64(len(c.scan())))

	return c, nil
}

// Path returns the file that stores key.
func (c *DiskCache) Path(key tile.Coordinate) string {
	return filepath.Join(c.cacheDir, strconv.Itoa(key.Zoom), strconv.Itoa(key.X), strconv.Itoa(key.Y)+tileExt)
}

func (c *DiskCache) Get(key tile.Coordinate) ([]byte, bool) {
	filePath := c.Path(key)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, false
	}

	now := time.Now()
	if err := os.Chtimes(filePath, now, now); err != nil {
		c.logger.Debug("Failed to touch tile", zap.String("file", filePath), zap.Error(err))
	}

	return data, true
}

func (c *DiskCache) Put(key tile.Coordinate, value []byte) error {
	filePath := c.Path(key)
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	// Write atomically
	tmp, err := os.CreateTemp(dir, "."+strconv.Itoa(key.Y)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	_, statErr := os.Stat(filePath)
	existed := statErr == nil

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move tile into place: %w", err)
	}

	if !existed && c.files.Add(1) > int64(c.maxFiles) {
		c.evict()
	}
	return nil
}

func (c *DiskCache) Clear() {
	if err := os.RemoveAll(c.cacheDir); err != nil {
		c.logger.Debug("Failed to clear disk cache", zap.Error(err))
	}
	c.files.Store(0)
}

type tileFile struct {
	path    string
	modTime time.Time
}

// evict removes the least recently used files until at most lowWater remain.
// It does nothing while the tree holds maxFiles or fewer.
func (c *DiskCache) evict() {
	if !c.evictMu.TryLock() {
		return
	}
	defer c.evictMu.Unlock()

	files := c.scan()
	if len(files) <= c.maxFiles {
		c.files.Store(int64(len(files)))
		return
	}
	excess := len(files) - c.lowWater

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	removed := 0
	for _, f := range files[:excess] {
		if err := os.Remove(f.path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger.Debug("Failed to evict tile", zap.String("file", f.path), zap.Error(err))
			}
			continue
		}
		removed++
	}

	metrics.DiskEvictions.Add(float64(removed))
	c.files.Store(int64(len(files) - removed))
	c.logger.Debug("Evicted tiles", zap.Int("removed", removed), zap.Int("max_files", c.maxFiles), zap.Int("low_water", c.lowWater))
}

// scan lists every tile file under the cache directory. Entries that vanish
// mid-walk are skipped.
func (c *DiskCache) scan() []tileFile {
	var files []tileFile

	err := filepath.WalkDir(c.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != tileExt {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, tileFile{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		c.logger.Debug("Failed to scan disk cache", zap.Error(err))
	}

	return files
}
