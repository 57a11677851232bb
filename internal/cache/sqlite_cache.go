package cache

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"tileview/internal/tile"
)

//go:embed migrations/*.sql
var migrations embed.FS

var gooseMu sync.Mutex

// SQLiteCache keeps tiles in a single SQLite database, evicting the least
// recently accessed rows once maxTiles is exceeded.
type SQLiteCache struct {
	db       *sql.DB
	maxTiles int
	logger   *zap.Logger
}

func NewSQLiteCache(path string, maxTiles int, logger *zap.Logger) (*SQLiteCache, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if maxTiles <= 0 {
		return nil, fmt.Errorf("%w: max tiles %d", ErrInvalidCapacity, maxTiles)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite cache: %w", err)
	}

	logger.Info("sqlite cache initialized", zap.String("path", path))

	return &SQLiteCache{
		db:       db,
		maxTiles: maxTiles,
		logger:   logger.With(zap.String("tier", "sqlite")),
	}, nil
}

func runMigrations(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (c *SQLiteCache) Get(key tile.Coordinate) ([]byte, bool) {
	var data []byte
	err := c.db.QueryRow(
		`SELECT data FROM tiles WHERE zoom = ? AND x = ? AND y = ?`,
		key.Zoom, key.X, key.Y,
	).Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Debug("sqlite cache get failed", zap.Stringer("tile", key), zap.Error(err))
		}
		return nil, false
	}

	if _, err := c.db.Exec(
		`UPDATE tiles SET accessed_at = ? WHERE zoom = ? AND x = ? AND y = ?`,
		time.Now().UnixNano(), key.Zoom, key.X, key.Y,
	); err != nil {
		c.logger.Debug("sqlite cache touch failed", zap.Stringer("tile", key), zap.Error(err))
	}

	return data, true
}

func (c *SQLiteCache) Put(key tile.Coordinate, value []byte) error {
	_, err := c.db.Exec(
		`INSERT INTO tiles (zoom, x, y, data, accessed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(zoom, x, y) DO UPDATE SET data = excluded.data, accessed_at = excluded.accessed_at`,
		key.Zoom, key.X, key.Y, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite cache set failed: %w", err)
	}

	c.evict()
	return nil
}

func (c *SQLiteCache) evict() {
	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM tiles`).Scan(&count); err != nil {
		c.logger.Debug("sqlite cache count failed", zap.Error(err))
		return
	}
	if count <= c.maxTiles {
		return
	}

	if _, err := c.db.Exec(
		`DELETE FROM tiles WHERE rowid IN (
			SELECT rowid FROM tiles ORDER BY accessed_at ASC LIMIT ?
		)`,
		count-c.maxTiles,
	); err != nil {
		c.logger.Debug("sqlite cache eviction failed", zap.Error(err))
	}
}

func (c *SQLiteCache) Clear() {
	if _, err := c.db.Exec(`DELETE FROM tiles`); err != nil {
		c.logger.Debug("sqlite cache clear failed", zap.Error(err))
	}
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
