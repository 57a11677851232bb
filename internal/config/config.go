package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Log       Log       `envPrefix:"LOG_"`
		Map       Map       `envPrefix:"MAP_"`
		Cache     Cache     `envPrefix:"CACHE_"`
		Retriever Retriever `envPrefix:"RETRIEVER_"`
		Warmup    Warmup    `envPrefix:"WARMUP_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
	}

	HTTP struct {
		Port            int           `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
		AllowedOrigin   string        `env:"ALLOWED_ORIGIN"`
		ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}

	Log struct {
		Level    string `env:"LEVEL" envDefault:"info"`
		Encoding string `env:"ENCODING" envDefault:"json" validate:"oneof=json console"`
	}

	Map struct {
		MinZoom  float64 `env:"MIN_ZOOM" envDefault:"0" validate:"min=0,ltefield=MaxZoom"`
		MaxZoom  float64 `env:"MAX_ZOOM" envDefault:"19" validate:"max=30"`
		TileSize int     `env:"TILE_SIZE" envDefault:"256" validate:"min=1"`
	}

	Cache struct {
		Tiers          []string      `env:"TIERS" envDefault:"memory,disk" validate:"min=1,dive,oneof=memory disk redis sqlite"`
		MemoryCapacity int           `env:"MEMORY_CAPACITY" envDefault:"2000" validate:"min=1"`
		DiskDir        string        `env:"DISK_DIR" envDefault:"/data/tiles"`
		DiskMaxFiles   int           `env:"DISK_MAX_FILES" envDefault:"50000" validate:"min=1"`
		RedisAddr      string        `env:"REDIS_ADDR"`
		RedisPassword  string        `env:"REDIS_PASSWORD"`
		RedisDB        int           `env:"REDIS_DB" envDefault:"0" validate:"min=0"`
		RedisTTL       time.Duration `env:"REDIS_TTL" envDefault:"24h"`
		SQLitePath     string        `env:"SQLITE_PATH" envDefault:"/data/tiles.db"`
		SQLiteMaxTiles int           `env:"SQLITE_MAX_TILES" envDefault:"100000" validate:"min=1"`
	}

	Retriever struct {
		URLTemplate    string        `env:"URL_TEMPLATE" envDefault:"https://tile.openstreetmap.org/{z}/{x}/{y}.png" validate:"required"`
		UserAgent      string        `env:"USER_AGENT" envDefault:"tileview/1.0"`
		Referer        string        `env:"REFERER"`
		Timeout        time.Duration `env:"TIMEOUT" envDefault:"10s"`
		MaxConcurrent  int           `env:"MAX_CONCURRENT" envDefault:"6" validate:"min=1"`
		RateLimit      float64       `env:"RATE_LIMIT" envDefault:"0" validate:"min=0"`
		Burst          int           `env:"BURST" envDefault:"1" validate:"min=1"`
		ValidateImages bool          `env:"VALIDATE_IMAGES" envDefault:"false"`
		VipsMaxCacheMB int           `env:"VIPS_MAX_CACHE_MB" envDefault:"64"`
		VipsWorkers    int           `env:"VIPS_CONCURRENCY" envDefault:"1"`
	}

	Warmup struct {
		Levels    int           `env:"LEVELS" envDefault:"2" validate:"min=0"`
		Workers   int           `env:"WORKERS" envDefault:"1" validate:"min=1"`
		Latitude  float64       `env:"LAT" envDefault:"0"`
		Longitude float64       `env:"LON" envDefault:"0"`
		Width     float64       `env:"WIDTH" envDefault:"1024" validate:"gt=0"`
		Height    float64       `env:"HEIGHT" envDefault:"768" validate:"gt=0"`
		Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s"`
	}

	Telemetry struct {
		Enabled     bool   `env:"ENABLED" envDefault:"false"`
		Endpoint    string `env:"ENDPOINT" envDefault:"localhost:4317"`
		Insecure    bool   `env:"INSECURE" envDefault:"true"`
		ServiceName string `env:"SERVICE_NAME" envDefault:"tileview"`
	}
)

// New loads configuration from the environment. Variables from envFile are
// applied first without overriding ones already set; an empty envFile means
// an optional ".env" in the working directory.
func New(envFile string) (*Config, error) {
	if err := loadDotenv(envFile); err != nil {
		return nil, err
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotenv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.HasTier("redis") && c.Cache.RedisAddr == "" {
		return errors.New("invalid configuration: CACHE_REDIS_ADDR is required for the redis tier")
	}
	if c.HasTier("disk") && c.Cache.DiskDir == "" {
		return errors.New("invalid configuration: CACHE_DISK_DIR is required for the disk tier")
	}
	if c.HasTier("sqlite") && c.Cache.SQLitePath == "" {
		return errors.New("invalid configuration: CACHE_SQLITE_PATH is required for the sqlite tier")
	}
	return nil
}

func (c *Config) HasTier(name string) bool {
	return slices.Contains(c.Cache.Tiers, name)
}
