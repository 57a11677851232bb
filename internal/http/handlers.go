package http

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tileview/internal/config"
	"tileview/internal/manager"
	"tileview/internal/tile"
	"tileview/internal/viewport"
)

const maxViewportPixels = 8192

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	manager *manager.TileManager
}

func New(config *config.Config, logger *zap.Logger, manager *manager.TileManager) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		config:  config,
		logger:  logger,
		manager: manager,
	}
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.HTTP.AllowedOrigin != "" {
			allowedOrigin = h.config.HTTP.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type viewportTile struct {
	Zoom   int    `json:"z"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

type viewportResponse struct {
	Generation int64          `json:"generation"`
	Zoom       int            `json:"zoom"`
	Center     [2]float64     `json:"center"`
	Tiles      []viewportTile `json:"tiles"`
}

// HandleViewport lists the tiles covering a view and starts fetching the ones
// that are not cached. Tiles already in the cache are flagged so the client
// can request them immediately; the rest become available as fetches finish.
func (h *Handlers) HandleViewport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := parseFloat(q.Get("lat"), 0)
	if err != nil {
		http.Error(w, "Invalid lat", http.StatusBadRequest)
		return
	}
	lon, err := parseFloat(q.Get("lon"), 0)
	if err != nil {
		http.Error(w, "Invalid lon", http.StatusBadRequest)
		return
	}
	zoom, err := parseFloat(q.Get("zoom"), h.config.Map.MinZoom)
	if err != nil {
		http.Error(w, "Invalid zoom", http.StatusBadRequest)
		return
	}
	width, err := strconv.Atoi(q.Get("width"))
	if err != nil || width < 0 || width > maxViewportPixels {
		http.Error(w, "Invalid width", http.StatusBadRequest)
		return
	}
	height, err := strconv.Atoi(q.Get("height"))
	if err != nil || height < 0 || height > maxViewportPixels {
		http.Error(w, "Invalid height", http.StatusBadRequest)
		return
	}

	state := viewport.New(
		viewport.WithZoomRange(h.config.Map.MinZoom, h.config.Map.MaxZoom),
		viewport.WithTileSize(h.config.Map.TileSize),
	)
	state.SetCenter(lat, lon)
	state.SetZoom(zoom)
	state.SetViewportSize(width, height)

	tiles := state.VisibleTiles()

	// Hits are delivered before RefreshTiles returns; anything arriving
	// afterwards comes from a fetch and is ignored here.
	var (
		mu       sync.Mutex
		returned bool
		cached   = make(map[tile.Coordinate]bool)
	)
	generation := h.manager.RefreshTiles(tiles, func(coord tile.Coordinate, _ []byte) {
		mu.Lock()
		defer mu.Unlock()
		if !returned {
			cached[coord] = true
		}
	})
	mu.Lock()
	returned = true
	mu.Unlock()

	center := state.Center()
	resp := viewportResponse{
		Generation: generation,
		Zoom:       state.DiscreteZoomLevel(),
		Center:     [2]float64{center.Latitude, center.Longitude},
		Tiles:      make([]viewportTile, 0, len(tiles)),
	}
	for _, t := range tiles {
		resp.Tiles = append(resp.Tiles, viewportTile{
			Zoom:   t.Zoom,
			X:      t.X,
			Y:      t.Y,
			URL:    "/api/tiles/" + t.String() + ".png",
			Cached: cached[t],
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleTile serves a tile from the cache. It never triggers a fetch.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	z, err := strconv.Atoi(r.PathValue("z"))
	if err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(r.PathValue("x"))
	if err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}

	file := r.PathValue("file")
	if !strings.HasSuffix(file, ".png") {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(strings.TrimSuffix(file, ".png"))
	if err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	coord := tile.New(z, x, y)
	if !coord.Valid() {
		http.Error(w, "Coordinates out of range", http.StatusBadRequest)
		return
	}

	data, ok := h.manager.CachedTile(coord)
	if !ok {
		if h.manager.Pending(coord) {
			w.Header().Set("Retry-After", "1")
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

func (h *Handlers) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	h.manager.ClearCache()
	h.logger.Info("Tile cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

var errNotFinite = errors.New("value must be finite")

func parseFloat(s string, fallback float64) (float64, error) {
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
