package viewport

import (
	"math"

	"tileview/internal/geo"
	"tileview/internal/tile"
)

const (
	DefaultMinZoom = 0
	DefaultMaxZoom = 19
)

// MapState holds the center, zoom and pixel size of a map view and derives
// the set of tiles it covers. It is not safe for concurrent mutation.
type MapState struct {
	centerLat  float64
	centerLon  float64
	zoom       float64
	minZoom    float64
	maxZoom    float64
	width      int
	height     int
	projection geo.Projection
}

type Option func(*MapState)

// WithZoomRange limits the continuous zoom to [min, max].
func WithZoomRange(min, max float64) Option {
	return func(s *MapState) {
		if min < 0 {
			min = 0
		}
		if max < min {
			max = min
		}
		s.minZoom = min
		s.maxZoom = max
	}
}

// WithTileSize overrides the default 256 pixel tile edge.
func WithTileSize(size int) Option {
	return func(s *MapState) {
		if size > 0 {
			s.projection = geo.Projection{TileSize: size}
		}
	}
}

func New(opts ...Option) *MapState {
	s := &MapState{
		minZoom:    DefaultMinZoom,
		maxZoom:    DefaultMaxZoom,
		projection: geo.WebMercator,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.zoom = s.minZoom
	return s
}

// SetCenter moves the view. Non-finite coordinates are ignored.
func (s *MapState) SetCenter(lat, lon float64) {
	if !finite(lat) || !finite(lon) {
		return
	}
	s.centerLat = geo.ClampLatitude(lat)
	s.centerLon = geo.NormalizeLongitude(lon)
}

func (s *MapState) Center() geo.GeoPoint {
	return geo.GeoPoint{Latitude: s.centerLat, Longitude: s.centerLon}
}

// SetZoom sets the continuous zoom, clamped to the configured range.
// Non-finite values are ignored.
func (s *MapState) SetZoom(zoom float64) {
	if !finite(zoom) {
		return
	}
	s.zoom = geo.ClampZoom(zoom, s.minZoom, s.maxZoom)
}

func (s *MapState) Zoom() float64 {
	return s.zoom
}

// ZoomBy changes the zoom by delta, keeping the center fixed.
func (s *MapState) ZoomBy(delta float64) {
	s.SetZoom(s.zoom + delta)
}

// SetViewportSize sets the view size in pixels. Negative sizes become 0.
func (s *MapState) SetViewportSize(width, height int) {
	s.width = max(0, width)
	s.height = max(0, height)
}

func (s *MapState) ViewportSize() (width, height int) {
	return s.width, s.height
}

func (s *MapState) TileSize() int {
	return s.projection.TileSize
}

// DiscreteZoomLevel is the integer zoom whose tiles are drawn.
func (s *MapState) DiscreteZoomLevel() int {
	return max(0, int(math.Floor(s.zoom)))
}

// Pan moves the center by a pixel delta at the discrete zoom level. Positive
// dx moves east, positive dy moves south.
func (s *MapState) Pan(dx, dy float64) {
	zoom := s.DiscreteZoomLevel()
	center := s.projection.LatLonToPixel(s.centerLat, s.centerLon, zoom)
	moved := s.projection.PixelToLatLon(center.X+dx, center.Y+dy, zoom)
	s.SetCenter(moved.Latitude, moved.Longitude)
}

// VisibleTiles returns the tiles intersecting the viewport in row-major order.
// X indices wrap around the antimeridian, so a viewport wider than the world
// lists the same column more than once. Y indices are clamped to the grid.
func (s *MapState) VisibleTiles() []tile.Coordinate {
	if s.width <= 0 || s.height <= 0 {
		return []tile.Coordinate{}
	}

	zoom := s.DiscreteZoomLevel()
	tileSize := float64(s.projection.TileSize)
	center := s.projection.LatLonToPixel(s.centerLat, s.centerLon, zoom)

	left := center.X - float64(s.width)/2
	right := center.X + float64(s.width)/2
	top := center.Y - float64(s.height)/2
	bottom := center.Y + float64(s.height)/2

	minX := int(math.Floor(left / tileSize))
	maxX := int(math.Ceil(right/tileSize)) - 1
	minY := int(math.Floor(top / tileSize))
	maxY := int(math.Ceil(bottom/tileSize)) - 1

	n := tile.Span(zoom)
	minY = max(minY, 0)
	maxY = min(maxY, n-1)

	if minX > maxX || minY > maxY {
		return []tile.Coordinate{}
	}

	tiles := make([]tile.Coordinate, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, tile.New(zoom, wrap(x, n), y))
		}
	}
	return tiles
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func wrap(x, n int) int {
	return ((x % n) + n) % n
}
