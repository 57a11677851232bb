package geo

import "math"

// DefaultTileSize is the edge length of a slippy-map tile in pixels.
const DefaultTileSize = 256

// GeoPoint is a position in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// PixelCoordinate is a position in the global pixel space of one zoom level,
// a square of TileSize * 2^zoom pixels with the origin at the north-west corner.
type PixelCoordinate struct {
	X float64
	Y float64
}

// Projection converts between geographic coordinates and global pixels using
// spherical Web Mercator.
type Projection struct {
	TileSize int
}

// WebMercator is the projection used by OpenStreetMap-style tile servers.
var WebMercator = Projection{TileSize: DefaultTileSize}

// WorldSize returns the edge length of the world in pixels at zoom.
func (p Projection) WorldSize(zoom int) float64 {
	return float64(p.TileSize) * math.Exp2(float64(zoom))
}

// LatLonToPixel projects a point. Latitude is clamped and longitude wrapped
// before projecting.
func (p Projection) LatLonToPixel(lat, lon float64, zoom int) PixelCoordinate {
	lat = ClampLatitude(lat)
	lon = NormalizeLongitude(lon)

	scale := p.WorldSize(zoom)
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180

	return PixelCoordinate{
		X: (lonRad + math.Pi) / (2 * math.Pi) * scale,
		Y: (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * scale,
	}
}

// PixelToLatLon is the inverse of LatLonToPixel.
func (p Projection) PixelToLatLon(x, y float64, zoom int) GeoPoint {
	scale := p.WorldSize(zoom)
	lon := x/scale*360 - 180
	latRad := math.Atan(math.Sinh(math.Pi - 2*math.Pi*y/scale))

	return GeoPoint{
		Latitude:  latRad * 180 / math.Pi,
		Longitude: lon,
	}
}
