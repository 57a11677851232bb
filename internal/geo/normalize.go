package geo

import "math"

// MaxLatitude is the latitude at which Web Mercator maps to a square world.
const MaxLatitude = 85.0511287798

// ClampLatitude bounds lat to the Web Mercator range.
func ClampLatitude(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// NormalizeLongitude wraps lon into [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	wrapped := math.Mod(lon+180, 360)
	if wrapped < 0 {
		wrapped += 360
	}
	return wrapped - 180
}

// ClampZoom bounds zoom to [min, max].
func ClampZoom(zoom, min, max float64) float64 {
	if zoom < min {
		return min
	}
	if zoom > max {
		return max
	}
	return zoom
}
