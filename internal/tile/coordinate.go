package tile

import "fmt"

// Coordinate addresses one tile of the 2^Zoom x 2^Zoom grid at a zoom level.
// It is a comparable value type and is used directly as a map key.
type Coordinate struct {
	Zoom int
	X    int
	Y    int
}

func New(zoom, x, y int) Coordinate {
	return Coordinate{Zoom: zoom, X: x, Y: y}
}

// Span returns the number of tiles per axis at the given zoom.
func Span(zoom int) int {
	if zoom < 0 {
		return 0
	}
	return 1 << uint(zoom)
}

// Valid reports whether the coordinate lies inside the grid of its zoom level.
func (c Coordinate) Valid() bool {
	n := Span(c.Zoom)
	return c.Zoom >= 0 && c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Zoom, c.X, c.Y)
}
