package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinateValid(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		want  bool
	}{
		{"origin z0", New(0, 0, 0), true},
		{"x out of range z0", New(0, 1, 0), false},
		{"last tile z3", New(3, 7, 7), true},
		{"y out of range z3", New(3, 7, 8), false},
		{"negative x", New(2, -1, 0), false},
		{"negative zoom", New(-1, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.coord.Valid())
		})
	}
}

func TestCoordinateAsMapKey(t *testing.T) {
	seen := map[Coordinate]int{}
	seen[New(12, 2048, 1536)]++
	seen[Coordinate{Zoom: 12, X: 2048, Y: 1536}]++

	assert.Len(t, seen, 1)
	assert.Equal(t, 2, seen[New(12, 2048, 1536)])
	assert.Equal(t, "12/2048/1536", New(12, 2048, 1536).String())
}

func TestSpan(t *testing.T) {
	assert.Equal(t, 1, Span(0))
	assert.Equal(t, 1024, Span(10))
	assert.Equal(t, 0, Span(-3))
}
