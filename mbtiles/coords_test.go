package mbtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlipRowInvolution(t *testing.T) {
	for z := uint8(0); z <= 20; z++ {
		last := uint32(1)<<z - 1
		for _, row := range []uint32{0, last / 2, last} {
			assert.Equal(t, row, FlipRow(z, FlipRow(z, row)), "zoom %d row %d", z, row)
		}
		assert.Equal(t, last, FlipRow(z, 0))
	}
}

func TestTileBBox(t *testing.T) {
	world := TileBBox(0, 0, 0, NorthOrigin)
	assert.InDelta(t, -180, world.West, 1e-9)
	assert.InDelta(t, 180, world.East, 1e-9)
	assert.InDelta(t, -MaxLatitude, world.South, 1e-9)
	assert.InDelta(t, MaxLatitude, world.North, 1e-9)

	// south-origin row 1 at zoom 1 is the northern half
	nw := TileBBox(1, 0, 1, SouthOrigin)
	assert.InDelta(t, -180, nw.West, 1e-9)
	assert.InDelta(t, 0, nw.East, 1e-9)
	assert.InDelta(t, 0, nw.South, 1e-9)
	assert.InDelta(t, MaxLatitude, nw.North, 1e-9)
	assert.Equal(t, nw, TileBBox(1, 0, 0, NorthOrigin))
}

func TestLngLatToTile(t *testing.T) {
	x, y := LngLatToTile(1, -90, 45)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)

	x, y = LngLatToTile(1, 90, -45)
	assert.Equal(t, uint32(1), x)
	assert.Equal(t, uint32(1), y)

	// outside the grid
	x, y = LngLatToTile(2, 200, 90)
	assert.Equal(t, uint32(3), x)
	assert.Equal(t, uint32(0), y)
	x, y = LngLatToTile(2, -200, -90)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(3), y)
}

func TestOriginString(t *testing.T) {
	assert.Equal(t, "xyz", NorthOrigin.String())
	assert.Equal(t, "tms", SouthOrigin.String())
}
