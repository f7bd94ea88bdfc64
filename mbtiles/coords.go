package mbtiles

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Origin is the row numbering convention of a tile index.
type Origin int

const (
	// NorthOrigin numbers rows from the top of the map (XYZ, slippy map).
	NorthOrigin Origin = iota
	// SouthOrigin numbers rows from the bottom of the map (TMS). The tiles
	// table stores rows this way.
	SouthOrigin
)

func (o Origin) String() string {
	if o == SouthOrigin {
		return "tms"
	}
	return "xyz"
}

// Epsilon is the inward nudge in degrees applied to query boundaries, about
// one pixel at the deepest zoom we produce.
const Epsilon = 1e-5

// MaxLatitude is the northern edge of the web mercator grid.
const MaxLatitude = 85.0511287798066

// FlipRow converts a row between north-origin and south-origin numbering.
func FlipRow(z uint8, row uint32) uint32 {
	return (uint32(1) << z) - 1 - row
}

// TileBBox returns the geographic box of a tile.
func TileBBox(z uint8, x uint32, y uint32, origin Origin) BBox {
	if origin == SouthOrigin {
		y = FlipRow(z, y)
	}
	return BBoxFromBound(maptile.New(x, y, maptile.Zoom(z)).Bound())
}

// LngLatToTile returns the north-origin column and row of the tile holding
// the point. Points outside the grid are clamped onto its edge.
func LngLatToTile(z uint8, lng float64, lat float64) (uint32, uint32) {
	lng = min(max(lng, -180), 180)
	lat = min(max(lat, -MaxLatitude), MaxLatitude)
	t := maptile.At(orb.Point{lng, lat}, maptile.Zoom(z))
	last := (uint32(1) << z) - 1
	return min(t.X, last), min(t.Y, last)
}
