package mbtiles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// BBox is a longitude/latitude rectangle in degrees. Boxes spanning the
// antimeridian are not supported.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// ParseBBox reads a box in the "west,south,east,north" form used by the
// bounds metadata key and the command line.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox %q must have 4 comma-separated values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	return BBox{West: v[0], South: v[1], East: v[2], North: v[3]}, nil
}

// BBoxFromBound converts an orb bound.
func BBoxFromBound(b orb.Bound) BBox {
	return BBox{West: b.Min.Lon(), South: b.Min.Lat(), East: b.Max.Lon(), North: b.Max.Lat()}
}

// Bound converts the box to an orb bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

// Valid reports whether the box has a positive extent on both axes.
func (b BBox) Valid() bool {
	return b.West < b.East && b.South < b.North
}

func (b BBox) Center() (float64, float64) {
	return (b.West + b.East) / 2, (b.South + b.North) / 2
}

// Shrink moves every edge inward by eps degrees.
func (b BBox) Shrink(eps float64) BBox {
	return BBox{West: b.West + eps, South: b.South + eps, East: b.East - eps, North: b.North - eps}
}

// Contains reports whether o lies entirely inside b.
func (b BBox) Contains(o BBox) bool {
	return b.West <= o.West && b.South <= o.South && b.East >= o.East && b.North >= o.North
}

// String formats the box the way the bounds metadata key stores it.
func (b BBox) String() string {
	return formatFloat(b.West) + "," + formatFloat(b.South) + "," + formatFloat(b.East) + "," + formatFloat(b.North)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Intersects reports whether a and b share some area. Boxes that only touch
// along an edge do not intersect.
func Intersects(a BBox, b BBox) bool {
	return !(a.West >= b.East || b.West >= a.East || a.South >= b.North || b.South >= a.North)
}

// Intersection returns the overlap of a and b, or a *DisjointBoxError.
func Intersection(a BBox, b BBox) (BBox, error) {
	if !Intersects(a, b) {
		return BBox{}, &DisjointBoxError{A: a, B: b}
	}
	return BBox{
		West:  max(a.West, b.West),
		South: max(a.South, b.South),
		East:  min(a.East, b.East),
		North: min(a.North, b.North),
	}, nil
}

// Union returns the smallest box holding both a and b.
func Union(a BBox, b BBox) BBox {
	return BBox{
		West:  min(a.West, b.West),
		South: min(a.South, b.South),
		East:  max(a.East, b.East),
		North: max(a.North, b.North),
	}
}
