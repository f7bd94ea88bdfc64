package mbtiles

import (
	"fmt"
	"strconv"

	"zombiezen.com/go/sqlite"
)

// Heuristic selects how the geographic extent of a pyramid is derived from
// its tile indices. The three only agree on rectangular coverage; a
// difference between them is a sign of irregular coverage.
type Heuristic int

const (
	// Loose unions the corner tiles of every zoom. The result holds every
	// tile.
	Loose Heuristic = iota
	// Inner samples the row and column through the middle of each zoom and
	// intersects the results across zooms.
	Inner
	// Strictest samples the four outermost rows and columns of each zoom and
	// intersects the results within and across zooms.
	Strictest
)

func (h Heuristic) String() string {
	switch h {
	case Inner:
		return "inner"
	case Strictest:
		return "strictest"
	}
	return "loose"
}

// ParseHeuristic reads "loose", "inner" or "strictest".
func ParseHeuristic(s string) (Heuristic, error) {
	for _, h := range []Heuristic{Loose, Inner, Strictest} {
		if h.String() == s {
			return h, nil
		}
	}
	return Loose, fmt.Errorf("unknown bounds heuristic %q", s)
}

const (
	rowSpanSQL    = `SELECT MIN(tile_column), MAX(tile_column) FROM tiles WHERE zoom_level = ? AND tile_row = ?`
	columnSpanSQL = `SELECT MIN(tile_row), MAX(tile_row) FROM tiles WHERE zoom_level = ? AND tile_column = ?`
	tileExistsSQL = `SELECT 1 FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ? LIMIT 1`
	firstTileSQL  = `SELECT tile_column, tile_row FROM tiles WHERE zoom_level = ?
		ORDER BY tile_column, tile_row LIMIT 1`
)

// LooseBounds returns the union of the corner tiles of every zoom.
func LooseBounds(src Source) (BBox, error) {
	return ComputeBounds(src, Loose)
}

// InnerBounds returns the intersection across zooms of the box spanned by
// the middle row and middle column of each zoom.
func InnerBounds(src Source) (BBox, error) {
	return ComputeBounds(src, Inner)
}

// StrictestBounds returns the intersection across zooms of the boxes spanned
// by the outermost rows and columns of each zoom. The probes of one zoom are
// intersected too, so coverage whose border rows and columns do not overlap,
// such as two diagonal tiles, yields a *DisjointBoxError rather than a box.
func StrictestBounds(src Source) (BBox, error) {
	return ComputeBounds(src, Strictest)
}

// ComputeBounds derives the extent of the tiles with the given heuristic.
func ComputeBounds(src Source, h Heuristic) (BBox, error) {
	var b BBox
	err := src.with(readOnly, func(conn *sqlite.Conn) error {
		var err error
		b, err = computeBounds(conn, src.String(), h)
		return err
	})
	return b, err
}

func computeBounds(conn *sqlite.Conn, name string, h Heuristic) (BBox, error) {
	extents, err := zoomExtents(conn)
	if err != nil {
		return BBox{}, fmt.Errorf("failed to read zoom extents of %s: %w", name, err)
	}
	if len(extents) == 0 {
		return BBox{}, &EmptyPyramidError{Path: name}
	}
	switch h {
	case Inner:
		return innerBounds(conn, name, extents)
	case Strictest:
		return strictestBounds(conn, name, extents)
	}
	return looseBounds(extents), nil
}

// extentBBox is the union of the four corner tiles of a zoom.
func extentBBox(e ZoomExtent) BBox {
	b := TileBBox(e.Zoom, e.MinCol, e.MinRow, SouthOrigin)
	corners := [][2]uint32{{e.MinCol, e.MaxRow}, {e.MaxCol, e.MinRow}, {e.MaxCol, e.MaxRow}}
	for _, c := range corners {
		b = Union(b, TileBBox(e.Zoom, c[0], c[1], SouthOrigin))
	}
	return b
}

func looseBounds(extents []ZoomExtent) BBox {
	b := extentBBox(extents[0])
	for _, e := range extents[1:] {
		b = Union(b, extentBBox(e))
	}
	return b
}

func span(conn *sqlite.Conn, query string, z uint8, index uint32) (uint32, uint32, bool, error) {
	var lo, hi uint32
	found := false
	err := execute(conn, query, func(stmt *sqlite.Stmt) error {
		if stmt.ColumnType(0) == sqlite.TypeNull {
			return nil
		}
		lo, hi = uint32(stmt.ColumnInt64(0)), uint32(stmt.ColumnInt64(1))
		found = true
		return nil
	}, int64(z), int64(index))
	return lo, hi, found, err
}

// rowProbe returns the west and east edges of the tiles present in a row.
func rowProbe(conn *sqlite.Conn, z uint8, row uint32) (float64, float64, bool, error) {
	first, last, found, err := span(conn, rowSpanSQL, z, row)
	if err != nil || !found {
		return 0, 0, false, err
	}
	return TileBBox(z, first, row, SouthOrigin).West, TileBBox(z, last, row, SouthOrigin).East, true, nil
}

// columnProbe returns the south and north edges of the tiles present in a
// column.
func columnProbe(conn *sqlite.Conn, z uint8, col uint32) (float64, float64, bool, error) {
	first, last, found, err := span(conn, columnSpanSQL, z, col)
	if err != nil || !found {
		return 0, 0, false, err
	}
	return TileBBox(z, col, first, SouthOrigin).South, TileBBox(z, col, last, SouthOrigin).North, true, nil
}

func intersectAcross(acc *BBox, b BBox, z uint8, name string) error {
	if acc.Valid() {
		i, err := Intersection(*acc, b)
		if err != nil {
			return fmt.Errorf("bounds of %s at zoom %d: %w", name, z, err)
		}
		b = i
	}
	*acc = b
	return nil
}

func innerBounds(conn *sqlite.Conn, name string, extents []ZoomExtent) (BBox, error) {
	var acc BBox
	for _, e := range extents {
		midRow := e.MinRow + (e.MaxRow-e.MinRow)/2
		midCol := e.MinCol + (e.MaxCol-e.MinCol)/2
		west, east, rowFound, err := rowProbe(conn, e.Zoom, midRow)
		if err != nil {
			return BBox{}, fmt.Errorf("failed to probe %s at zoom %d: %w", name, e.Zoom, err)
		}
		south, north, colFound, err := columnProbe(conn, e.Zoom, midCol)
		if err != nil {
			return BBox{}, fmt.Errorf("failed to probe %s at zoom %d: %w", name, e.Zoom, err)
		}
		// a hole under the midpoint leaves nothing to sample at this zoom
		if !rowFound || !colFound {
			continue
		}
		b := BBox{West: west, South: south, East: east, North: north}
		if err := intersectAcross(&acc, b, e.Zoom, name); err != nil {
			return BBox{}, err
		}
	}
	if !acc.Valid() {
		return looseBounds(extents), nil
	}
	return acc, nil
}

func strictestBounds(conn *sqlite.Conn, name string, extents []ZoomExtent) (BBox, error) {
	var acc BBox
	for _, e := range extents {
		zoomBox := extentBBox(e)
		var probes []BBox
		for _, row := range []uint32{e.MinRow, e.MaxRow} {
			west, east, found, err := rowProbe(conn, e.Zoom, row)
			if err != nil {
				return BBox{}, fmt.Errorf("failed to probe %s at zoom %d: %w", name, e.Zoom, err)
			}
			if found {
				probes = append(probes, BBox{West: west, South: zoomBox.South, East: east, North: zoomBox.North})
			}
		}
		for _, col := range []uint32{e.MinCol, e.MaxCol} {
			south, north, found, err := columnProbe(conn, e.Zoom, col)
			if err != nil {
				return BBox{}, fmt.Errorf("failed to probe %s at zoom %d: %w", name, e.Zoom, err)
			}
			if found {
				probes = append(probes, BBox{West: zoomBox.West, South: south, East: zoomBox.East, North: north})
			}
		}
		b := zoomBox
		for _, p := range probes {
			i, err := Intersection(b, p)
			if err != nil {
				return BBox{}, fmt.Errorf("bounds of %s at zoom %d: %w", name, e.Zoom, err)
			}
			b = i
		}
		if err := intersectAcross(&acc, b, e.Zoom, name); err != nil {
			return BBox{}, err
		}
	}
	return acc, nil
}

// ComputeCenter returns the midpoint of bounds at the shallowest zoom. When
// no tile covers the midpoint, the center of the first tile of that zoom is
// used instead.
func ComputeCenter(src Source, bounds BBox) (Center, error) {
	var c Center
	err := src.with(readOnly, func(conn *sqlite.Conn) error {
		var err error
		c, err = computeCenter(conn, src.String(), bounds)
		return err
	})
	return c, err
}

func computeCenter(conn *sqlite.Conn, name string, bounds BBox) (Center, error) {
	extents, err := zoomExtents(conn)
	if err != nil {
		return Center{}, fmt.Errorf("failed to read zoom extents of %s: %w", name, err)
	}
	if len(extents) == 0 {
		return Center{}, &EmptyPyramidError{Path: name}
	}
	z := extents[0].Zoom
	lng, lat := bounds.Center()
	x, y := LngLatToTile(z, lng, lat)
	found := false
	err = execute(conn, tileExistsSQL, func(*sqlite.Stmt) error {
		found = true
		return nil
	}, int64(z), int64(x), int64(FlipRow(z, y)))
	if err != nil {
		return Center{}, fmt.Errorf("failed to look up center tile of %s: %w", name, err)
	}
	if found {
		return Center{Lng: lng, Lat: lat, Zoom: z}, nil
	}
	var col, row uint32
	err = execute(conn, firstTileSQL, func(stmt *sqlite.Stmt) error {
		col, row = uint32(stmt.ColumnInt64(0)), uint32(stmt.ColumnInt64(1))
		return nil
	}, int64(z))
	if err != nil {
		return Center{}, fmt.Errorf("failed to look up first tile of %s: %w", name, err)
	}
	lng, lat = TileBBox(z, col, row, SouthOrigin).Center()
	return Center{Lng: lng, Lat: lat, Zoom: z}, nil
}

// UpdateBounds recomputes the bounds, center, minzoom and maxzoom keys from
// the tiles and returns the new bounds.
func UpdateBounds(src Source, h Heuristic) (BBox, error) {
	var b BBox
	err := src.with(readWrite, func(conn *sqlite.Conn) error {
		var err error
		b, err = updateBounds(conn, src.String(), h)
		return err
	})
	return b, err
}

func updateBounds(conn *sqlite.Conn, name string, h Heuristic) (BBox, error) {
	b, err := computeBounds(conn, name, h)
	if err != nil {
		return BBox{}, err
	}
	c, err := computeCenter(conn, name, b)
	if err != nil {
		return BBox{}, err
	}
	extents, err := zoomExtents(conn)
	if err != nil {
		return BBox{}, err
	}
	err = writeMetadata(conn, Metadata{
		MetaBounds:  b.String(),
		MetaCenter:  c.String(),
		MetaMinZoom: strconv.Itoa(int(extents[0].Zoom)),
		MetaMaxZoom: strconv.Itoa(int(extents[len(extents)-1].Zoom)),
	})
	if err != nil {
		return BBox{}, fmt.Errorf("failed to write bounds of %s: %w", name, err)
	}
	return b, nil
}
