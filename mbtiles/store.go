package mbtiles

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Tile is one tile of a pyramid. Row uses the south-origin numbering of the
// tiles table.
type Tile struct {
	Zoom   uint8
	Column uint32
	Row    uint32
	Data   []byte
}

// XYZRow returns the row in north-origin numbering.
func (t Tile) XYZRow() uint32 {
	return FlipRow(t.Zoom, t.Row)
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.Column, t.Row)
}

// ZoomRange is an inclusive range of zoom levels.
type ZoomRange struct {
	Min uint8
	Max uint8
}

// ParseZoomRange reads "min-max" or a single zoom level.
func ParseZoomRange(s string) (ZoomRange, error) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	zmin, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 8)
	if err != nil {
		return ZoomRange{}, fmt.Errorf("zoom range %q: %w", s, err)
	}
	zmax, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 8)
	if err != nil {
		return ZoomRange{}, fmt.Errorf("zoom range %q: %w", s, err)
	}
	if zmin > zmax {
		return ZoomRange{}, fmt.Errorf("zoom range %q: min is above max", s)
	}
	return ZoomRange{Min: uint8(zmin), Max: uint8(zmax)}, nil
}

func (r ZoomRange) Contains(z uint8) bool {
	return z >= r.Min && z <= r.Max
}

func (r ZoomRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

var allZooms = ZoomRange{Min: 0, Max: 255}

func zoomsOrAll(zooms *ZoomRange) ZoomRange {
	if zooms == nil {
		return allZooms
	}
	return *zooms
}

// Window is a rectangle of tile indices at one zoom, rows south-origin.
type Window struct {
	Zoom   uint8
	MinCol uint32
	MaxCol uint32
	MinRow uint32
	MaxRow uint32
}

// Clamp restricts w to the extent of existing tiles. It returns false when
// nothing is left.
func (w Window) Clamp(e ZoomExtent) (Window, bool) {
	c := Window{
		Zoom:   w.Zoom,
		MinCol: max(w.MinCol, e.MinCol),
		MaxCol: min(w.MaxCol, e.MaxCol),
		MinRow: max(w.MinRow, e.MinRow),
		MaxRow: min(w.MaxRow, e.MaxRow),
	}
	return c, c.MinCol <= c.MaxCol && c.MinRow <= c.MaxRow
}

// ZoomExtent holds the extreme tile indices present at one zoom level, rows
// south-origin.
type ZoomExtent struct {
	Zoom   uint8
	MinCol uint32
	MaxCol uint32
	MinRow uint32
	MaxRow uint32
	Count  int64
}

// Window returns the full extent as a window.
func (e ZoomExtent) Window() Window {
	return Window{Zoom: e.Zoom, MinCol: e.MinCol, MaxCol: e.MaxCol, MinRow: e.MinRow, MaxRow: e.MaxRow}
}

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS tiles (
	zoom_level INTEGER NOT NULL,
	tile_column INTEGER NOT NULL,
	tile_row INTEGER NOT NULL,
	tile_data BLOB NOT NULL,
	UNIQUE (zoom_level, tile_column, tile_row)
);
CREATE TABLE IF NOT EXISTS metadata (
	name TEXT,
	value TEXT,
	UNIQUE (name)
);
`

const (
	selectTileSQL = `SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`
	upsertTileSQL = `INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)
		ON CONFLICT (zoom_level, tile_column, tile_row) DO UPDATE SET tile_data = excluded.tile_data`
	updateTileSQL  = `UPDATE tiles SET tile_data = ? WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`
	deleteTileSQL  = `DELETE FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`
	deleteRangeSQL = `DELETE FROM tiles WHERE zoom_level = ?
		AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?`
	deleteZoomsSQL = `DELETE FROM tiles WHERE zoom_level BETWEEN ? AND ?`
	countSQL       = `SELECT COUNT(*) FROM tiles WHERE zoom_level BETWEEN ? AND ?`
	extentsSQL     = `SELECT zoom_level, MIN(tile_column), MAX(tile_column), MIN(tile_row), MAX(tile_row), COUNT(*)
		FROM tiles GROUP BY zoom_level ORDER BY zoom_level`
	dedupeTilesSQL = `DELETE FROM tiles WHERE rowid NOT IN
		(SELECT MAX(rowid) FROM tiles GROUP BY zoom_level, tile_column, tile_row)`
	createTileIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row)`
)

var tileKeyColumns = []string{"zoom_level", "tile_column", "tile_row"}

var requiredColumns = []struct {
	table   string
	columns []string
}{
	{"tiles", []string{"zoom_level", "tile_column", "tile_row", "tile_data"}},
	{"metadata", []string{"name", "value"}},
}

func execute(conn *sqlite.Conn, query string, resultFn func(stmt *sqlite.Stmt) error, args ...any) error {
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: resultFn})
}

// CreateSchema creates the tiles and metadata tables, creating the file if
// needed. Existing tables are left untouched.
func CreateSchema(src Source) error {
	return src.with(readWriteCreate, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteScript(conn, createSchemaSQL, nil); err != nil {
			return fmt.Errorf("failed to create schema in %s: %w", src, err)
		}
		return nil
	})
}

func tableType(conn *sqlite.Conn, name string) (string, error) {
	kind := ""
	err := execute(conn, `SELECT type FROM sqlite_master WHERE name = ? AND type IN ('table', 'view')`,
		func(stmt *sqlite.Stmt) error {
			kind = stmt.ColumnText(0)
			return nil
		}, name)
	return kind, err
}

func tableColumns(conn *sqlite.Conn, table string) ([]string, error) {
	var columns []string
	err := execute(conn, `SELECT name FROM pragma_table_info(?)`, func(stmt *sqlite.Stmt) error {
		columns = append(columns, stmt.ColumnText(0))
		return nil
	}, table)
	return columns, err
}

// CheckSchema verifies the store has the tables and columns of the MBTiles
// schema. A tiles view is accepted.
func CheckSchema(src Source) error {
	return src.with(readOnly, func(conn *sqlite.Conn) error {
		return checkSchema(conn, src.String())
	})
}

func checkSchema(conn *sqlite.Conn, name string) error {
	for _, req := range requiredColumns {
		kind, err := tableType(conn, req.table)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", name, err)
		}
		if kind == "" {
			return &SchemaMismatchError{Path: name, Reason: "missing table " + req.table}
		}
		columns, err := tableColumns(conn, req.table)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", name, err)
		}
		for _, c := range req.columns {
			if !slices.Contains(columns, c) {
				return &SchemaMismatchError{Path: name, Reason: fmt.Sprintf("table %s has no column %s", req.table, c)}
			}
		}
	}
	return nil
}

func hasUniqueIndex(conn *sqlite.Conn, table string, columns []string) (bool, error) {
	var names []string
	err := execute(conn, `SELECT name FROM pragma_index_list(?) WHERE "unique" = 1`, func(stmt *sqlite.Stmt) error {
		names = append(names, stmt.ColumnText(0))
		return nil
	}, table)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		var indexed []string
		err := execute(conn, `SELECT name FROM pragma_index_info(?)`, func(stmt *sqlite.Stmt) error {
			indexed = append(indexed, stmt.ColumnText(0))
			return nil
		}, name)
		if err != nil {
			return false, err
		}
		slices.Sort(indexed)
		want := slices.Clone(columns)
		slices.Sort(want)
		if slices.Equal(indexed, want) {
			return true, nil
		}
	}
	return false, nil
}

// EnsureUniqueIndex gives a store written without the (zoom, column, row)
// uniqueness constraint one. Duplicates are removed first, keeping the most
// recently inserted row of each key, and their number is returned. Indexed
// stores are left as they are.
func EnsureUniqueIndex(src Source) (int64, error) {
	var removed int64
	err := src.with(readWrite, func(conn *sqlite.Conn) error {
		var err error
		removed, err = ensureUniqueIndex(conn, src.String())
		return err
	})
	return removed, err
}

func ensureUniqueIndex(conn *sqlite.Conn, name string) (removed int64, err error) {
	kind, err := tableType(conn, "tiles")
	if err != nil {
		return 0, fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	switch kind {
	case "":
		return 0, &SchemaMismatchError{Path: name, Reason: "missing table tiles"}
	case "view":
		return 0, &SchemaMismatchError{Path: name, Reason: "tiles is a view and cannot be written to"}
	}
	indexed, err := hasUniqueIndex(conn, "tiles", tileKeyColumns)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect indexes of %s: %w", name, err)
	}
	if indexed {
		return 0, nil
	}
	defer sqlitex.Save(conn)(&err)
	if err = sqlitex.ExecuteTransient(conn, dedupeTilesSQL, nil); err != nil {
		return 0, fmt.Errorf("failed to deduplicate tiles of %s: %w", name, err)
	}
	removed = int64(conn.Changes())
	if err = sqlitex.ExecuteTransient(conn, createTileIndexSQL, nil); err != nil {
		return 0, fmt.Errorf("failed to index tiles of %s: %w", name, err)
	}
	return removed, nil
}

// GetTile returns the payload of one tile. The row is read in the given
// origin convention.
func GetTile(src Source, z uint8, x uint32, y uint32, origin Origin) ([]byte, bool, error) {
	var data []byte
	found := false
	err := src.with(readOnly, func(conn *sqlite.Conn) error {
		var err error
		data, found, err = getTile(conn, z, x, y, origin)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read tile %d/%d/%d from %s: %w", z, x, y, src, err)
	}
	return data, found, nil
}

func getTile(conn *sqlite.Conn, z uint8, x uint32, y uint32, origin Origin) ([]byte, bool, error) {
	if origin == NorthOrigin {
		y = FlipRow(z, y)
	}
	stmt, err := conn.Prepare(selectTileSQL)
	if err != nil {
		return nil, false, err
	}
	defer stmt.Reset()
	stmt.BindInt64(1, int64(z))
	stmt.BindInt64(2, int64(x))
	stmt.BindInt64(3, int64(y))
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return nil, false, err
	}
	data := make([]byte, stmt.ColumnLen(0))
	stmt.ColumnBytes(0, data)
	return data, true, nil
}

// GetTileAt returns the tile holding a point.
func GetTileAt(src Source, z uint8, lng float64, lat float64) ([]byte, bool, error) {
	x, y := LngLatToTile(z, lng, lat)
	return GetTile(src, z, x, y, NorthOrigin)
}

// Upsert inserts tiles, overwriting the payload of tiles already present.
// All rows are written in one savepoint.
func Upsert(src Source, tiles []Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	err := src.with(readWrite, func(conn *sqlite.Conn) error {
		return upsert(conn, tiles)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d tiles into %s: %w", len(tiles), src, err)
	}
	return nil
}

func upsert(conn *sqlite.Conn, tiles []Tile) (err error) {
	defer sqlitex.Save(conn)(&err)
	stmt, err := conn.Prepare(upsertTileSQL)
	if err != nil {
		return err
	}
	for _, t := range tiles {
		stmt.BindInt64(1, int64(t.Zoom))
		stmt.BindInt64(2, int64(t.Column))
		stmt.BindInt64(3, int64(t.Row))
		stmt.BindBytes(4, t.Data)
		if _, err = stmt.Step(); err != nil {
			stmt.Reset()
			return fmt.Errorf("tile %s: %w", t, err)
		}
		if err = stmt.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTiles overwrites the payload of tiles already present and ignores
// the others. It returns the number of rows changed.
func UpdateTiles(src Source, tiles []Tile) (int64, error) {
	var changed int64
	err := src.with(readWrite, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		for _, t := range tiles {
			if err = execute(conn, updateTileSQL, nil, t.Data, int64(t.Zoom), int64(t.Column), int64(t.Row)); err != nil {
				return fmt.Errorf("tile %s: %w", t, err)
			}
			changed += int64(conn.Changes())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update tiles of %s: %w", src, err)
	}
	return changed, nil
}

// DeleteTile removes one tile, row south-origin.
func DeleteTile(src Source, z uint8, x uint32, y uint32) error {
	return DeleteTiles(src, []Tile{{Zoom: z, Column: x, Row: y}})
}

// DeleteTiles removes the tiles at the coordinates of the given tiles.
// Payloads are ignored.
func DeleteTiles(src Source, tiles []Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	err := src.with(readWrite, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		for _, t := range tiles {
			if err = execute(conn, deleteTileSQL, nil, int64(t.Zoom), int64(t.Column), int64(t.Row)); err != nil {
				return fmt.Errorf("tile %s: %w", t, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete tiles from %s: %w", src, err)
	}
	return nil
}

// DeleteRange removes every tile inside the window and returns how many
// were removed.
func DeleteRange(src Source, w Window) (int64, error) {
	var removed int64
	err := src.with(readWrite, func(conn *sqlite.Conn) error {
		err := execute(conn, deleteRangeSQL, nil,
			int64(w.Zoom), int64(w.MinCol), int64(w.MaxCol), int64(w.MinRow), int64(w.MaxRow))
		removed = int64(conn.Changes())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete zoom %d window from %s: %w", w.Zoom, src, err)
	}
	return removed, nil
}

// DeleteZooms removes whole zoom levels.
func DeleteZooms(src Source, zooms ZoomRange) (int64, error) {
	var removed int64
	err := src.with(readWrite, func(conn *sqlite.Conn) error {
		err := execute(conn, deleteZoomsSQL, nil, int64(zooms.Min), int64(zooms.Max))
		removed = int64(conn.Changes())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete zooms %s from %s: %w", zooms, src, err)
	}
	return removed, nil
}

// Count returns the number of tiles, optionally restricted to a zoom range.
func Count(src Source, zooms *ZoomRange) (int64, error) {
	var n int64
	err := src.with(readOnly, func(conn *sqlite.Conn) error {
		var err error
		n, err = count(conn, zoomsOrAll(zooms))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count tiles of %s: %w", src, err)
	}
	return n, nil
}

func count(conn *sqlite.Conn, zooms ZoomRange) (int64, error) {
	var n int64
	err := execute(conn, countSQL, func(stmt *sqlite.Stmt) error {
		n = stmt.ColumnInt64(0)
		return nil
	}, int64(zooms.Min), int64(zooms.Max))
	return n, err
}

// ZoomExtents returns, per zoom level present, the extreme columns and rows.
func ZoomExtents(src Source) ([]ZoomExtent, error) {
	var extents []ZoomExtent
	err := src.with(readOnly, func(conn *sqlite.Conn) error {
		var err error
		extents, err = zoomExtents(conn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read zoom extents of %s: %w", src, err)
	}
	return extents, nil
}

func zoomExtents(conn *sqlite.Conn) ([]ZoomExtent, error) {
	var extents []ZoomExtent
	err := execute(conn, extentsSQL, func(stmt *sqlite.Stmt) error {
		extents = append(extents, ZoomExtent{
			Zoom:   uint8(stmt.ColumnInt64(0)),
			MinCol: uint32(stmt.ColumnInt64(1)),
			MaxCol: uint32(stmt.ColumnInt64(2)),
			MinRow: uint32(stmt.ColumnInt64(3)),
			MaxRow: uint32(stmt.ColumnInt64(4)),
			Count:  stmt.ColumnInt64(5),
		})
		return nil
	})
	return extents, err
}

func findExtent(extents []ZoomExtent, z uint8) (ZoomExtent, bool) {
	for _, e := range extents {
		if e.Zoom == z {
			return e, true
		}
	}
	return ZoomExtent{}, false
}

// ZoomRangeOf returns the zoom levels holding tiles.
func ZoomRangeOf(src Source) (ZoomRange, error) {
	extents, err := ZoomExtents(src)
	if err != nil {
		return ZoomRange{}, err
	}
	if len(extents) == 0 {
		return ZoomRange{}, &EmptyPyramidError{Path: src.String()}
	}
	return ZoomRange{Min: extents[0].Zoom, Max: extents[len(extents)-1].Zoom}, nil
}

// copyStore writes a consistent copy of the store at path to dest.
func copyStore(path string, dest string) error {
	return FromPath(path).with(readOnly, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteTransient(conn, `VACUUM INTO ?`, &sqlitex.ExecOptions{Args: []any{dest}}); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", path, dest, err)
		}
		return nil
	})
}
