package mbtiles

import (
	"fmt"

	"zombiezen.com/go/sqlite"
)

// DefaultBatchSize is the number of rows fetched per query while iterating.
const DefaultBatchSize = 1000

// IterateOptions restricts and tunes an iteration.
type IterateOptions struct {
	// Zooms limits the iteration to a zoom range; nil means all zooms.
	Zooms *ZoomRange
	// Window limits the iteration to one rectangle at one zoom.
	Window *Window
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	// CoordsOnly leaves Tile.Data empty.
	CoordsOnly bool
}

// TileIterator walks a store in (zoom, column, row) order, fetching a batch
// of rows per query so memory stays bounded whatever the store size. No
// cursor is held open between batches.
type TileIterator struct {
	src    Source
	conn   *sqlite.Conn
	owned  bool
	query  string
	args   []any
	size   int
	coords bool

	batch []Tile
	pos   int
	last  [3]int64
	done  bool
	err   error
}

const iterateSQL = `SELECT zoom_level, tile_column, tile_row%s FROM tiles
	WHERE zoom_level BETWEEN ? AND ? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?
	AND (zoom_level, tile_column, tile_row) > (?, ?, ?)
	ORDER BY zoom_level, tile_column, tile_row LIMIT ?`

var (
	iterateTilesSQL  = fmt.Sprintf(iterateSQL, ", tile_data")
	iterateCoordsSQL = fmt.Sprintf(iterateSQL, "")
)

// Iterate starts an iteration. A path Source stays open until Close.
func Iterate(src Source, opts IterateOptions) (*TileIterator, error) {
	it := &TileIterator{src: src, conn: src.conn, size: opts.BatchSize}
	if it.size <= 0 {
		it.size = DefaultBatchSize
	}
	it.query = iterateTilesSQL
	if opts.CoordsOnly {
		it.query = iterateCoordsSQL
		it.coords = true
	}
	zooms := zoomsOrAll(opts.Zooms)
	var maxIndex int64 = 1<<32 - 1
	it.args = []any{int64(zooms.Min), int64(zooms.Max), int64(0), maxIndex, int64(0), maxIndex}
	if w := opts.Window; w != nil {
		it.args = []any{int64(w.Zoom), int64(w.Zoom), int64(w.MinCol), int64(w.MaxCol), int64(w.MinRow), int64(w.MaxRow)}
	}
	if it.conn == nil {
		conn, err := openConn(src.path, readOnly)
		if err != nil {
			return nil, err
		}
		it.conn = conn
		it.owned = true
	}
	it.Reset()
	return it, nil
}

// Reset restarts the iteration from the first tile.
func (it *TileIterator) Reset() {
	it.batch = it.batch[:0]
	it.pos = 0
	it.last = [3]int64{-1, -1, -1}
	it.done = false
	it.err = nil
}

// Next advances to the next tile. It returns false at the end or on error.
func (it *TileIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.pos < len(it.batch) {
		return true
	}
	if it.done {
		return false
	}
	if err := it.fetch(); err != nil {
		it.err = fmt.Errorf("failed to iterate %s: %w", it.src, err)
		return false
	}
	it.pos = 0
	return len(it.batch) > 0
}

func (it *TileIterator) fetch() error {
	it.batch = it.batch[:0]
	args := append(append([]any{}, it.args...), it.last[0], it.last[1], it.last[2], int64(it.size))
	err := execute(it.conn, it.query, func(stmt *sqlite.Stmt) error {
		t := Tile{
			Zoom:   uint8(stmt.ColumnInt64(0)),
			Column: uint32(stmt.ColumnInt64(1)),
			Row:    uint32(stmt.ColumnInt64(2)),
		}
		if !it.coords {
			t.Data = make([]byte, stmt.ColumnLen(3))
			stmt.ColumnBytes(3, t.Data)
		}
		it.batch = append(it.batch, t)
		return nil
	}, args...)
	if err != nil {
		return err
	}
	if len(it.batch) < it.size {
		it.done = true
	}
	if n := len(it.batch); n > 0 {
		t := it.batch[n-1]
		it.last = [3]int64{int64(t.Zoom), int64(t.Column), int64(t.Row)}
	}
	return nil
}

// Tile returns the current tile. Its Data is not reused by later calls.
func (it *TileIterator) Tile() Tile {
	return it.batch[it.pos]
}

// Err returns the error that stopped the iteration, if any.
func (it *TileIterator) Err() error {
	return it.err
}

// Close releases the connection opened for a path Source.
func (it *TileIterator) Close() error {
	if !it.owned || it.conn == nil {
		return nil
	}
	err := it.conn.Close()
	it.conn = nil
	return err
}

// ForEachTile calls fn for every tile matched by opts, stopping at the first
// error.
func ForEachTile(src Source, opts IterateOptions, fn func(Tile) error) (err error) {
	it, err := Iterate(src, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := it.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	for it.Next() {
		if err := fn(it.Tile()); err != nil {
			return err
		}
	}
	return it.Err()
}
