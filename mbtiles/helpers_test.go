package mbtiles

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	SetQuietMode(true)
	os.Exit(m.Run())
}

// makeStore creates a store under a test directory holding tiles and meta.
func makeStore(t *testing.T, name string, tiles []Tile, meta Metadata) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".mbtiles")
	require.NoError(t, CreateSchema(FromPath(path)))
	require.NoError(t, Upsert(FromPath(path), tiles))
	if len(meta) > 0 {
		require.NoError(t, WriteMetadata(FromPath(path), meta))
	}
	return path
}

// grid returns one tile per cell of a south-origin window, the payload
// naming the store and the cell.
func grid(label string, z uint8, minCol, maxCol, minRow, maxRow uint32) []Tile {
	var tiles []Tile
	for x := minCol; x <= maxCol; x++ {
		for y := minRow; y <= maxRow; y++ {
			tiles = append(tiles, Tile{Zoom: z, Column: x, Row: y, Data: []byte(fmt.Sprintf("%s:%d/%d/%d", label, z, x, y))})
		}
	}
	return tiles
}

// contents returns every tile of a store keyed by "z/x/y", rows south-origin.
func contents(t *testing.T, path string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := ForEachTile(FromPath(path), IterateOptions{}, func(tile Tile) error {
		out[tile.String()] = string(tile.Data)
		return nil
	})
	require.NoError(t, err)
	return out
}
