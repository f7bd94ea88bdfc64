package mbtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, it *TileIterator) []string {
	t.Helper()
	var keys []string
	for it.Next() {
		keys = append(keys, it.Tile().String())
	}
	require.NoError(t, it.Err())
	return keys
}

func TestIterateBatches(t *testing.T) {
	path := makeStore(t, "iterate", append(grid("a", 1, 0, 1, 0, 1), Tile{Zoom: 0, Column: 0, Row: 0, Data: []byte("z0")}), nil)

	// a batch size that does not divide the tile count
	it, err := Iterate(FromPath(path), IterateOptions{BatchSize: 2})
	require.NoError(t, err)
	defer it.Close()
	want := []string{"0/0/0", "1/0/0", "1/0/1", "1/1/0", "1/1/1"}
	assert.Equal(t, want, collect(t, it))
	assert.False(t, it.Next())

	it.Reset()
	assert.Equal(t, want, collect(t, it))
}

func TestIterateExactBatch(t *testing.T) {
	path := makeStore(t, "exact", grid("a", 1, 0, 1, 0, 1), nil)
	it, err := Iterate(FromPath(path), IterateOptions{BatchSize: 2})
	require.NoError(t, err)
	defer it.Close()
	assert.Len(t, collect(t, it), 4)
}

func TestIterateFilters(t *testing.T) {
	path := makeStore(t, "filters", append(grid("a", 2, 0, 3, 0, 3), grid("a", 3, 0, 1, 0, 1)...), nil)
	src := FromPath(path)

	it, err := Iterate(src, IterateOptions{Zooms: &ZoomRange{Min: 3, Max: 3}, CoordsOnly: true})
	require.NoError(t, err)
	var n int
	for it.Next() {
		assert.Equal(t, uint8(3), it.Tile().Zoom)
		assert.Nil(t, it.Tile().Data)
		n++
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	assert.Equal(t, 4, n)

	var tiles []Tile
	err = ForEachTile(src, IterateOptions{Window: &Window{Zoom: 2, MinCol: 1, MaxCol: 2, MinRow: 3, MaxRow: 3}}, func(tile Tile) error {
		tiles = append(tiles, tile)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, "a:2/1/3", string(tiles[0].Data))
	assert.Equal(t, "a:2/2/3", string(tiles[1].Data))
	assert.Equal(t, uint32(0), tiles[0].XYZRow())
}

func TestIterateEmpty(t *testing.T) {
	path := makeStore(t, "empty", nil, nil)
	it, err := Iterate(FromPath(path), IterateOptions{})
	require.NoError(t, err)
	defer it.Close()
	assert.Empty(t, collect(t, it))
}
