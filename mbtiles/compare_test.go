package mbtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCompare(t *testing.T) {
	a := makeStore(t, "a", []Tile{
		{Zoom: 1, Column: 0, Row: 0, Data: []byte("same")},
		{Zoom: 1, Column: 0, Row: 1, Data: []byte("old")},
		{Zoom: 1, Column: 1, Row: 0, Data: []byte("gone")},
		{Zoom: 18, Column: 5, Row: 5, Data: []byte("deep")},
	}, nil)
	b := makeStore(t, "b", []Tile{
		{Zoom: 1, Column: 0, Row: 0, Data: []byte("same")},
		{Zoom: 1, Column: 0, Row: 1, Data: []byte("new")},
		{Zoom: 2, Column: 3, Row: 3, Data: []byte("added")},
	}, nil)

	c, err := Compare(zaptest.NewLogger(t), FromPath(a), FromPath(b), nil)
	require.NoError(t, err)
	assert.False(t, c.Identical())
	assert.Equal(t, int64(2), c.Common)
	assert.Equal(t, int64(1), c.ChangedCount)
	assert.Equal(t, int64(2), c.OnlyACount)
	assert.Equal(t, int64(1), c.OnlyBCount)

	assert.True(t, c.Changed.Contains(1, 0, 1))
	assert.True(t, c.OnlyA.Contains(1, 1, 0))
	// zoom 18 is counted but too deep for the set
	assert.Equal(t, uint64(1), c.OnlyA.Len())
	assert.True(t, c.OnlyB.Contains(2, 3, 3))
	assert.Equal(t, "common 2 (changed 1), only in a 2, only in b 1", c.String())
}

func TestCompareZoomFilter(t *testing.T) {
	a := makeStore(t, "a", append(grid("x", 1, 0, 1, 0, 1), grid("a", 2, 0, 3, 0, 3)...), nil)
	b := makeStore(t, "b", append(grid("x", 1, 0, 1, 0, 1), grid("b", 2, 0, 1, 0, 1)...), nil)

	c, err := Compare(zaptest.NewLogger(t), FromPath(a), FromPath(b), &ZoomRange{Min: 1, Max: 1})
	require.NoError(t, err)
	assert.True(t, c.Identical())
	assert.Equal(t, int64(4), c.Common)

	c, err = Compare(zaptest.NewLogger(t), FromPath(a), FromPath(b), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.ChangedCount)
	assert.Equal(t, int64(12), c.OnlyACount)
	assert.Zero(t, c.OnlyBCount)
}

func TestCompareEmpty(t *testing.T) {
	a := makeStore(t, "a", nil, nil)
	b := makeStore(t, "b", nil, nil)
	c, err := Compare(zaptest.NewLogger(t), FromPath(a), FromPath(b), nil)
	require.NoError(t, err)
	assert.True(t, c.Identical())
}
