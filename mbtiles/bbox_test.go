package mbtiles

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBBox(t *testing.T) {
	b, err := ParseBBox("6.768, 44.088,7.646,44.59")
	require.NoError(t, err)
	assert.Equal(t, BBox{West: 6.768, South: 44.088, East: 7.646, North: 44.59}, b)
	assert.Equal(t, "6.768,44.088,7.646,44.59", b.String())

	_, err = ParseBBox("1,2,3")
	assert.Error(t, err)
	_, err = ParseBBox("1,2,x,4")
	assert.Error(t, err)
}

func TestUnionKnownBoxes(t *testing.T) {
	a := BBox{West: 6.768, South: 44.088, East: 7.646, North: 44.590}
	b := BBox{West: 7.295, South: 45.706, East: 7.734, North: 46.012}
	assert.Equal(t, BBox{West: 6.768, South: 44.088, East: 7.734, North: 46.012}, Union(a, b))
}

func TestUnionCommutativeAssociative(t *testing.T) {
	a := BBox{West: -10, South: -5, East: 3, North: 8}
	b := BBox{West: 1, South: 2, East: 30, North: 40}
	c := BBox{West: -50, South: 10, East: -20, North: 60}
	assert.Equal(t, Union(a, b), Union(b, a))
	assert.Equal(t, Union(Union(a, b), c), Union(a, Union(b, c)))
	assert.True(t, Union(a, b).Contains(a))
	assert.True(t, Union(a, b).Contains(b))
}

func TestIntersection(t *testing.T) {
	a := BBox{West: 0, South: 0, East: 10, North: 10}
	b := BBox{West: 5, South: -5, East: 15, North: 5}
	i, err := Intersection(a, b)
	require.NoError(t, err)
	assert.Equal(t, BBox{West: 5, South: 0, East: 10, North: 5}, i)

	_, err = Intersection(a, BBox{West: 20, South: 20, East: 30, North: 30})
	var disjoint *DisjointBoxError
	assert.True(t, errors.As(err, &disjoint))

	// sharing an edge is not overlapping
	assert.False(t, Intersects(a, BBox{West: 10, South: 0, East: 20, North: 10}))
	_, err = Intersection(a, BBox{West: 10, South: 0, East: 20, North: 10})
	assert.Error(t, err)
}

func TestBBoxHelpers(t *testing.T) {
	b := BBox{West: -2, South: -1, East: 2, North: 3}
	assert.True(t, b.Valid())
	assert.False(t, BBox{}.Valid())
	lng, lat := b.Center()
	assert.Equal(t, 0.0, lng)
	assert.Equal(t, 1.0, lat)
	assert.Equal(t, BBox{West: -1, South: 0, East: 1, North: 2}, b.Shrink(1))
	assert.Equal(t, b, BBoxFromBound(b.Bound()))
}
