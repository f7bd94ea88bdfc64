package mbtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataReadWrite(t *testing.T) {
	path := makeStore(t, "meta", nil, Metadata{MetaName: "alps", MetaFormat: "png"})
	src := FromPath(path)

	require.NoError(t, WriteMetadata(src, Metadata{MetaFormat: "webp", MetaAttribution: "© IGN"}))
	m, err := ReadMetadata(src)
	require.NoError(t, err)
	assert.Equal(t, Metadata{MetaName: "alps", MetaFormat: "webp", MetaAttribution: "© IGN"}, m)
	assert.Equal(t, []string{MetaAttribution, MetaFormat, MetaName}, m.Keys())

	require.NoError(t, DeleteMetadata(src, MetaAttribution, "absent"))
	m, err = ReadMetadata(src)
	require.NoError(t, err)
	assert.NotContains(t, m, MetaAttribution)
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{MetaBounds: "5.5,44,7.25,46", MetaMinZoom: "8", MetaMaxZoom: "15"}
	b, ok := m.Bounds()
	assert.True(t, ok)
	assert.Equal(t, BBox{West: 5.5, South: 44, East: 7.25, North: 46}, b)
	zr, ok := m.ZoomRange()
	assert.True(t, ok)
	assert.Equal(t, ZoomRange{Min: 8, Max: 15}, zr)

	_, ok = Metadata{}.Bounds()
	assert.False(t, ok)
	_, ok = Metadata{MetaMinZoom: "8"}.ZoomRange()
	assert.False(t, ok)
}

func TestCenter(t *testing.T) {
	c, err := ParseCenter("6.5,45.25,9")
	require.NoError(t, err)
	assert.Equal(t, Center{Lng: 6.5, Lat: 45.25, Zoom: 9}, c)
	assert.Equal(t, "6.5,45.25,9", c.String())

	_, err = ParseCenter("6.5,45.25")
	assert.Error(t, err)
}
