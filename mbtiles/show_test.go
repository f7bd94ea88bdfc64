package mbtiles

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func pngTile(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))))
	return buf.Bytes()
}

func TestReadInfo(t *testing.T) {
	tiles := grid("a", 3, 2, 3, 4, 6)
	tiles[0].Data = pngTile(t, 256)
	path := makeStore(t, "info", tiles, Metadata{MetaName: "info", MetaFormat: "png"})

	info, err := ReadInfo(FromPath(path))
	require.NoError(t, err)
	assert.Equal(t, path, info.Path)
	assert.Positive(t, info.Size)
	assert.Equal(t, int64(6), info.Tiles)
	assert.True(t, info.Indexed)
	require.Len(t, info.Zooms, 1)
	assert.Equal(t, ZoomExtent{Zoom: 3, MinCol: 2, MaxCol: 3, MinRow: 4, MaxRow: 6, Count: 6}, info.Zooms[0])
	require.NotNil(t, info.Loose)
	require.NotNil(t, info.Inner)
	require.NotNil(t, info.Strictest)
	assert.Equal(t, *info.Loose, *info.Strictest)
	assert.Equal(t, PayloadInfo{Format: "png", Width: 256, Height: 256}, info.Sample)
}

func TestReadInfoEmpty(t *testing.T) {
	path := makeStore(t, "empty", nil, nil)
	info, err := ReadInfo(FromPath(path))
	require.NoError(t, err)
	assert.Zero(t, info.Tiles)
	assert.Nil(t, info.Loose)
	assert.Empty(t, info.Zooms)
}

func TestShowJSON(t *testing.T) {
	path := makeStore(t, "show", grid("a", 2, 0, 1, 0, 1), Metadata{MetaName: "show"})
	var buf bytes.Buffer
	require.NoError(t, Show(zaptest.NewLogger(t), &buf, path, ShowOptions{JSON: true}))

	var parsed struct {
		Tiles    int64             `json:"tiles"`
		Metadata map[string]string `json:"metadata"`
		Sample   PayloadInfo       `json:"sample"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, int64(4), parsed.Tiles)
	assert.Equal(t, "show", parsed.Metadata[MetaName])
	assert.Equal(t, "unknown", parsed.Sample.Format)
}

func TestShowText(t *testing.T) {
	path := makeStore(t, "show", grid("a", 2, 0, 1, 0, 1), Metadata{MetaName: "show", "version": "2"})
	var buf bytes.Buffer
	require.NoError(t, Show(zaptest.NewLogger(t), &buf, path, ShowOptions{PerZoom: true, Metadata: true}))

	out := buf.String()
	assert.Contains(t, out, "name: show\n")
	assert.Contains(t, out, "tiles: 4\n")
	assert.Contains(t, out, "zooms: 2-2\n")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "version: 2\n")
}

func TestShowTile(t *testing.T) {
	path := makeStore(t, "tile", grid("a", 2, 1, 1, 3, 3), nil)
	var buf bytes.Buffer
	logger := zaptest.NewLogger(t)

	require.NoError(t, ShowTile(logger, &buf, path, 2, 1, 0, NorthOrigin))
	assert.Equal(t, "a:2/1/3", buf.String())

	buf.Reset()
	require.NoError(t, ShowTile(logger, &buf, path, 2, 1, 3, SouthOrigin))
	assert.Equal(t, "a:2/1/3", buf.String())

	assert.Error(t, ShowTile(logger, &buf, path, 2, 1, 3, NorthOrigin))
	assert.Error(t, ShowTile(logger, &buf, filepath.Join(t.TempDir(), "missing.mbtiles"), 0, 0, 0, NorthOrigin))
}
