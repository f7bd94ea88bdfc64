package mbtiles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegex(t *testing.T) {
	ok, key, z, x, y, ext := parseTilePath("/foo/0/0/0")
	assert.False(t, ok)
	ok, key, z, x, y, ext = parseTilePath("/foo/0/0/0.png")
	assert.True(t, ok)
	assert.Equal(t, "foo", key)
	assert.Equal(t, uint8(0), z)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
	assert.Equal(t, "png", ext)
	ok, key, z, x, y, ext = parseTilePath("/alps/slope/14/8529/5831.webp")
	assert.True(t, ok)
	assert.Equal(t, "alps/slope", key)
	assert.Equal(t, uint8(14), z)
	assert.Equal(t, uint32(8529), x)
	assert.Equal(t, uint32(5831), y)
	assert.Equal(t, "webp", ext)
	ok, key, _, _, _, _ = parseTilePath("/!-_.*'()/0/0/0.pbf")
	assert.True(t, ok)
	assert.Equal(t, "!-_.*'()", key)
	// zoom does not fit in a byte
	ok, _, _, _, _, _ = parseTilePath("/foo/300/0/0.png")
	assert.False(t, ok)
	ok, key = parseMetadataPath("/!-_.*'()/metadata")
	assert.True(t, ok)
	assert.Equal(t, "!-_.*'()", key)
	ok, key = parseTilejsonPath("/!-_.*'().json")
	assert.True(t, ok)
	assert.Equal(t, "!-_.*'()", key)
}

// newTestServer serves a directory holding slope.mbtiles: one PNG tile at
// 1/0/0 north-origin.
func newTestServer(t *testing.T, publicURL string) *Server {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "slope.mbtiles")
	require.NoError(t, CreateSchema(FromPath(path)))
	require.NoError(t, Upsert(FromPath(path), []Tile{{Zoom: 1, Column: 0, Row: 1, Data: []byte("png-bytes")}}))
	require.NoError(t, WriteMetadata(FromPath(path), Metadata{MetaName: "slope", MetaFormat: "png"}))
	_, err := UpdateBounds(FromPath(path), Loose)
	require.NoError(t, err)

	server, err := NewServer(zaptest.NewLogger(t), dir, 2, "*", publicURL)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

func TestServerSharesPooledConnections(t *testing.T) {
	server := newTestServer(t, "")
	ctx := context.Background()

	// more concurrent requests than pooled connections
	statuses := make([]int, 16)
	var wg sync.WaitGroup
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _, _ = server.Get(ctx, "/slope/1/0/0.png")
		}(i)
	}
	wg.Wait()
	for _, status := range statuses {
		assert.Equal(t, 200, status)
	}
}

func TestServerTile(t *testing.T) {
	server := newTestServer(t, "")
	ctx := context.Background()

	status, headers, body := server.Get(ctx, "/slope/1/0/0.png")
	assert.Equal(t, 200, status)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, "image/png", headers["Content-Type"])
	assert.Equal(t, "*", headers["Access-Control-Allow-Origin"])
	assert.Equal(t, generateEtag([]byte("png-bytes")), headers["ETag"])

	status, _, body = server.Get(ctx, "/slope/1/1/1.png")
	assert.Equal(t, 204, status)
	assert.Empty(t, body)

	status, _, _ = server.Get(ctx, "/slope/1/2/0.png")
	assert.Equal(t, 404, status)

	status, _, _ = server.Get(ctx, "/slope/1/0/0.pbf")
	assert.Equal(t, 400, status)

	status, _, _ = server.Get(ctx, "/missing/1/0/0.png")
	assert.Equal(t, 404, status)

	status, _, _ = server.Get(ctx, "/../slope/1/0/0.png")
	assert.Equal(t, 404, status)

	status, _, _ = server.Get(ctx, "/nothing-here")
	assert.Equal(t, 404, status)
}

func TestServerMetadata(t *testing.T) {
	server := newTestServer(t, "")
	status, headers, body := server.Get(context.Background(), "/slope/metadata")
	require.Equal(t, 200, status)
	assert.Equal(t, "application/json", headers["Content-Type"])

	var meta map[string]string
	require.NoError(t, json.Unmarshal(body, &meta))
	assert.Equal(t, "slope", meta[MetaName])
	assert.Equal(t, "1", meta[MetaMinZoom])
}

func TestServerTileJSON(t *testing.T) {
	status, _, _ := newTestServer(t, "").Get(context.Background(), "/slope.json")
	assert.Equal(t, 501, status)

	server := newTestServer(t, "https://tiles.example.com/")
	status, headers, body := server.Get(context.Background(), "/slope.json")
	require.Equal(t, 200, status)
	assert.Equal(t, "application/json", headers["Content-Type"])

	var tilejson map[string]any
	require.NoError(t, json.Unmarshal(body, &tilejson))
	assert.Equal(t, []any{"https://tiles.example.com/slope/{z}/{x}/{y}.png"}, tilejson["tiles"])
	assert.Equal(t, "slope", tilejson["name"])
}

func TestServeHTTPNotModified(t *testing.T) {
	server := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slope/1/0/0.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/slope/1/0/0.png", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestNewServerRejectsFile(t *testing.T) {
	path := makeStore(t, "file", nil, nil)
	_, err := NewServer(zaptest.NewLogger(t), path, 0, "", "")
	assert.Error(t, err)
}
