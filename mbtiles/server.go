package mbtiles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is the number of read-only connections opened per store.
const DefaultPoolSize = 4

// Server serves the tiles of the stores in a directory over Z/X/Y URLs, rows
// north-origin: /{name}/{z}/{x}/{y}.{ext}, /{name}/metadata and /{name}.json.
// Each store gets a pool of read-only connections, opened on first request.
type Server struct {
	dir       string
	logger    *zap.Logger
	poolSize  int
	cors      string
	publicURL string
	metrics   *metrics

	mu    sync.Mutex
	pools map[string]*sqlitex.Pool
}

// NewServer creates a server for the stores under dir.
func NewServer(logger *zap.Logger, dir string, poolSize int, cors string, publicURL string) (*Server, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store directory: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Server{
		dir:       dir,
		logger:    logger,
		poolSize:  poolSize,
		cors:      cors,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		metrics:   createMetrics("server", logger),
		pools:     make(map[string]*sqlitex.Pool),
	}, nil
}

// Close closes every connection pool.
func (server *Server) Close() error {
	server.mu.Lock()
	defer server.mu.Unlock()
	var errs []error
	for name, pool := range server.pools {
		if err := pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
		delete(server.pools, name)
		server.metrics.openStores.Dec()
	}
	return errors.Join(errs...)
}

var errStoreNotFound = errors.New("store not found")

func (server *Server) pool(name string) (*sqlitex.Pool, error) {
	if strings.Contains(name, "..") {
		return nil, errStoreNotFound
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	if pool, ok := server.pools[name]; ok {
		return pool, nil
	}
	path := filepath.Join(server.dir, filepath.FromSlash(name)+".mbtiles")
	exists, err := fileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errStoreNotFound
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadOnly,
		PoolSize: server.poolSize,
	})
	server.metrics.storeOpened(name, err)
	if err != nil {
		return nil, err
	}
	server.logger.Info("opened store", zap.String("name", name), zap.String("path", path))
	server.pools[name] = pool
	return pool, nil
}

// withConn runs fn on a pooled connection of the named store.
func (server *Server) withConn(ctx context.Context, name string, fn func(conn *sqlite.Conn) error) error {
	pool, err := server.pool(name)
	if err != nil {
		return err
	}
	start := time.Now()
	conn := pool.Get(ctx)
	server.metrics.observePoolWait(name, start)
	if conn == nil {
		return fmt.Errorf("no connection to %s: %w", name, ctx.Err())
	}
	defer pool.Put(conn)
	return fn(conn)
}

func errorStatus(err error) (int, []byte) {
	if errors.Is(err, errStoreNotFound) {
		return 404, []byte("Store not found")
	}
	return 500, []byte("I/O Error")
}

func (server *Server) getTileJSON(ctx context.Context, httpHeaders map[string]string, name string) (int, map[string]string, []byte) {
	if server.publicURL == "" {
		return 501, httpHeaders, []byte("PUBLIC_URL must be set for TileJSON")
	}
	var meta Metadata
	err := server.withConn(ctx, name, func(conn *sqlite.Conn) error {
		var err error
		meta, err = readMetadata(conn)
		return err
	})
	if err != nil {
		status, body := errorStatus(err)
		return status, httpHeaders, body
	}
	tilejsonBytes, err := CreateTileJSON(meta, server.publicURL+"/"+name)
	if err != nil {
		return 500, httpHeaders, []byte("Error generating tilejson")
	}
	httpHeaders["Content-Type"] = "application/json"
	return 200, httpHeaders, tilejsonBytes
}

func (server *Server) getMetadata(ctx context.Context, httpHeaders map[string]string, name string) (int, map[string]string, []byte) {
	var meta Metadata
	err := server.withConn(ctx, name, func(conn *sqlite.Conn) error {
		var err error
		meta, err = readMetadata(conn)
		return err
	})
	if err != nil {
		status, body := errorStatus(err)
		return status, httpHeaders, body
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return 500, httpHeaders, []byte("Error encoding metadata")
	}
	httpHeaders["Content-Type"] = "application/json"
	return 200, httpHeaders, b
}

func (server *Server) getTile(ctx context.Context, httpHeaders map[string]string, name string, z uint8, x uint32, y uint32, ext string) (int, map[string]string, []byte) {
	if z > 30 || x >= 1<<z || y >= 1<<z {
		return 404, httpHeaders, []byte("Tile not found")
	}
	var format string
	var data []byte
	found := false
	err := server.withConn(ctx, name, func(conn *sqlite.Conn) error {
		meta, err := readMetadata(conn)
		if err != nil {
			return err
		}
		format = meta[MetaFormat]
		data, found, err = getTile(conn, z, x, y, NorthOrigin)
		return err
	})
	if err != nil {
		status, body := errorStatus(err)
		return status, httpHeaders, body
	}
	if format != "" && tileExtension(format) != tileExtension(ext) {
		return 400, httpHeaders, []byte(fmt.Sprintf("path mismatch: store is type %s (.%s)", format, tileExtension(format)))
	}
	if !found {
		return 204, httpHeaders, nil
	}
	if ct, ok := formatContentTypes[tileExtension(format)]; ok {
		httpHeaders["Content-Type"] = ct
	}
	if bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		httpHeaders["Content-Encoding"] = "gzip"
	}
	httpHeaders["ETag"] = generateEtag(data)
	return 200, httpHeaders, data
}

var tilePattern = regexp.MustCompile(`^\/([-A-Za-z0-9_\/!-_\.\*'\(\)']+)\/(\d+)\/(\d+)\/(\d+)\.([a-z]+)$`)
var metadataPattern = regexp.MustCompile(`^\/([-A-Za-z0-9_\/!-_\.\*'\(\)']+)\/metadata$`)
var tileJSONPattern = regexp.MustCompile(`^\/([-A-Za-z0-9_\/!-_\.\*'\(\)']+)\.json$`)

func parseTilePath(path string) (bool, string, uint8, uint32, uint32, string) {
	if res := tilePattern.FindStringSubmatch(path); res != nil {
		name := res[1]
		z, errZ := strconv.ParseUint(res[2], 10, 8)
		x, errX := strconv.ParseUint(res[3], 10, 32)
		y, errY := strconv.ParseUint(res[4], 10, 32)
		if errZ != nil || errX != nil || errY != nil {
			return false, "", 0, 0, 0, ""
		}
		return true, name, uint8(z), uint32(x), uint32(y), res[5]
	}
	return false, "", 0, 0, 0, ""
}

func parseTilejsonPath(path string) (bool, string) {
	if res := tileJSONPattern.FindStringSubmatch(path); res != nil {
		return true, res[1]
	}
	return false, ""
}

func parseMetadataPath(path string) (bool, string) {
	if res := metadataPattern.FindStringSubmatch(path); res != nil {
		return true, res[1]
	}
	return false, ""
}

// Get answers a request path with a status code, headers and a body.
func (server *Server) Get(ctx context.Context, path string) (int, map[string]string, []byte) {
	tracker := server.metrics.startRequest()
	httpHeaders := make(map[string]string)
	if len(server.cors) > 0 {
		httpHeaders["Access-Control-Allow-Origin"] = server.cors
	}

	if ok, key, z, x, y, ext := parseTilePath(path); ok {
		status, headers, body := server.getTile(ctx, httpHeaders, key, z, x, y, ext)
		tracker.finish(ctx, key, "tile", status, len(body))
		return status, headers, body
	}
	if ok, key := parseTilejsonPath(path); ok {
		status, headers, body := server.getTileJSON(ctx, httpHeaders, key)
		tracker.finish(ctx, key, "tilejson", status, len(body))
		return status, headers, body
	}
	if ok, key := parseMetadataPath(path); ok {
		status, headers, body := server.getMetadata(ctx, httpHeaders, key)
		tracker.finish(ctx, key, "metadata", status, len(body))
		return status, headers, body
	}

	if path == "/" {
		tracker.finish(ctx, "", "root", 204, 0)
		return 204, httpHeaders, []byte{}
	}
	tracker.finish(ctx, "", "unknown", 404, 0)
	return 404, httpHeaders, []byte("Path not found")
}

// ServeHTTP implements http.Handler, answering conditional requests with
// 304 when the tile is unchanged.
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status, headers, body := server.Get(r.Context(), r.URL.Path)
	if etag, ok := headers["ETag"]; ok && status == 200 && r.Header.Get("If-None-Match") == etag {
		status, body = http.StatusNotModified, nil
	}
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	w.Write(body)
	server.logger.Debug("served", zap.String("path", r.URL.Path), zap.Int("status", status),
		zap.Duration("duration", time.Since(start)))
}
