package mbtiles

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"
)

// Bucket is an abstraction over a directory, a plain HTTP prefix or a
// gocloud bucket holding stores.
type Bucket interface {
	Close() error
	NewReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// HTTPError is returned when an HTTP bucket answers with anything but 200.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP status %d", e.URL, e.StatusCode)
}

// FileBucket is a bucket backed by a directory on disk.
type FileBucket struct {
	path string
}

// NewFileBucket initializes a FileBucket and returns a new instance.
func NewFileBucket(path string) *FileBucket {
	return &FileBucket{path: path}
}

func (b FileBucket) NewReader(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(b.path, filepath.FromSlash(key)))
}

func (b FileBucket) Close() error {
	return nil
}

// HTTPClient lets tests swap out the default client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type HTTPBucket struct {
	baseURL string
	client  HTTPClient
}

func (b HTTPBucket) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	reqURL := b.baseURL + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &HTTPError{URL: reqURL, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func (b HTTPBucket) Close() error {
	return nil
}

// BucketAdapter exposes a gocloud bucket as a Bucket.
type BucketAdapter struct {
	Bucket *blob.Bucket
}

func (ba BucketAdapter) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return ba.Bucket.NewReader(ctx, key, nil)
}

func (ba BucketAdapter) Close() error {
	return ba.Bucket.Close()
}

func uintToBytes(n uint64) []byte {
	bs := make([]byte, 8)
	binary.LittleEndian.PutUint64(bs, n)
	return bs
}

func hasherToEtag(hasher *xxhash.Digest) string {
	return fmt.Sprintf(`"%s"`, hex.EncodeToString(uintToBytes(hasher.Sum64())))
}

// generateEtag returns a quoted strong entity tag for a tile payload.
func generateEtag(data []byte) string {
	hasher := xxhash.New()
	hasher.Write(data)
	return hasherToEtag(hasher)
}

func fileProtocol() string {
	if string(os.PathSeparator) != "/" {
		return "file:///"
	}
	return "file://"
}

// IsRemote reports whether location names a store that must be fetched
// before it can be opened.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) < 2 {
		return false
	}
	return u.Scheme != "file"
}

// NormalizeBucketKey splits a location into a bucket URL and a key. With an
// explicit bucket the key is used as is; otherwise the bucket is derived from
// an HTTP URL, a gocloud URL such as s3://bucket/dir/a.mbtiles?region=x, or a
// local path.
func NormalizeBucketKey(bucket string, prefix string, key string) (string, string, error) {
	if bucket != "" {
		return bucket, key, nil
	}
	if strings.HasPrefix(key, "http") {
		u, err := url.Parse(key)
		if err != nil {
			return "", "", err
		}
		dir, file := path.Split(u.Path)
		dir = strings.TrimSuffix(dir, "/")
		return u.Scheme + "://" + u.Host + dir, file, nil
	}
	if IsRemote(key) {
		u, err := url.Parse(key)
		if err != nil {
			return "", "", err
		}
		bucketURL := u.Scheme + "://" + u.Host
		if u.RawQuery != "" {
			bucketURL += "?" + u.RawQuery
		}
		return bucketURL, strings.TrimPrefix(u.Path, "/"), nil
	}
	if prefix != "" {
		abs, err := filepath.Abs(prefix)
		if err != nil {
			return "", "", err
		}
		return fileProtocol() + filepath.ToSlash(abs), key, nil
	}
	abs, err := filepath.Abs(key)
	if err != nil {
		return "", "", err
	}
	return fileProtocol() + filepath.ToSlash(filepath.Dir(abs)), filepath.Base(abs), nil
}

// OpenBucket opens an HTTP prefix, a local directory or any bucket URL a
// registered gocloud driver understands.
func OpenBucket(ctx context.Context, bucketURL string, bucketPrefix string) (Bucket, error) {
	if strings.HasPrefix(bucketURL, "http") {
		return HTTPBucket{bucketURL, http.DefaultClient}, nil
	}
	if strings.HasPrefix(bucketURL, "file") {
		p := strings.Replace(bucketURL, fileProtocol(), "", 1)
		return NewFileBucket(filepath.FromSlash(p)), nil
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	if bucketPrefix != "" && bucketPrefix != "/" && bucketPrefix != "." {
		bucket = blob.PrefixedBucket(bucket, path.Clean(bucketPrefix)+"/")
	}
	return BucketAdapter{bucket}, nil
}

// DefaultFetchConcurrency bounds the downloads run by FetchSources.
const DefaultFetchConcurrency = 4

// FetchSources downloads the remote locations among sources into dir and
// returns the local paths in the order given. Local paths are returned
// unchanged.
func FetchSources(ctx context.Context, logger *zap.Logger, sources []string, dir string, concurrency int) ([]string, error) {
	local := make([]string, len(sources))
	var remote []int
	for i, s := range sources {
		if IsRemote(s) {
			remote = append(remote, i)
		} else {
			local[i] = s
		}
	}
	if len(remote) == 0 {
		return local, nil
	}
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	progress := getProgressWriter().NewCountProgress(int64(len(remote)), "fetching")
	defer progress.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, i := range remote {
		g.Go(func() error {
			bucketURL, key, err := NormalizeBucketKey("", "", sources[i])
			if err != nil {
				return fmt.Errorf("invalid source %s: %w", sources[i], err)
			}
			target := filepath.Join(dir, fmt.Sprintf("%03d-%s", i, path.Base(key)))
			n, err := fetch(ctx, bucketURL, key, target)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", sources[i], err)
			}
			logger.Info("fetched source", zap.String("source", sources[i]), zap.String("path", target),
				zap.Int64("bytes", n))
			local[i] = target
			progress.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return local, nil
}

func fetch(ctx context.Context, bucketURL string, key string, target string) (int64, error) {
	bucket, err := OpenBucket(ctx, bucketURL, "")
	if err != nil {
		return 0, err
	}
	defer bucket.Close()
	r, err := bucket.NewReader(ctx, key)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	f, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return n, err
}
