package mbtiles

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gocloud.dev/blob"
)

const (
	minPartSize = 5 * 1024 * 1024
	maxParts    = 10000
)

// partSizeBytes keeps a multipart upload within the provider part limit.
func partSizeBytes(totalSize int64) int {
	return int(max(minPartSize, (totalSize+maxParts-1)/maxParts))
}

// Upload copies the local store at input to key in the bucket.
func Upload(ctx context.Context, logger *zap.Logger, input string, bucketURL string, key string, maxConcurrency int) error {
	if err := CheckSchema(FromPath(input)); err != nil {
		return err
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	defer b.Close()

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", input, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", input, err)
	}

	// cancelling the writer's context aborts the upload
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := b.NewWriter(wctx, key, &blob.WriterOptions{
		BufferSize:     partSizeBytes(info.Size()),
		MaxConcurrency: maxConcurrency,
		ContentType:    "application/vnd.sqlite3",
	})
	if err != nil {
		return fmt.Errorf("failed to obtain writer: %w", err)
	}

	progress := getProgressWriter().NewBytesProgress(info.Size(), "uploading")
	_, err = io.Copy(io.MultiWriter(w, progress), f)
	progress.Close()
	if err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	logger.Info("uploaded", zap.String("input", input), zap.String("bucket", bucketURL), zap.String("key", key),
		zap.Int64("bytes", info.Size()))
	return nil
}
