package mbtiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "gocloud.dev/blob/fileblob"
)

func TestPartSizeBytes(t *testing.T) {
	assert.Equal(t, 5*1024*1024, partSizeBytes(100))
	assert.Equal(t, 6442451, partSizeBytes(60*1024*1024*1024))
}

func TestUploadToFileBucket(t *testing.T) {
	path := makeStore(t, "upload", grid("a", 2, 0, 1, 0, 1), Metadata{MetaName: "upload"})
	bucketDir := t.TempDir()

	err := Upload(context.Background(), zaptest.NewLogger(t), path, fileProtocol()+filepath.ToSlash(bucketDir), "tiles/upload.mbtiles", 1)
	require.NoError(t, err)

	uploaded := filepath.Join(bucketDir, "tiles", "upload.mbtiles")
	want, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := os.ReadFile(uploaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, contents(t, path), contents(t, uploaded))
}

func TestUploadRejectsNonStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))
	err := Upload(context.Background(), zaptest.NewLogger(t), path, fileProtocol()+filepath.ToSlash(t.TempDir()), "x.mbtiles", 1)
	assert.Error(t, err)
}
