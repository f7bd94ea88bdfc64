package mbtiles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestPrepareDestinationMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	for _, policy := range []DestinationPolicy{FailIfExists, BackupExisting, OverwriteExisting} {
		assert.NoError(t, PrepareDestination(zaptest.NewLogger(t), path, policy))
	}
}

func TestPrepareDestinationFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	writeFile(t, path, "existing")

	err := PrepareDestination(zaptest.NewLogger(t), path, FailIfExists)
	var exists *DestinationExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, path, exists.Path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestPrepareDestinationBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	writeFile(t, path, "existing")
	writeFile(t, path+"-wal", "wal")

	require.NoError(t, PrepareDestination(zaptest.NewLogger(t), path, BackupExisting))
	data, err := os.ReadFile(path + BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+"-wal")
}

func TestPrepareDestinationOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	writeFile(t, path, "existing")
	writeFile(t, path+"-journal", "journal")

	require.NoError(t, PrepareDestination(zaptest.NewLogger(t), path, OverwriteExisting))
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+"-journal")
	assert.NoFileExists(t, path+BackupSuffix)
}
