package mbtiles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// DestinationPolicy says what to do with an existing file at a destination
// path.
type DestinationPolicy int

const (
	// FailIfExists returns a *DestinationExistsError.
	FailIfExists DestinationPolicy = iota
	// BackupExisting renames the file with BackupSuffix.
	BackupExisting
	// OverwriteExisting removes the file.
	OverwriteExisting
)

// BackupSuffix is appended to a destination moved out of the way.
const BackupSuffix = ".bak"

// sqliteSidecars are the files SQLite may keep next to a database.
var sqliteSidecars = []string{"-journal", "-wal", "-shm"}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// PrepareDestination makes sure nothing is left at path, applying the
// policy to an existing file.
func PrepareDestination(logger *zap.Logger, path string, policy DestinationPolicy) error {
	exists, err := fileExists(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !exists {
		return nil
	}
	switch policy {
	case BackupExisting:
		backup := path + BackupSuffix
		logger.Info("backing up existing destination", zap.String("path", path), zap.String("backup", backup))
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("failed to back up %s: %w", path, err)
		}
	case OverwriteExisting:
		logger.Info("removing existing destination", zap.String("path", path))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	default:
		return &DestinationExistsError{Path: path}
	}
	for _, suffix := range sqliteSidecars {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path+suffix, err)
		}
	}
	return nil
}
