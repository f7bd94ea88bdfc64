package mbtiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// MergeOptions tunes Merge.
type MergeOptions struct {
	// Name and Description replace the generated display metadata of a
	// newly created destination.
	Name        string
	Description string
	// BBox and Zooms restrict what is taken from every source.
	BBox  *BBox
	Zooms *ZoomRange
	// Overwrite removes an existing destination instead of merging into it.
	Overwrite bool
	// ScratchDir holds the temporary crops of sources; "" is the system
	// temporary directory.
	ScratchDir string
}

func (o MergeOptions) crops() bool {
	return o.BBox != nil || o.Zooms != nil
}

func (o MergeOptions) cropBox() BBox {
	if o.BBox != nil {
		return *o.BBox
	}
	return BBox{West: -180, South: -MaxLatitude, East: 180, North: MaxLatitude}
}

const (
	attachSourceSQL     = `ATTACH DATABASE ? AS source`
	detachSourceSQL     = `DETACH DATABASE source`
	upsertFromSourceSQL = `INSERT INTO main.tiles (zoom_level, tile_column, tile_row, tile_data)
		SELECT zoom_level, tile_column, tile_row, tile_data FROM source.tiles WHERE true
		ON CONFLICT (zoom_level, tile_column, tile_row) DO UPDATE SET tile_data = excluded.tile_data`
)

type mergeState int

const (
	mergeInit mergeState = iota
	mergePrepared
	mergePerSource
	mergeRecompute
	mergeFinalize
	mergeDone
)

var mergeStateNames = [...]string{"init", "prepared", "per-source", "recompute", "finalize", "done"}

func (s mergeState) String() string {
	return mergeStateNames[s]
}

type merger struct {
	logger    *zap.Logger
	dest      string
	opts      MergeOptions
	state     mergeState
	conn      *sqlite.Conn
	created   bool
	format    string
	preserved Metadata
	log       strings.Builder
}

func (m *merger) enter(s mergeState) {
	m.state = s
	m.logger.Debug("merge state", zap.String("dest", m.dest), zap.Stringer("state", s))
}

// Merge combines sources into dest, in order, a later source winning over
// an earlier one for tiles and metadata they share. When dest does not
// exist it is created from the first source. Each source is merged in its
// own savepoint: a failure leaves dest holding every source merged before
// it. Bounds and center are then recomputed with the Loose heuristic, and a
// newly created dest gets its name and a description listing the merged
// files.
func Merge(logger *zap.Logger, dest string, sources []string, opts MergeOptions) (err error) {
	m := &merger{logger: logger, dest: dest, opts: opts}
	m.enter(mergeInit)
	if len(sources) == 0 {
		return errors.New("no sources to merge")
	}
	for _, s := range sources {
		if filepath.Clean(s) == filepath.Clean(dest) {
			return fmt.Errorf("source %s is the merge destination", s)
		}
		if err := CheckSchema(FromPath(s)); err != nil {
			return err
		}
	}

	remaining, err := m.prepare(sources)
	if err != nil {
		return err
	}
	conn, err := openConn(dest, readWrite)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dest, closeErr)
		}
	}()
	m.conn = conn
	if err := m.inspectDestination(); err != nil {
		return err
	}

	m.enter(mergePerSource)
	progress := getProgressWriter().NewCountProgress(int64(len(remaining)), "merging")
	for _, s := range remaining {
		if err := m.mergeSource(s); err != nil {
			progress.Close()
			return err
		}
		progress.Add(1)
	}
	progress.Close()

	m.enter(mergeRecompute)
	if err := m.recompute(); err != nil {
		return err
	}
	m.enter(mergeFinalize)
	if err := m.finalize(); err != nil {
		return err
	}
	m.enter(mergeDone)
	return nil
}

// prepare materializes a missing destination from the first source and
// returns the sources left to merge.
func (m *merger) prepare(sources []string) ([]string, error) {
	if m.opts.Overwrite {
		if err := PrepareDestination(m.logger, m.dest, OverwriteExisting); err != nil {
			return nil, err
		}
	}
	exists, err := fileExists(m.dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", m.dest, err)
	}
	if exists {
		m.enter(mergePrepared)
		return sources, nil
	}
	first := sources[0]
	if m.opts.crops() {
		if _, err := CropToBBox(m.logger, FromPath(first), FromPath(m.dest), m.opts.cropBox(), m.opts.Zooms); err != nil {
			return nil, err
		}
	} else if err := copyStore(first, m.dest); err != nil {
		return nil, err
	}
	m.created = true
	m.logger.Info("created destination", zap.String("dest", m.dest), zap.String("from", first))
	m.enter(mergePrepared)
	return sources[1:], nil
}

func (m *merger) inspectDestination() error {
	removed, err := ensureUniqueIndex(m.conn, m.dest)
	if err != nil {
		return err
	}
	if removed > 0 {
		m.logger.Info("removed duplicate tiles", zap.String("dest", m.dest), zap.Int64("count", removed))
	}
	meta, err := readMetadata(m.conn)
	if err != nil {
		return fmt.Errorf("failed to read metadata of %s: %w", m.dest, err)
	}
	m.format = meta[MetaFormat]
	fmt.Fprintf(&m.log, "Merge of the following files:\n* %s : %s\n", meta[MetaName], meta[MetaDescription])
	if !m.created {
		m.preserved = meta
	}
	return nil
}

func (m *merger) mergeSource(path string) (err error) {
	effective := path
	if m.opts.crops() {
		scratch, cleanup, err := m.cropToScratch(path)
		if err != nil {
			return err
		}
		defer cleanup()
		effective = scratch
	}
	meta, err := ReadMetadata(FromPath(effective))
	if err != nil {
		return err
	}
	if f := meta[MetaFormat]; f != "" && m.format != "" && f != m.format {
		m.logger.Warn("tile formats differ", zap.String("source", path), zap.String("format", f),
			zap.String("dest_format", m.format))
	}

	if err := sqlitex.ExecuteTransient(m.conn, attachSourceSQL, &sqlitex.ExecOptions{Args: []any{effective}}); err != nil {
		return fmt.Errorf("failed to attach %s: %w", path, err)
	}
	defer func() {
		if detachErr := sqlitex.ExecuteTransient(m.conn, detachSourceSQL, nil); detachErr != nil && err == nil {
			err = fmt.Errorf("failed to detach %s: %w", path, detachErr)
		}
	}()

	n, err := m.upsertSource(meta)
	if err != nil {
		return fmt.Errorf("failed to merge %s into %s: %w", path, m.dest, err)
	}
	fmt.Fprintf(&m.log, "* %s : %s\n", meta[MetaName], meta[MetaDescription])
	m.logger.Info("merged source", zap.String("source", path), zap.String("dest", m.dest), zap.Int64("tiles", n))
	return nil
}

// upsertSource copies the tiles and metadata of the attached source in one
// savepoint.
func (m *merger) upsertSource(meta Metadata) (n int64, err error) {
	defer sqlitex.Save(m.conn)(&err)
	if err = sqlitex.ExecuteTransient(m.conn, upsertFromSourceSQL, nil); err != nil {
		return 0, err
	}
	n = int64(m.conn.Changes())
	updates := make(Metadata)
	for k, v := range meta {
		if k == MetaName || k == MetaDescription || isDerivedKey(k) {
			continue
		}
		if _, ok := m.preserved[k]; ok {
			continue
		}
		updates[k] = v
	}
	if err = writeMetadata(m.conn, updates); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *merger) cropToScratch(path string) (string, func(), error) {
	f, err := os.CreateTemp(m.opts.ScratchDir, "eslope-crop-*.mbtiles")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch store: %w", err)
	}
	scratch := f.Name()
	f.Close()
	cleanup := func() {
		os.Remove(scratch)
		for _, suffix := range sqliteSidecars {
			os.Remove(scratch + suffix)
		}
	}
	if _, err := CropToBBox(m.logger, FromPath(path), FromPath(scratch), m.opts.cropBox(), m.opts.Zooms); err != nil {
		cleanup()
		return "", nil, err
	}
	return scratch, cleanup, nil
}

func (m *merger) recompute() error {
	bounds, err := updateBounds(m.conn, m.dest, Loose)
	var empty *EmptyPyramidError
	if errors.As(err, &empty) {
		m.logger.Warn("merge produced no tiles", zap.String("dest", m.dest))
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Info("updated bounds", zap.String("dest", m.dest), zap.Stringer("bounds", bounds))
	return nil
}

// finalize writes the display metadata of a destination created by this
// merge. A pre-existing destination keeps its own.
func (m *merger) finalize() error {
	if !m.created {
		return nil
	}
	name := m.opts.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(m.dest), filepath.Ext(m.dest))
	}
	description := m.opts.Description
	if description == "" {
		description = m.log.String()
	}
	return writeMetadata(m.conn, Metadata{MetaName: name, MetaDescription: description})
}
