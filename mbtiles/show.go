package mbtiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
)

// Info summarizes a store.
type Info struct {
	Path     string       `json:"path"`
	Size     int64        `json:"size,omitempty"`
	Metadata Metadata     `json:"metadata"`
	Tiles    int64        `json:"tiles"`
	Zooms    []ZoomExtent `json:"zooms"`
	Indexed  bool         `json:"indexed"`
	// Bounds per heuristic; nil for an empty store.
	Loose     *BBox       `json:"loose,omitempty"`
	Inner     *BBox       `json:"inner,omitempty"`
	Strictest *BBox       `json:"strictest,omitempty"`
	Sample    PayloadInfo `json:"sample"`
}

// ReadInfo collects the metadata, per-zoom extents and the bounds under
// every heuristic.
func ReadInfo(src Source) (Info, error) {
	if err := CheckSchema(src); err != nil {
		return Info{}, err
	}
	info := Info{Path: src.String()}
	if src.path != "" {
		st, err := os.Stat(src.path)
		if err != nil {
			return Info{}, fmt.Errorf("failed to stat %s: %w", src.path, err)
		}
		info.Size = st.Size()
	}
	err := src.with(readOnly, func(conn *sqlite.Conn) error {
		var err error
		if info.Metadata, err = readMetadata(conn); err != nil {
			return err
		}
		if info.Zooms, err = zoomExtents(conn); err != nil {
			return err
		}
		for _, e := range info.Zooms {
			info.Tiles += e.Count
		}
		if info.Indexed, err = hasUniqueIndex(conn, "tiles", tileKeyColumns); err != nil {
			return err
		}
		if len(info.Zooms) == 0 {
			return nil
		}
		for h, dst := range map[Heuristic]**BBox{Loose: &info.Loose, Inner: &info.Inner, Strictest: &info.Strictest} {
			b, err := computeBounds(conn, src.String(), h)
			var disjoint *DisjointBoxError
			if errors.As(err, &disjoint) {
				// zooms with disjoint coverage have no common extent
				continue
			}
			if err != nil {
				return err
			}
			*dst = &b
		}
		first := info.Zooms[0]
		data, found, err := getTile(conn, first.Zoom, first.MinCol, first.MinRow, SouthOrigin)
		if err != nil {
			return err
		}
		if !found {
			err = execute(conn, firstTileSQL, func(stmt *sqlite.Stmt) error {
				data, found, err = getTile(conn, first.Zoom, uint32(stmt.ColumnInt64(0)), uint32(stmt.ColumnInt64(1)), SouthOrigin)
				return err
			}, int64(first.Zoom))
			if err != nil {
				return err
			}
		}
		info.Sample = PeekFormat(data)
		return nil
	})
	if err != nil {
		return Info{}, fmt.Errorf("failed to inspect %s: %w", src, err)
	}
	return info, nil
}

// ShowOptions tunes Show.
type ShowOptions struct {
	JSON     bool
	PerZoom  bool
	Metadata bool
}

func formatBounds(b *BBox) string {
	if b == nil {
		return "none"
	}
	return b.String()
}

// Show writes a human-readable or JSON summary of the store at path.
func Show(logger *zap.Logger, w io.Writer, path string, opts ShowOptions) error {
	info, err := ReadInfo(FromPath(path))
	if err != nil {
		return err
	}
	logger.Debug("read store info", zap.String("path", path), zap.Int64("tiles", info.Tiles))
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(w, "path: %s\n", info.Path)
	fmt.Fprintf(w, "total size: %s\n", humanize.Bytes(uint64(info.Size)))
	fmt.Fprintf(w, "name: %s\n", info.Metadata[MetaName])
	fmt.Fprintf(w, "format: %s\n", info.Metadata[MetaFormat])
	fmt.Fprintf(w, "sample tile: %s\n", info.Sample)
	fmt.Fprintf(w, "tiles: %s\n", humanize.Comma(info.Tiles))
	fmt.Fprintf(w, "unique index: %t\n", info.Indexed)
	if len(info.Zooms) > 0 {
		fmt.Fprintf(w, "zooms: %d-%d\n", info.Zooms[0].Zoom, info.Zooms[len(info.Zooms)-1].Zoom)
	}
	fmt.Fprintf(w, "bounds (metadata): %s\n", info.Metadata[MetaBounds])
	fmt.Fprintf(w, "bounds (loose): %s\n", formatBounds(info.Loose))
	fmt.Fprintf(w, "bounds (inner): %s\n", formatBounds(info.Inner))
	fmt.Fprintf(w, "bounds (strictest): %s\n", formatBounds(info.Strictest))
	fmt.Fprintf(w, "center: %s\n", info.Metadata[MetaCenter])

	if opts.PerZoom && len(info.Zooms) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "zoom\ttiles\tcolumns\trows (tms)\tfill")
		for _, e := range info.Zooms {
			area := float64(e.MaxCol-e.MinCol+1) * float64(e.MaxRow-e.MinRow+1)
			fmt.Fprintf(tw, "%d\t%s\t%d-%d\t%d-%d\t%.1f%%\n", e.Zoom, humanize.Comma(e.Count),
				e.MinCol, e.MaxCol, e.MinRow, e.MaxRow, 100*float64(e.Count)/area)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if opts.Metadata {
		for _, k := range info.Metadata.Keys() {
			fmt.Fprintf(w, "%s: %s\n", k, info.Metadata[k])
		}
	}
	return nil
}

// ShowTile writes the payload of one tile to w.
func ShowTile(logger *zap.Logger, w io.Writer, path string, z uint8, x uint32, y uint32, origin Origin) error {
	data, found, err := GetTile(FromPath(path), z, x, y, origin)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("tile %d/%d/%d (%s) not found in %s", z, x, y, origin, path)
	}
	logger.Debug("read tile", zap.String("path", path), zap.Stringer("payload", PeekFormat(data)),
		zap.Int("bytes", len(data)))
	_, err = w.Write(data)
	return err
}
