package mbtiles

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
)

// WindowForBBox returns the tiles of zoom z covering bbox. The box is shrunk
// by Epsilon first, so a tile whose edge lies on the box boundary from the
// outside is left out while one lying inside it is kept.
func WindowForBBox(z uint8, bbox BBox) Window {
	inner := bbox.Shrink(Epsilon)
	minCol, top := LngLatToTile(z, inner.West, inner.North)
	maxCol, bottom := LngLatToTile(z, inner.East, inner.South)
	return Window{
		Zoom:   z,
		MinCol: minCol,
		MaxCol: maxCol,
		MinRow: FlipRow(z, bottom),
		MaxRow: FlipRow(z, top),
	}
}

// CropToBBox copies the tiles of src lying within bbox, optionally limited
// to a zoom range, into dest, creating dest's schema if needed. Zoom levels
// without tiles in the window are skipped with a warning. Metadata is copied
// and the bounds recomputed. It returns the number of tiles copied.
func CropToBBox(logger *zap.Logger, src Source, dest Source, bbox BBox, zooms *ZoomRange) (int64, error) {
	if !bbox.Valid() {
		return 0, fmt.Errorf("invalid crop box %s", bbox)
	}
	if src.path != "" && src.path == dest.path {
		return 0, fmt.Errorf("cannot crop %s into itself", src)
	}
	if err := CheckSchema(src); err != nil {
		return 0, err
	}
	if err := CreateSchema(dest); err != nil {
		return 0, err
	}

	var copied int64
	err := src.with(readOnly, func(sconn *sqlite.Conn) error {
		return dest.with(readWrite, func(dconn *sqlite.Conn) error {
			var err error
			copied, err = cropConn(logger, sconn, src.String(), dconn, bbox, zoomsOrAll(zooms))
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

func cropConn(logger *zap.Logger, sconn *sqlite.Conn, name string, dconn *sqlite.Conn, bbox BBox, zooms ZoomRange) (int64, error) {
	extents, err := zoomExtents(sconn)
	if err != nil {
		return 0, fmt.Errorf("failed to read zoom extents of %s: %w", name, err)
	}
	var windows []Window
	var total int64
	for z := int(zooms.Min); z <= int(zooms.Max); z++ {
		e, ok := findExtent(extents, uint8(z))
		if !ok {
			if zooms != allZooms {
				logger.Warn("zoom level absent, skipping", zap.String("path", name), zap.Int("zoom", z))
			}
			continue
		}
		w, ok := WindowForBBox(uint8(z), bbox).Clamp(e)
		if !ok {
			logger.Warn("skipping zoom", zap.Error(&NoOverlapWarning{Path: name, Zoom: uint8(z), BBox: bbox}))
			continue
		}
		windows = append(windows, w)
		total += int64(w.MaxCol-w.MinCol+1) * int64(w.MaxRow-w.MinRow+1)
	}

	progress := getProgressWriter().NewCountProgress(total, "cropping")
	defer progress.Close()

	var copied int64
	for _, w := range windows {
		batch := make([]Tile, 0, DefaultBatchSize)
		err := ForEachTile(FromConn(sconn), IterateOptions{Window: &w}, func(t Tile) error {
			batch = append(batch, t)
			if len(batch) < DefaultBatchSize {
				return nil
			}
			if err := upsert(dconn, batch); err != nil {
				return err
			}
			copied += int64(len(batch))
			progress.Add(len(batch))
			batch = batch[:0]
			return nil
		})
		if err == nil {
			err = upsert(dconn, batch)
		}
		if err != nil {
			return copied, fmt.Errorf("failed to crop %s at zoom %d: %w", name, w.Zoom, err)
		}
		copied += int64(len(batch))
		progress.Add(len(batch))
		logger.Debug("cropped zoom", zap.String("path", name), zap.Uint8("zoom", w.Zoom),
			zap.Uint32("min_col", w.MinCol), zap.Uint32("max_col", w.MaxCol),
			zap.Uint32("min_row", w.MinRow), zap.Uint32("max_row", w.MaxRow))
	}

	meta, err := readMetadata(sconn)
	if err != nil {
		return copied, fmt.Errorf("failed to read metadata of %s: %w", name, err)
	}
	for _, k := range derivedKeys {
		delete(meta, k)
	}
	if err := writeMetadata(dconn, meta); err != nil {
		return copied, fmt.Errorf("failed to copy metadata of %s: %w", name, err)
	}
	if copied == 0 {
		logger.Warn("crop produced no tiles", zap.String("path", name), zap.Stringer("bbox", bbox))
		return 0, nil
	}
	if _, err := updateBounds(dconn, "crop of "+name, Loose); err != nil {
		return copied, err
	}
	return copied, nil
}

// RemoveRegion deletes the tiles within bbox from the store. Without a box,
// whole zoom levels are deleted; without a zoom range, every zoom present is
// considered. Unlike CropToBBox the window is not clamped to the existing
// tiles. Bounds are recomputed when tiles remain. Removing from a store
// without tiles does nothing. It returns the number of tiles removed.
func RemoveRegion(logger *zap.Logger, src Source, bbox *BBox, zooms *ZoomRange) (int64, error) {
	if bbox != nil && !bbox.Valid() {
		return 0, fmt.Errorf("invalid region %s", bbox)
	}
	var removed int64
	err := src.with(readWrite, func(conn *sqlite.Conn) error {
		store := FromConn(conn)
		var zr ZoomRange
		if zooms != nil {
			zr = *zooms
		} else {
			extents, err := zoomExtents(conn)
			if err != nil {
				return err
			}
			if len(extents) == 0 {
				logger.Warn("store has no tiles, nothing to remove", zap.String("path", src.String()))
				return nil
			}
			zr = ZoomRange{Min: extents[0].Zoom, Max: extents[len(extents)-1].Zoom}
		}
		if bbox == nil {
			n, err := DeleteZooms(store, zr)
			if err != nil {
				return err
			}
			removed = n
		} else {
			for z := int(zr.Min); z <= int(zr.Max); z++ {
				n, err := DeleteRange(store, WindowForBBox(uint8(z), *bbox))
				if err != nil {
					return err
				}
				removed += n
			}
		}
		logger.Info("removed tiles", zap.String("path", src.String()), zap.Int64("count", removed),
			zap.Stringer("zooms", zr))
		_, err := updateBounds(conn, src.String(), Loose)
		var empty *EmptyPyramidError
		if errors.As(err, &empty) {
			logger.Warn("store is empty after removal", zap.String("path", src.String()))
			return DeleteMetadata(store, derivedKeys...)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove tiles from %s: %w", src, err)
	}
	return removed, nil
}
