package mbtiles

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Recognized metadata keys.
const (
	MetaName        = "name"
	MetaDescription = "description"
	MetaAttribution = "attribution"
	MetaFormat      = "format"
	MetaType        = "type"
	MetaBounds      = "bounds"
	MetaCenter      = "center"
	MetaMinZoom     = "minzoom"
	MetaMaxZoom     = "maxzoom"
)

// derivedKeys are recomputed from the tiles and never copied between stores.
var derivedKeys = []string{MetaBounds, MetaCenter, MetaMinZoom, MetaMaxZoom}

func isDerivedKey(key string) bool {
	return slices.Contains(derivedKeys, key)
}

// Metadata is the key/value content of the metadata table.
type Metadata map[string]string

// Bounds parses the bounds key.
func (m Metadata) Bounds() (BBox, bool) {
	v, ok := m[MetaBounds]
	if !ok {
		return BBox{}, false
	}
	b, err := ParseBBox(v)
	return b, err == nil
}

// ZoomRange parses the minzoom and maxzoom keys.
func (m Metadata) ZoomRange() (ZoomRange, bool) {
	lo, err1 := strconv.ParseUint(m[MetaMinZoom], 10, 8)
	hi, err2 := strconv.ParseUint(m[MetaMaxZoom], 10, 8)
	if err1 != nil || err2 != nil {
		return ZoomRange{}, false
	}
	return ZoomRange{Min: uint8(lo), Max: uint8(hi)}, true
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Center is a point and the zoom at which a viewer should open the pyramid.
type Center struct {
	Lng  float64
	Lat  float64
	Zoom uint8
}

// String formats the center the way the center metadata key stores it.
func (c Center) String() string {
	return formatFloat(c.Lng) + "," + formatFloat(c.Lat) + "," + strconv.Itoa(int(c.Zoom))
}

// ParseCenter reads a "lng,lat,zoom" value.
func ParseCenter(s string) (Center, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Center{}, fmt.Errorf("center %q must have 3 comma-separated values", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Center{}, fmt.Errorf("center %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Center{}, fmt.Errorf("center %q: %w", s, err)
	}
	z, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 8)
	if err != nil {
		return Center{}, fmt.Errorf("center %q: %w", s, err)
	}
	return Center{Lng: lng, Lat: lat, Zoom: uint8(z)}, nil
}

// ReadMetadata returns the whole metadata table. With duplicate names the
// last row wins.
func ReadMetadata(src Source) (Metadata, error) {
	var m Metadata
	err := src.with(readOnly, func(conn *sqlite.Conn) error {
		var err error
		m, err = readMetadata(conn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %s: %w", src, err)
	}
	return m, nil
}

func readMetadata(conn *sqlite.Conn) (Metadata, error) {
	m := make(Metadata)
	err := execute(conn, `SELECT name, value FROM metadata ORDER BY rowid`, func(stmt *sqlite.Stmt) error {
		m[stmt.ColumnText(0)] = stmt.ColumnText(1)
		return nil
	})
	return m, err
}

// WriteMetadata sets the given keys, leaving the others untouched.
func WriteMetadata(src Source, values Metadata) error {
	if len(values) == 0 {
		return nil
	}
	err := src.with(readWrite, func(conn *sqlite.Conn) error {
		return writeMetadata(conn, values)
	})
	if err != nil {
		return fmt.Errorf("failed to write metadata of %s: %w", src, err)
	}
	return nil
}

// writeMetadata updates existing rows and inserts missing ones, so it works
// on metadata tables without a unique index on name.
func writeMetadata(conn *sqlite.Conn, values Metadata) (err error) {
	defer sqlitex.Save(conn)(&err)
	for _, k := range values.Keys() {
		if err = execute(conn, `UPDATE metadata SET value = ? WHERE name = ?`, nil, values[k], k); err != nil {
			return fmt.Errorf("key %s: %w", k, err)
		}
		if conn.Changes() > 0 {
			continue
		}
		if err = execute(conn, `INSERT INTO metadata (name, value) VALUES (?, ?)`, nil, k, values[k]); err != nil {
			return fmt.Errorf("key %s: %w", k, err)
		}
	}
	return nil
}

// DeleteMetadata removes the given keys.
func DeleteMetadata(src Source, keys ...string) error {
	err := src.with(readWrite, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		for _, k := range keys {
			if err = execute(conn, `DELETE FROM metadata WHERE name = ?`, nil, k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete metadata of %s: %w", src, err)
	}
	return nil
}
