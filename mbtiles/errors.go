package mbtiles

import "fmt"

// DisjointBoxError is returned when the intersection of two boxes that do
// not overlap is requested.
type DisjointBoxError struct {
	A BBox
	B BBox
}

func (e *DisjointBoxError) Error() string {
	return fmt.Sprintf("boxes %s and %s do not intersect", e.A, e.B)
}

// SchemaMismatchError means a store lacks the tables or columns of the
// MBTiles schema, or cannot be written to as a destination.
type SchemaMismatchError struct {
	Path   string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s is not a usable tile store: %s", e.Path, e.Reason)
}

// DestinationExistsError is returned when an operation that does not
// overwrite targets an existing file.
type DestinationExistsError struct {
	Path string
}

func (e *DestinationExistsError) Error() string {
	return fmt.Sprintf("destination %s already exists", e.Path)
}

// EmptyPyramidError is returned when bounds or center are requested on a
// store without tiles.
type EmptyPyramidError struct {
	Path string
}

func (e *EmptyPyramidError) Error() string {
	return fmt.Sprintf("%s has no tiles", e.Path)
}

// NoOverlapWarning describes a zoom level skipped by a crop because the
// requested window holds no data. It is logged, never returned.
type NoOverlapWarning struct {
	Path string
	Zoom uint8
	BBox BBox
}

func (w *NoOverlapWarning) Error() string {
	return fmt.Sprintf("%s: no tiles at zoom %d within %s", w.Path, w.Zoom, w.BBox)
}
