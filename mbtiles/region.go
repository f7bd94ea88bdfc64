package mbtiles

import (
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// UnmarshalRegion reads the polygons of a GeoJSON FeatureCollection, Feature
// or bare geometry.
func UnmarshalRegion(data []byte) (orb.MultiPolygon, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil {
		var polygons orb.MultiPolygon
		for _, f := range fc.Features {
			switch v := f.Geometry.(type) {
			case orb.Polygon:
				polygons = append(polygons, v)
			case orb.MultiPolygon:
				polygons = append(polygons, v...)
			}
		}
		if len(polygons) > 0 {
			return polygons, nil
		}
	}

	f, err := geojson.UnmarshalFeature(data)
	if err == nil {
		switch v := f.Geometry.(type) {
		case orb.Polygon:
			return orb.MultiPolygon{v}, nil
		case orb.MultiPolygon:
			return v, nil
		}
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	switch v := g.Geometry().(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, nil
	case orb.MultiPolygon:
		return v, nil
	}
	return nil, errors.New("no polygon geometry")
}

// LoadRegion returns the bounding box of the polygons in a GeoJSON file.
// Crops and removals work on boxes, so holes and concavities are ignored.
func LoadRegion(path string) (BBox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BBox{}, fmt.Errorf("failed to read region %s: %w", path, err)
	}
	mp, err := UnmarshalRegion(data)
	if err != nil {
		return BBox{}, fmt.Errorf("failed to parse region %s: %w", path, err)
	}
	b := BBoxFromBound(mp.Bound())
	if !b.Valid() {
		return BBox{}, fmt.Errorf("region %s is degenerate: %s", path, b)
	}
	return b, nil
}
