package mbtiles

import (
	"encoding/json"
)

const metaJSON = "json"

var formatExtensions = map[string]string{
	"pbf":  "pbf",
	"mvt":  "pbf",
	"png":  "png",
	"jpg":  "jpg",
	"jpeg": "jpg",
	"webp": "webp",
}

var formatContentTypes = map[string]string{
	"pbf":  "application/x-protobuf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"webp": "image/webp",
}

// tileExtension maps the format metadata value to a URL extension.
func tileExtension(format string) string {
	if ext, ok := formatExtensions[format]; ok {
		return ext
	}
	return format
}

// CreateTileJSON builds a TileJSON 3.0.0 document for a store served at
// tileURL.
func CreateTileJSON(meta Metadata, tileURL string) ([]byte, error) {
	tilejson := map[string]any{
		"tilejson": "3.0.0",
		"scheme":   "xyz",
		"tiles":    []string{tileURL + "/{z}/{x}/{y}." + tileExtension(meta[MetaFormat])},
	}
	for _, k := range []string{MetaName, MetaDescription, MetaAttribution, "version"} {
		if v, ok := meta[k]; ok {
			tilejson[k] = v
		}
	}
	if b, ok := meta.Bounds(); ok {
		tilejson["bounds"] = []float64{b.West, b.South, b.East, b.North}
	}
	if c, err := ParseCenter(meta[MetaCenter]); err == nil {
		tilejson["center"] = []any{c.Lng, c.Lat, c.Zoom}
	}
	if zr, ok := meta.ZoomRange(); ok {
		tilejson["minzoom"] = zr.Min
		tilejson["maxzoom"] = zr.Max
	}
	// vector stores describe their layers in a JSON blob under the json key
	if raw, ok := meta[metaJSON]; ok {
		var layers struct {
			VectorLayers json.RawMessage `json:"vector_layers"`
		}
		if err := json.Unmarshal([]byte(raw), &layers); err == nil && layers.VectorLayers != nil {
			tilejson["vector_layers"] = layers.VectorLayers
		}
	}
	return json.Marshal(tilejson)
}
