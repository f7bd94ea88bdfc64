package mbtiles

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// PayloadInfo describes a tile payload. It is for display only; nothing in
// the store depends on payload contents.
type PayloadInfo struct {
	Format string
	Width  int
	Height int
}

func (p PayloadInfo) String() string {
	if p.Width == 0 {
		return p.Format
	}
	return fmt.Sprintf("%s %dx%d", p.Format, p.Width, p.Height)
}

// PeekFormat sniffs the format of a payload: a raster format with its
// dimensions, gzip (usually a compressed vector tile) or unknown.
func PeekFormat(data []byte) PayloadInfo {
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return PayloadInfo{Format: format, Width: cfg.Width, Height: cfg.Height}
	}
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return PayloadInfo{Format: "gzip"}
	}
	return PayloadInfo{Format: "unknown"}
}
