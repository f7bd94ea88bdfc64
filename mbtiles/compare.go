package mbtiles

import (
	"cmp"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Comparison is the tile-level difference between two stores. The sets hold
// tiles up to MaxTileSetZoom, rows south-origin; the counts cover every zoom.
type Comparison struct {
	OnlyA   *TileSet
	OnlyB   *TileSet
	Changed *TileSet

	Common       int64
	OnlyACount   int64
	OnlyBCount   int64
	ChangedCount int64
}

// Identical reports whether both stores hold the same tiles with the same
// payloads.
func (c *Comparison) Identical() bool {
	return c.OnlyACount == 0 && c.OnlyBCount == 0 && c.ChangedCount == 0
}

func (c *Comparison) String() string {
	return fmt.Sprintf("common %d (changed %d), only in a %d, only in b %d",
		c.Common, c.ChangedCount, c.OnlyACount, c.OnlyBCount)
}

func compareKeys(a Tile, b Tile) int {
	if c := cmp.Compare(a.Zoom, b.Zoom); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Column, b.Column); c != 0 {
		return c
	}
	return cmp.Compare(a.Row, b.Row)
}

func addBounded(set *TileSet, t Tile) {
	if t.Zoom <= MaxTileSetZoom {
		set.Add(t.Zoom, t.Column, t.Row)
	}
}

// Compare walks both stores in key order and classifies every tile. Payloads
// of common tiles are compared by xxhash digest.
func Compare(logger *zap.Logger, a Source, b Source, zooms *ZoomRange) (*Comparison, error) {
	na, err := Count(a, zooms)
	if err != nil {
		return nil, err
	}
	nb, err := Count(b, zooms)
	if err != nil {
		return nil, err
	}
	ia, err := Iterate(a, IterateOptions{Zooms: zooms})
	if err != nil {
		return nil, err
	}
	defer ia.Close()
	ib, err := Iterate(b, IterateOptions{Zooms: zooms})
	if err != nil {
		return nil, err
	}
	defer ib.Close()

	progress := getProgressWriter().NewCountProgress(na+nb, "comparing")
	defer progress.Close()

	c := &Comparison{OnlyA: NewTileSet(), OnlyB: NewTileSet(), Changed: NewTileSet()}
	hasA, hasB := ia.Next(), ib.Next()
	for hasA || hasB {
		switch {
		case !hasB || (hasA && compareKeys(ia.Tile(), ib.Tile()) < 0):
			c.OnlyACount++
			addBounded(c.OnlyA, ia.Tile())
			hasA = ia.Next()
			progress.Add(1)
		case !hasA || compareKeys(ia.Tile(), ib.Tile()) > 0:
			c.OnlyBCount++
			addBounded(c.OnlyB, ib.Tile())
			hasB = ib.Next()
			progress.Add(1)
		default:
			c.Common++
			if xxhash.Sum64(ia.Tile().Data) != xxhash.Sum64(ib.Tile().Data) {
				c.ChangedCount++
				addBounded(c.Changed, ia.Tile())
			}
			hasA, hasB = ia.Next(), ib.Next()
			progress.Add(2)
		}
	}
	if err := ia.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a, err)
	}
	if err := ib.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b, err)
	}
	logger.Info("compared stores", zap.Stringer("a", a), zap.Stringer("b", b), zap.Stringer("result", c))
	return c, nil
}
