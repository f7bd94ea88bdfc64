package mbtiles

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// MaxTileSetZoom is the deepest zoom a TileSet can hold: columns and rows
// are packed on 17 bits each.
const MaxTileSetZoom = 17

const indexBits = 17
const indexMask = 1<<indexBits - 1

// EncodeTile packs a tile index as (z<<34)|(x<<17)|y.
func EncodeTile(z uint8, x uint32, y uint32) uint64 {
	return uint64(z)<<(2*indexBits) | uint64(x)<<indexBits | uint64(y)
}

// DecodeTile unpacks a value produced by EncodeTile.
func DecodeTile(id uint64) (uint8, uint32, uint32) {
	y := uint32(id & indexMask)
	x := uint32((id >> indexBits) & indexMask)
	z := uint8(id >> (2 * indexBits))
	return z, x, y
}

// TileSet is a compressed presence index of tile coordinates. It holds no
// payloads and does not depend on an open store.
type TileSet struct {
	bitmap *roaring64.Bitmap
}

func NewTileSet() *TileSet {
	return &TileSet{bitmap: roaring64.New()}
}

func (s *TileSet) Add(z uint8, x uint32, y uint32) {
	s.bitmap.Add(EncodeTile(z, x, y))
}

func (s *TileSet) Contains(z uint8, x uint32, y uint32) bool {
	return s.bitmap.Contains(EncodeTile(z, x, y))
}

func (s *TileSet) Len() uint64 {
	return s.bitmap.GetCardinality()
}

// Union returns the tiles present in s or o.
func (s *TileSet) Union(o *TileSet) *TileSet {
	b := s.bitmap.Clone()
	b.Or(o.bitmap)
	return &TileSet{bitmap: b}
}

// Intersection returns the tiles present in both s and o.
func (s *TileSet) Intersection(o *TileSet) *TileSet {
	b := s.bitmap.Clone()
	b.And(o.bitmap)
	return &TileSet{bitmap: b}
}

// Difference returns the tiles of s missing from o.
func (s *TileSet) Difference(o *TileSet) *TileSet {
	b := s.bitmap.Clone()
	b.AndNot(o.bitmap)
	return &TileSet{bitmap: b}
}

// Each calls fn for every tile in ascending encoded order.
func (s *TileSet) Each(fn func(z uint8, x uint32, y uint32)) {
	it := s.bitmap.Iterator()
	for it.HasNext() {
		fn(DecodeTile(it.Next()))
	}
}

// TileSetFromStore collects the coordinates of a store, rows south-origin.
func TileSetFromStore(src Source, zooms *ZoomRange) (*TileSet, error) {
	set := NewTileSet()
	err := ForEachTile(src, IterateOptions{Zooms: zooms, CoordsOnly: true}, func(t Tile) error {
		if t.Zoom > MaxTileSetZoom {
			return fmt.Errorf("tile %s is deeper than zoom %d", t, MaxTileSetZoom)
		}
		set.Add(t.Zoom, t.Column, t.Row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}
