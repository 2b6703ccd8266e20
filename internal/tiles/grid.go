// Package tiles partitions a geographic bounding box into a row-major grid of
// fixed-size tiles for the collection stage.
package tiles

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Tile is one sub-box of a tiled bounding box. Coordinates are degrees.
type Tile struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Key returns the deterministic ledger key for the tile, derived from its
// bounds. Equal tiles always produce equal keys across runs.
func (t Tile) Key() string {
	return fmt.Sprintf("t_%.4f_%.4f_%.4f_%.4f", t.MinLat, t.MinLon, t.MaxLat, t.MaxLon)
}

// Bounds returns the tile as a go-geom XY bounds (x=lon, y=lat).
func (t Tile) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(t.MinLon, t.MinLat, t.MaxLon, t.MaxLat)
}

// Grid covers bbox with a row-major grid of sizeDeg-edged tiles. The last row
// and column are clamped to the bbox so the union of tiles equals the bbox
// exactly. Tile count is ceil(width/size) * ceil(height/size).
func Grid(bbox *geom.Bounds, sizeDeg float64) ([]Tile, error) {
	if sizeDeg <= 0 {
		return nil, eris.Errorf("tiles: tile size must be positive, got %g", sizeDeg)
	}
	if bbox == nil || bbox.IsEmpty() {
		return nil, eris.New("tiles: empty bounding box")
	}

	minLon, minLat := bbox.Min(0), bbox.Min(1)
	maxLon, maxLat := bbox.Max(0), bbox.Max(1)
	if maxLon <= minLon || maxLat <= minLat {
		return nil, eris.Errorf("tiles: degenerate bounding box (%g,%g)-(%g,%g)", minLat, minLon, maxLat, maxLon)
	}

	cols := int(math.Ceil((maxLon - minLon) / sizeDeg))
	rows := int(math.Ceil((maxLat - minLat) / sizeDeg))

	out := make([]Tile, 0, rows*cols)
	for r := 0; r < rows; r++ {
		south := minLat + float64(r)*sizeDeg
		north := math.Min(south+sizeDeg, maxLat)
		for c := 0; c < cols; c++ {
			west := minLon + float64(c)*sizeDeg
			east := math.Min(west+sizeDeg, maxLon)
			out = append(out, Tile{MinLat: south, MinLon: west, MaxLat: north, MaxLon: east})
		}
	}
	return out, nil
}
