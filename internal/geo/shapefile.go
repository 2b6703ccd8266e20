// Package geo resolves the search area for a collection run, either from a
// comma-separated bounding box or from a shapefile's extent.
package geo

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ParseBounds parses a "minLon,minLat,maxLon,maxLat" string into bounds.
func ParseBounds(s string) (*geom.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("geo: bbox must have 4 comma-separated values, got %d", len(parts))
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: parse bbox value %q", p)
		}
		vals[i] = v
	}

	minLon, minLat, maxLon, maxLat := vals[0], vals[1], vals[2], vals[3]
	if minLon >= maxLon || minLat >= maxLat {
		return nil, eris.Errorf("geo: degenerate bbox %s", s)
	}
	if minLat < -90 || maxLat > 90 || minLon < -180 || maxLon > 180 {
		return nil, eris.Errorf("geo: bbox %s out of range", s)
	}

	return geom.NewBounds(geom.XY).Set(minLon, minLat, maxLon, maxLat), nil
}

// BBoxFromShapefile returns the combined extent of every shape in the file.
// Coordinates are assumed to be lon/lat (EPSG:4326).
func BBoxFromShapefile(path string) (*geom.Bounds, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	bounds := geom.NewBounds(geom.XY)
	var count, skipped int

	for reader.Next() {
		_, shape := reader.Shape()
		if shape == nil {
			skipped++
			continue
		}
		box := shape.BBox()
		bounds.Extend(geom.NewPointFlat(geom.XY, []float64{box.MinX, box.MinY}))
		bounds.Extend(geom.NewPointFlat(geom.XY, []float64{box.MaxX, box.MaxY}))
		count++
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped nil shapes",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if count == 0 || bounds.IsEmpty() {
		return nil, eris.Errorf("geo: shapefile %s contains no usable shapes", path)
	}
	return bounds, nil
}
