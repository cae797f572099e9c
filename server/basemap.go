package quakepulse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// BaseMap is land geometry rasterized onto a grid of Cols x Rows cells
// covering the Width x Height map surface
type BaseMap struct {
	Cols, Rows    int
	Width, Height int
	Land          []bool // row-major
}

// IsLand reports whether the cell at (col, row) is land
func (bm *BaseMap) IsLand(col, row int) bool {
	if bm == nil || col < 0 || row < 0 || col >= bm.Cols || row >= bm.Rows {
		return false
	}
	return bm.Land[row*bm.Cols+col]
}

// LandCells counts land cells, mostly for logging
func (bm *BaseMap) LandCells() int {
	if bm == nil {
		return 0
	}
	n := 0
	for _, l := range bm.Land {
		if l {
			n++
		}
	}
	return n
}

// FetchBaseMap loads GeoJSON land polygons from url and rasterizes them.
// An empty or "none" url returns a nil map, the surfaces then draw no land.
func FetchBaseMap(ctx context.Context, url string, m Mercator, width, height, cols, rows int) (*BaseMap, error) {
	if url == "" || url == "none" {
		return nil, nil
	}
	status, body, err := SingleFetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("geometry fetch: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("geometry fetch: status %d", status)
	}
	return ParseBaseMap(body, m, width, height, cols, rows)
}

// ParseBaseMap rasterizes the Polygon and MultiPolygon features of a
// FeatureCollection by testing the center of every cell
func ParseBaseMap(data []byte, m Mercator, width, height, cols, rows int) (*BaseMap, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("invalid base map grid %dx%d", cols, rows)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		slog.Error("Could not decode geometry", slog.Any("Error", err))
		return nil, fmt.Errorf("geometry decode: %w", err)
	}

	var land orb.MultiPolygon
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			land = append(land, g)
		case orb.MultiPolygon:
			land = append(land, g...)
		}
	}

	bm := &BaseMap{
		Cols:   cols,
		Rows:   rows,
		Width:  width,
		Height: height,
		Land:   make([]bool, cols*rows),
	}
	cellW := float64(width) / float64(cols)
	cellH := float64(height) / float64(rows)

	bounds := make([]orb.Bound, len(land))
	for i, poly := range land {
		bounds[i] = poly.Bound()
	}

	for row := range rows {
		for col := range cols {
			lon, lat := m.Invert((float64(col)+0.5)*cellW, (float64(row)+0.5)*cellH)
			pt := orb.Point{lon, lat}
			for i, poly := range land {
				if bounds[i].Contains(pt) && planar.PolygonContains(poly, pt) {
					bm.Land[row*cols+col] = true
					break
				}
			}
		}
	}

	slog.Info("Base map rasterized",
		slog.Int("polygons", len(land)),
		slog.Int("landCells", bm.LandCells()))

	return bm, nil
}
