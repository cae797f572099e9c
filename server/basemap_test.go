package quakepulse_test

import (
	"context"
	"testing"

	Qs "github.com/maroda/quakepulse/server"
)

// One western square with a hole, one small northeastern island
const landBody = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "west"},
     "geometry": {"type": "Polygon", "coordinates": [
       [[-180, -60], [0, -60], [0, 60], [-180, 60], [-180, -60]],
       [[-90, -30], [-10, -30], [-10, 0], [-90, 0], [-90, -30]]
     ]}},
    {"type": "Feature", "properties": {"name": "islands"},
     "geometry": {"type": "MultiPolygon", "coordinates": [
       [[[100, 60], [170, 60], [170, 80], [100, 80], [100, 60]]]
     ]}},
    {"type": "Feature", "properties": {"name": "point"},
     "geometry": {"type": "Point", "coordinates": [45, 10]}}
  ]
}`

func TestParseBaseMap(t *testing.T) {
	m := Qs.NewMercator(1160, 760)

	// 4x2 grid, cell centers at longitudes -135,-45,45,135
	// and latitudes about 69.6 and -19.3
	bm, err := Qs.ParseBaseMap([]byte(landBody), m, 1160, 760, 4, 2)
	assertError(t, err, nil)

	t.Run("Marks cells inside polygons", func(t *testing.T) {
		assertBool(t, bm.IsLand(0, 1), true)
		assertBool(t, bm.IsLand(3, 0), true)
	})

	t.Run("Leaves holes and sea empty", func(t *testing.T) {
		assertBool(t, bm.IsLand(1, 1), false)
		assertBool(t, bm.IsLand(0, 0), false)
		assertBool(t, bm.IsLand(2, 1), false)
	})

	t.Run("Counts land cells", func(t *testing.T) {
		assertInt(t, bm.LandCells(), 2)
	})

	t.Run("Is never land off the grid", func(t *testing.T) {
		assertBool(t, bm.IsLand(-1, 0), false)
		assertBool(t, bm.IsLand(4, 1), false)
	})

	t.Run("Rejects an empty grid", func(t *testing.T) {
		_, err := Qs.ParseBaseMap([]byte(landBody), m, 1160, 760, 0, 2)
		assertGotError(t, err)
	})

	t.Run("Rejects garbage", func(t *testing.T) {
		_, err := Qs.ParseBaseMap([]byte("not geojson"), m, 1160, 760, 4, 2)
		assertGotError(t, err)
	})
}

func TestBaseMap_Nil(t *testing.T) {
	var bm *Qs.BaseMap
	assertBool(t, bm.IsLand(0, 0), false)
	assertInt(t, bm.LandCells(), 0)
}

func TestFetchBaseMap(t *testing.T) {
	m := Qs.NewMercator(1160, 760)

	t.Run("No URL means no map", func(t *testing.T) {
		bm, err := Qs.FetchBaseMap(context.Background(), "", m, 1160, 760, 4, 2)
		assertError(t, err, nil)
		assertBool(t, bm == nil, true)
	})

	t.Run("None switches the map off", func(t *testing.T) {
		bm, err := Qs.FetchBaseMap(context.Background(), "none", m, 1160, 760, 4, 2)
		assertError(t, err, nil)
		assertBool(t, bm == nil, true)
	})

	t.Run("Fetches and rasterizes", func(t *testing.T) {
		server := makeMockWebServBody(0, landBody)
		defer server.Close()

		bm, err := Qs.FetchBaseMap(context.Background(), server.URL, m, 1160, 760, 4, 2)
		assertError(t, err, nil)
		assertInt(t, bm.LandCells(), 2)
	})

	t.Run("An unreachable map is an error", func(t *testing.T) {
		server := makeMockWebServBody(0, landBody)
		url := server.URL
		server.Close()

		_, err := Qs.FetchBaseMap(context.Background(), url, m, 1160, 760, 4, 2)
		assertGotError(t, err)
	})
}
