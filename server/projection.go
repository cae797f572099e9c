package quakepulse

import "math"

// Projector places a geographic coordinate on the rendering surface
type Projector interface {
	Project(lon, lat float64) (x, y float64, ok bool)
}

// Mercator is the spherical Mercator projection used by the browser map:
// scale (width-1)/2/π, centered horizontally, equator at height/1.5.
type Mercator struct {
	Scale      float64
	TranslateX float64
	TranslateY float64
	MaxLat     float64 // latitudes beyond this are clamped
}

func NewMercator(width, height int) Mercator {
	return Mercator{
		Scale:      (float64(width) - 1) / 2 / math.Pi,
		TranslateX: float64(width) / 2,
		TranslateY: float64(height) / 1.5,
		MaxLat:     85.05112878,
	}
}

// Project returns screen coordinates, y grows downward.
// ok is false for NaN, infinite or out-of-range input.
func (m Mercator) Project(lon, lat float64) (float64, float64, bool) {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return 0, 0, false
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lat = math.Max(-m.MaxLat, math.Min(m.MaxLat, lat))

	lambda := lon * math.Pi / 180
	phi := lat * math.Pi / 180
	x := m.TranslateX + m.Scale*lambda
	y := m.TranslateY - m.Scale*math.Log(math.Tan(math.Pi/4+phi/2))
	return x, y, true
}

// Invert maps screen coordinates back to longitude and latitude
func (m Mercator) Invert(x, y float64) (lon, lat float64) {
	lambda := (x - m.TranslateX) / m.Scale
	phi := 2*math.Atan(math.Exp((m.TranslateY-y)/m.Scale)) - math.Pi/2
	return lambda * 180 / math.Pi, phi * 180 / math.Pi
}
