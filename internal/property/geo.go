package property

import (
	"errors"
	"fmt"
	"math"
)

// earthRadiusKm is the mean Earth radius.
const earthRadiusKm = 6371.0088

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks that p lies within the valid coordinate ranges.
func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 || math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return fmt.Errorf("coordinate (%g, %g) out of range", p.Lat, p.Lng)
	}
	return nil
}

// BBox is an axis-aligned latitude/longitude rectangle. Boxes crossing the
// antimeridian are not supported.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Validate checks corner order and ranges.
func (b BBox) Validate() error {
	if err := (GeoPoint{b.MinLat, b.MinLng}).Validate(); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if err := (GeoPoint{b.MaxLat, b.MaxLng}).Validate(); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return errors.New("bbox: min corner must be south-west of max corner")
	}
	return nil
}

// Contains reports whether p lies inside b, edges included.
func (b BBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Around returns the smallest box containing every point within radiusKm of
// center. Used to prefilter before the exact haversine test.
func Around(center GeoPoint, radiusKm float64) BBox {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	cos := math.Cos(center.Lat * math.Pi / 180)
	dLng := 180.0
	if cos > 1e-9 {
		dLng = min(dLat/cos, 180)
	}
	return BBox{
		MinLat: max(center.Lat-dLat, -90),
		MaxLat: min(center.Lat+dLat, 90),
		MinLng: max(center.Lng-dLng, -180),
		MaxLng: min(center.Lng+dLng, 180),
	}
}

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b GeoPoint) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
