package geo

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the spherical-earth radius every distance in the service is computed with.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is a finite coordinate within the lat/lng ranges
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}

// DistanceKm returns the great-circle distance between a and b.
// Both the feed filter and the route scorer use it.
func DistanceKm(a, b Point) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusKm
}

// Midpoint returns the point halfway along the great circle from a to b
func Midpoint(a, b Point) Point {
	ll := s2.LatLngFromPoint(s2.Interpolate(0.5, s2.PointFromLatLng(a.latLng()), s2.PointFromLatLng(b.latLng())))
	return Point{Lat: ll.Lat.Degrees(), Lng: ll.Lng.Degrees()}
}

// Bounds is a lat/lng rectangle usable as a coarse SQL pre-filter.
// When WrapsAntimeridian is set the longitude range is LngMin..180 plus -180..LngMax.
type Bounds struct {
	LatMin            float64
	LatMax            float64
	LngMin            float64
	LngMax            float64
	WrapsAntimeridian bool
}

// BoundingRect returns the smallest rectangle containing the spherical cap of
// radiusKm around center.
func BoundingRect(center Point, radiusKm float64) Bounds {
	angle := s1.Angle(radiusKm / EarthRadiusKm)
	c := s2.CapFromCenterAngle(s2.PointFromLatLng(center.latLng()), angle)
	rect := c.RectBound()

	b := Bounds{
		LatMin: s1.Angle(rect.Lat.Lo).Degrees(),
		LatMax: s1.Angle(rect.Lat.Hi).Degrees(),
	}
	if rect.Lng.IsFull() {
		b.LngMin, b.LngMax = -180, 180
		return b
	}
	b.LngMin = s1.Angle(rect.Lng.Lo).Degrees()
	b.LngMax = s1.Angle(rect.Lng.Hi).Degrees()
	b.WrapsAntimeridian = rect.Lng.IsInverted()
	return b
}
