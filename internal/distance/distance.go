// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package distance calculates great-circle distances on a spherical earth model.
package distance

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"

	"github.com/wneessen/waybar-geofence/internal/geofence"
)

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371000.0

// ErrInvalidCoordinate is returned for coordinates outside the valid latitude/longitude range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Calculator implements geofence.DistanceCalculator on top of the s2 geometry library.
type Calculator struct{}

// New returns a Calculator.
func New() *Calculator {
	return &Calculator{}
}

// DistanceBetween returns the great-circle distance in meters between a and b.
func (c *Calculator) DistanceBetween(a, b geofence.Coordinate) (float64, error) {
	from, err := latLng(a)
	if err != nil {
		return 0, err
	}
	to, err := latLng(b)
	if err != nil {
		return 0, err
	}
	return from.Distance(to).Radians() * EarthRadius, nil
}

// Meters returns the great-circle distance in meters between two latitude/longitude pairs. Invalid input
// yields +Inf, so callers comparing against a threshold always treat it as significant.
func Meters(lat1, lon1, lat2, lon2 float64) float64 {
	dist, err := New().DistanceBetween(geofence.Coordinate{Lat: lat1, Lon: lon1},
		geofence.Coordinate{Lat: lat2, Lon: lon2})
	if err != nil {
		return math.Inf(1)
	}
	return dist
}

func latLng(coord geofence.Coordinate) (s2.LatLng, error) {
	if math.IsNaN(coord.Lat) || math.IsNaN(coord.Lon) || !coord.Valid() {
		return s2.LatLng{}, fmt.Errorf("%w: %s", ErrInvalidCoordinate, coord)
	}
	ll := s2.LatLngFromDegrees(coord.Lat, coord.Lon)
	if !ll.IsValid() {
		return s2.LatLng{}, fmt.Errorf("%w: %s", ErrInvalidCoordinate, coord)
	}
	return ll, nil
}
