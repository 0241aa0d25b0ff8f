// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package distance

import (
	"errors"
	"math"
	"testing"

	"github.com/wneessen/waybar-geofence/internal/geofence"
)

func TestCalculator_DistanceBetween(t *testing.T) {
	tests := []struct {
		name      string
		a, b      geofence.Coordinate
		want      float64
		tolerance float64
	}{
		{"identical points", geofence.Coordinate{Lat: 52.52, Lon: 13.405}, geofence.Coordinate{Lat: 52.52, Lon: 13.405}, 0, 0.001},
		{"one degree of longitude on the equator", geofence.Coordinate{}, geofence.Coordinate{Lon: 1}, 111195, 1},
		{"one degree of latitude", geofence.Coordinate{}, geofence.Coordinate{Lat: 1}, 111195, 1},
		{"berlin to paris", geofence.Coordinate{Lat: 52.520008, Lon: 13.404954}, geofence.Coordinate{Lat: 48.856613, Lon: 2.352222}, 877500, 2000},
		{"antipodes", geofence.Coordinate{Lat: 0, Lon: 0}, geofence.Coordinate{Lat: 0, Lon: 180}, math.Pi * EarthRadius, 1},
		{"across the antimeridian", geofence.Coordinate{Lat: 0, Lon: 179.999}, geofence.Coordinate{Lat: 0, Lon: -179.999}, 222.4, 0.5},
	}
	calc := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := calc.DistanceBetween(tc.a, tc.b)
			if err != nil {
				t.Fatalf("failed to calculate distance: %s", err)
			}
			if math.Abs(got-tc.want) > tc.tolerance {
				t.Errorf("expected distance to be %.1f (±%.1f), got %.1f", tc.want, tc.tolerance, got)
			}
		})
	}
	t.Run("distance is symmetric", func(t *testing.T) {
		a := geofence.Coordinate{Lat: 51.5, Lon: -0.12}
		b := geofence.Coordinate{Lat: 40.71, Lon: -74.0}
		ab, err := calc.DistanceBetween(a, b)
		if err != nil {
			t.Fatalf("failed to calculate distance: %s", err)
		}
		ba, err := calc.DistanceBetween(b, a)
		if err != nil {
			t.Fatalf("failed to calculate distance: %s", err)
		}
		if math.Abs(ab-ba) > 0.001 {
			t.Errorf("expected distance to be symmetric, got %f and %f", ab, ba)
		}
	})
	t.Run("invalid coordinates fail", func(t *testing.T) {
		invalid := []geofence.Coordinate{
			{Lat: 90.1, Lon: 0},
			{Lat: -91, Lon: 0},
			{Lat: 0, Lon: 180.5},
			{Lat: math.NaN(), Lon: 0},
			{Lat: 0, Lon: math.Inf(1)},
		}
		for _, coord := range invalid {
			if _, err := calc.DistanceBetween(coord, geofence.Coordinate{}); !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("expected error for %s to be ErrInvalidCoordinate, got %v", coord, err)
			}
			if _, err := calc.DistanceBetween(geofence.Coordinate{}, coord); !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("expected error for %s to be ErrInvalidCoordinate, got %v", coord, err)
			}
		}
	})
}

func TestMeters(t *testing.T) {
	t.Run("valid coordinates", func(t *testing.T) {
		got := Meters(0, 0, 0, 0.001)
		if math.Abs(got-111.2) > 0.1 {
			t.Errorf("expected distance to be 111.2m, got %.2f", got)
		}
	})
	t.Run("invalid coordinates are infinitely far away", func(t *testing.T) {
		if got := Meters(100, 0, 0, 0); !math.IsInf(got, 1) {
			t.Errorf("expected distance to be +Inf, got %f", got)
		}
	})
}
