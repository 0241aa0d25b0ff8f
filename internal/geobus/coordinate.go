// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"github.com/wneessen/waybar-geofence/internal/distance"
)

const (
	// DefaultDistanceThreshold is the minimum movement in meters that is broadcast to subscribers.
	DefaultDistanceThreshold = 10.0
	AccuracyThreshold        = 50.0
)

// Coordinate represents a geographic coordinate with its horizontal accuracy in meters.
type Coordinate struct {
	Lat float64
	Lon float64
	Acc float64
}

// PosHasSignificantChange checks if the position differs from another by more than threshold meters.
func (c Coordinate) PosHasSignificantChange(other Coordinate, threshold float64) bool {
	// Higher accuracy always trumps the distance threshold.
	if c.Acc < other.Acc && other.Acc-c.Acc > AccuracyThreshold {
		return true
	}
	return distance.Meters(c.Lat, c.Lon, other.Lat, other.Lon) > threshold
}

// Valid checks if the coordinate is valid according to the EPSG logic
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
