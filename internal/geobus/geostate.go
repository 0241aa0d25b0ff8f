// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState tracks the last coordinate a provider emitted, so repeated identical readings are
// not streamed again.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether the coordinate differs from the last stored one. A worse accuracy for the
// same position is not considered a change, a significantly better one is.
func (s *GeolocationState) HasChanged(coord Coordinate) bool {
	if !s.haveLast {
		return true
	}
	if coord.Lat != s.last.Lat || coord.Lon != s.last.Lon {
		return true
	}
	return s.last.Acc-coord.Acc > AccuracyThreshold
}

// Update stores the provided coordinate as the last known state.
func (s *GeolocationState) Update(coord Coordinate) {
	s.last = coord
	s.haveLast = true
}
