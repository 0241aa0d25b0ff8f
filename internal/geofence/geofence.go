// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geofence evaluates a stream of location fixes against a single circular fence and raises
// edge-triggered events whenever the device crosses the fence boundary.
package geofence

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrListenerStart is returned by Initialize when the location listener could not begin listening.
	ErrListenerStart = errors.New("location listener failed to start")

	// ErrDistanceCalculation is returned by LocationChanged when the distance to the fence center could
	// not be calculated. The fix is considered unprocessed.
	ErrDistanceCalculation = errors.New("distance calculation failed")

	// ErrDisposed is returned by Initialize once the service has been disposed.
	ErrDisposed = errors.New("geofence service has been disposed")

	// ErrInvalidFence is returned when a fence has an invalid center or radius.
	ErrInvalidFence = errors.New("invalid fence")
)

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies within the EPSG:4326 value ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// String implements fmt.Stringer.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Fix is a single reported device location. A zero Timestamp means the source did not provide one.
type Fix struct {
	Coordinate Coordinate
	Timestamp  time.Time
}

// NewFix returns a Fix for the given coordinates and timestamp.
func NewFix(lat, lon float64, ts time.Time) Fix {
	return Fix{Coordinate: Coordinate{Lat: lat, Lon: lon}, Timestamp: ts}
}

// Fence is a circular boundary around Center. Radius is given in meters.
type Fence struct {
	Name   string
	Center Coordinate
	Radius float64
}

// Validate checks that the fence center is a valid coordinate and the radius is a non-negative number.
func (f Fence) Validate() error {
	if !f.Center.Valid() {
		return fmt.Errorf("%w: center %s is out of range", ErrInvalidFence, f.Center)
	}
	if math.IsNaN(f.Radius) || math.IsInf(f.Radius, 0) || f.Radius < 0 {
		return fmt.Errorf("%w: radius %f must be a finite, non-negative number", ErrInvalidFence, f.Radius)
	}
	return nil
}

// Membership classifies the current location relative to the fence.
type Membership int

const (
	MembershipUnknown Membership = iota
	MembershipInside
	MembershipOutside
)

// String implements fmt.Stringer.
func (m Membership) String() string {
	switch m {
	case MembershipInside:
		return "inside"
	case MembershipOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// classify maps a distance to the fence center onto a membership. The boundary itself counts as inside.
func classify(distance, radius float64) Membership {
	if distance <= radius {
		return MembershipInside
	}
	return MembershipOutside
}

// EventType identifies the kind of boundary crossing.
type EventType string

const (
	InsideFence  EventType = "inside_fence"
	OutsideFence EventType = "outside_fence"
)

// eventFor returns the event type that announces a change to the given membership.
func eventFor(m Membership) EventType {
	if m == MembershipInside {
		return InsideFence
	}
	return OutsideFence
}

// Event describes a single membership transition.
type Event struct {
	Type     EventType
	Previous Membership
	Fix      Fix
	Distance float64
	Fence    Fence
	At       time.Time
}

// Membership returns the membership the event transitioned into.
func (e Event) Membership() Membership {
	if e.Type == InsideFence {
		return MembershipInside
	}
	return MembershipOutside
}

// LocationSettings is handed through to the LocationListener unchanged. The service does not interpret it.
type LocationSettings struct {
	// Key selects the location stream the listener should follow.
	Key string
	// DesiredAccuracy is the worst accepted horizontal accuracy in meters. 0 accepts everything.
	DesiredAccuracy float64
}

// DistanceCalculator returns the distance in meters between two coordinates. Implementations must be
// pure and return an error for coordinates they cannot handle.
type DistanceCalculator interface {
	DistanceBetween(a, b Coordinate) (float64, error)
}

// FixHandler receives batches of fixes from a LocationListener.
type FixHandler func(fixes []Fix) error

// LocationListener is a source of asynchronously delivered location fixes.
type LocationListener interface {
	StartListening(settings LocationSettings) error
	StopListening() error
	Subscribe(handler FixHandler) (unsubscribe func())
}

// EventHandler is called for every membership transition.
type EventHandler func(Event)

// Outcomes reported to a Recorder for each Initialize call.
const (
	OutcomeInside   = "inside"
	OutcomeOutside  = "outside"
	OutcomeTimeout  = "timeout"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeDisposed = "disposed"
)

// Recorder receives diagnostics from the service. All methods must be safe for concurrent use.
type Recorder interface {
	FixProcessed(membership Membership, distance float64)
	Transition(event EventType)
	DistanceFailure()
	InitializeOutcome(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) FixProcessed(Membership, float64) {}
func (nopRecorder) Transition(EventType)             {}
func (nopRecorder) DistanceFailure()                 {}
func (nopRecorder) InitializeOutcome(string)         {}
