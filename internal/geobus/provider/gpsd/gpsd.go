// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

const (
	name        = "gpsd"
	DefaultAddr = "localhost:2947"

	fallbackAccuracy3DFix = 10 // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25 // worse than 3D, but still accurate enough
)

// ErrConnectionClosed is returned by the watcher when gpsd ends the stream.
var ErrConnectionClosed = errors.New("gpsd connection closed")

// watchFunc connects to gpsd at addr and calls handle for every TPV report until ctx is done or the
// connection ends.
type watchFunc func(ctx context.Context, addr string, handle func(report interface{})) error

// GeolocationGPSDProvider streams position fixes from a local gpsd daemon.
type GeolocationGPSDProvider struct {
	name    string
	addr    string
	period  time.Duration
	ttl     time.Duration
	logger  *logger.Logger
	watchFn watchFunc
}

// NewGeolocationGPSDProvider returns a provider for the gpsd daemon at addr. An empty addr uses DefaultAddr.
func NewGeolocationGPSDProvider(addr string, log *logger.Logger) *GeolocationGPSDProvider {
	if addr == "" {
		addr = DefaultAddr
	}
	return &GeolocationGPSDProvider{
		name:    name,
		addr:    addr,
		period:  time.Second * 30,
		ttl:     time.Minute * 2,
		logger:  log,
		watchFn: watch,
	}
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// LookupStream connects to gpsd and emits every changed 2D or 3D fix. Lost connections are re-established
// after the provider period.
func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	reports := make(chan *gpsd.TPVReport)

	go func() {
		for {
			err := p.watchFn(ctx, p.addr, func(r interface{}) {
				tpv, ok := r.(*gpsd.TPVReport)
				if !ok {
					return
				}
				select {
				case reports <- tpv:
				case <-ctx.Done():
				}
			})
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("gpsd watch ended, reconnecting", slog.String("addr", p.addr), logger.Err(err),
				slog.Duration("retry_in", p.period))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	go func() {
		defer close(out)
		state := geobus.GeolocationState{}

		for {
			var tpv *gpsd.TPVReport
			select {
			case <-ctx.Done():
				return
			case tpv = <-reports:
			}

			coord, ok := coordinateFromTPV(tpv)
			if !ok {
				continue
			}
			if !state.HasChanged(coord) {
				continue
			}
			state.Update(coord)

			select {
			case <-ctx.Done():
				return
			case out <- p.createResult(key, coord):
			}
		}
	}()

	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationGPSDProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

// coordinateFromTPV converts a TPV report into a coordinate. Reports without at least a 2D fix are
// rejected.
func coordinateFromTPV(tpv *gpsd.TPVReport) (geobus.Coordinate, bool) {
	if tpv == nil || tpv.Mode < gpsd.Mode2D {
		return geobus.Coordinate{}, false
	}
	coord := geobus.Coordinate{Lat: tpv.Lat, Lon: tpv.Lon, Acc: horizontalAccuracy(tpv)}
	if !coord.Valid() {
		return geobus.Coordinate{}, false
	}
	return coord, true
}

func horizontalAccuracy(tpv *gpsd.TPVReport) float64 {
	switch {
	case tpv.Epx > 0 && tpv.Epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(tpv.Epx, tpv.Epy)
	case tpv.Mode >= gpsd.Mode3D:
		return fallbackAccuracy3DFix
	default:
		return fallbackAccuracy2DFix
	}
}

// watch opens a gpsd session and forwards TPV reports until the session or ctx ends. go-gpsd has no
// Close(), the session goroutine ends with the connection.
func watch(ctx context.Context, addr string, handle func(report interface{})) error {
	session, err := gpsd.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", addr, err)
	}
	session.AddFilter("TPV", handle)
	done := session.Watch()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrConnectionClosed
	}
}
