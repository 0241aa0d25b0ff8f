// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package trackfile provides a geolocation provider that replays coordinates from a local file. A file
// with a single line acts as a static location, a file with many lines replays a recorded track.
package trackfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geobus"
)

const (
	name = "trackfile"

	// Accuracy is used for lines without an accuracy column. File data is considered the most accurate
	// data available.
	Accuracy = 5
)

var ErrNoCoordinates = errors.New("no valid coordinates found in track file")

// TrackFileProvider emits one coordinate of the track file per period. Once the track is exhausted the
// file is re-read every period: a changed file is replayed from the start, an unchanged one refreshes
// the last position.
type TrackFileProvider struct {
	name   string
	path   string
	period time.Duration
	ttl    time.Duration
	loadFn func() ([]geobus.Coordinate, error)
}

// NewTrackFileProvider returns a provider for the file at path.
func NewTrackFileProvider(path string) *TrackFileProvider {
	provider := &TrackFileProvider{
		name:   name,
		path:   path,
		period: time.Second * 30,
		ttl:    time.Hour * 1,
	}
	provider.loadFn = provider.readFile
	return provider
}

// Name returns the name of the TrackFileProvider instance.
func (p *TrackFileProvider) Name() string {
	return p.name
}

// LookupStream replays the track file until ctx is done.
func (p *TrackFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		var track []geobus.Coordinate
		var last geobus.Coordinate
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			coords, err := p.loadFn()
			if err != nil {
				continue
			}

			// Unchanged file, refresh the last emitted position so it does not expire
			if slices.Equal(coords, track) {
				select {
				case <-ctx.Done():
					return
				case out <- p.createResult(key, last):
				}
				continue
			}
			track = coords

			for i, coord := range track {
				if i > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(p.period):
					}
				}
				last = coord
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
		}
	}()
	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *TrackFileProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

// readFile parses the track file. Every line holds "latitude,longitude" with an optional third accuracy
// column. Empty lines, comments starting with # and lines that do not parse into a valid coordinate are
// skipped.
func (p *TrackFileProvider) readFile() ([]geobus.Coordinate, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read track file %q: %w", p.path, err)
	}
	var coords []geobus.Coordinate
	for _, line := range strings.Split(string(data), "\n") {
		coord, ok := parseLine(line)
		if !ok {
			continue
		}
		coords = append(coords, coord)
	}
	if len(coords) == 0 {
		return nil, ErrNoCoordinates
	}
	return coords, nil
}

func parseLine(line string) (geobus.Coordinate, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return geobus.Coordinate{}, false
	}
	fields := strings.Split(line, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return geobus.Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return geobus.Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return geobus.Coordinate{}, false
	}
	acc := float64(Accuracy)
	if len(fields) == 3 {
		acc, err = strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil || acc <= 0 {
			return geobus.Coordinate{}, false
		}
	}
	coord := geobus.Coordinate{Lat: lat, Lon: lon, Acc: acc}
	if !coord.Valid() {
		return geobus.Coordinate{}, false
	}
	return coord, true
}
