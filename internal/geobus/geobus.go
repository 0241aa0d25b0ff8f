// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/waybar-geofence/internal/logger"
)

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
)

// AccuracyUnknown is used by providers that cannot tell how accurate their fix is.
const AccuracyUnknown = 1000000

// Provider defines an interface for geolocation service providers.
// It supports retrieving streamed results for a given key.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context, key string) <-chan Result
}

// GeoBus coordinates the publishing and subscribing of geolocation results between providers and consumers.
type GeoBus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	threshold   float64
	best        map[string]Result
	subscribers map[string]map[chan Result]struct{}
}

// Result represents a geolocation result with associated metadata.
type Result struct {
	Key            string
	Lat, Lon       float64
	Alt            float64
	AccuracyMeters float64
	Source         string
	At             time.Time
	TTL            time.Duration
}

// BetterThan reports whether r is more accurate than prev without being older.
func (r Result) BetterThan(prev Result) bool {
	if prev.Key == "" {
		return true
	}
	if r.At.Before(prev.At) {
		return false
	}
	return r.AccuracyMeters < prev.AccuracyMeters-accuracyEpsilon
}

// IsExpired checks if the Result has exceeded its time-to-live (TTL) based on the current time and the timestamp.
func (r Result) IsExpired() bool {
	return r.TTL > 0 && time.Since(r.At) > r.TTL
}

// Coordinate returns the position part of the result.
func (r Result) Coordinate() Coordinate {
	return Coordinate{Lat: r.Lat, Lon: r.Lon, Acc: r.AccuracyMeters}
}

// Option configures a GeoBus.
type Option func(*GeoBus)

// WithDistanceThreshold sets the minimum movement in meters that is broadcast. Negative values are ignored.
func WithDistanceThreshold(meters float64) Option {
	return func(b *GeoBus) {
		if meters >= 0 {
			b.threshold = meters
		}
	}
}

// New initializes and returns a new instance of GeoBus to handle geolocation result coordination.
func New(logger *logger.Logger, opts ...Option) *GeoBus {
	bus := &GeoBus{
		logger:      logger,
		threshold:   DefaultDistanceThreshold,
		best:        make(map[string]Result),
		subscribers: make(map[string]map[chan Result]struct{}),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

func (b *GeoBus) NewOrchestrator(provider []Provider) *Orchestrator {
	return &Orchestrator{
		Bus:       b,
		Providers: provider,
	}
}

// Subscribe adds a subscriber for updates associated with the given key and buffer size, returning a result
// channel and an unsubscribe function. A non-expired best result is delivered right away.
func (b *GeoBus) Subscribe(key string, size int) (<-chan Result, func()) {
	if size < 1 {
		size = 1
	}
	resultChan := make(chan Result, size)
	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[chan Result]struct{})
	}

	b.subscribers[key][resultChan] = struct{}{}
	if best, ok := b.best[key]; ok && !best.IsExpired() {
		resultChan <- best
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[key]; ok {
				delete(subs, resultChan)
				if len(subs) == 0 {
					delete(b.subscribers, key)
				}
			}
			b.mu.Unlock()
			close(resultChan)
		})
	}

	return resultChan, unsub
}

// Publish offers a result to the bus. The result replaces the current best one if there is none, the
// current one expired, it comes from the same source or it is more accurate. It is broadcast to the
// subscribers only if it moved more than the distance threshold or the best result was replaced by a
// different source.
func (b *GeoBus) Publish(r Result) {
	if r.AccuracyMeters <= 0 {
		return
	}
	if !r.Coordinate().Valid() {
		b.logger.Warn("ignoring geolocation result with invalid coordinates", slog.String("source", r.Source),
			logger.Coordinate(r.Lat, r.Lon))
		return
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev, have := b.best[r.Key]
	switch {
	case !have, prev.IsExpired():
		b.best[r.Key] = r
		b.broadcastResult(r)
	case r.Source == prev.Source:
		b.best[r.Key] = r
		if r.Coordinate().PosHasSignificantChange(prev.Coordinate(), b.threshold) {
			b.broadcastResult(r)
		}
	case r.BetterThan(prev):
		b.best[r.Key] = r
		b.logger.Debug("geolocation source switched", slog.String("from", prev.Source),
			slog.String("to", r.Source), slog.Float64("accuracy", r.AccuracyMeters))
		b.broadcastResult(r)
	}
}

func (b *GeoBus) broadcastResult(r Result) {
	subs, ok := b.subscribers[r.Key]
	if !ok {
		return
	}
	for ch := range subs {
		select {
		case ch <- r:
		default:
			b.logger.Debug("subscriber buffer full, dropping geolocation result", slog.String("key", r.Key))
		}
	}
}

func (b *GeoBus) Best(key string) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.best[key]
	return r, ok && !r.IsExpired()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
