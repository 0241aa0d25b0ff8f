// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package listener implements geofence.LocationListener on top of the geobus. Results of all providers
// are merged by the bus and delivered to subscribers as single-fix batches.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

const (
	// DefaultKey is used when the location settings carry no key.
	DefaultKey = "waybar-geofence"
	bufferSize = 32
)

// ErrNoProviders is returned by StartListening when no geolocation provider is configured.
var ErrNoProviders = errors.New("no geolocation providers configured")

type subscriber struct {
	id      uint64
	handler geofence.FixHandler
}

// Listener tracks the configured providers while it is listening. Handlers are called one at a time
// from a single delivery goroutine and must not call StopListening.
type Listener struct {
	bus       *geobus.GeoBus
	providers []geobus.Provider
	logger    *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subLock sync.RWMutex
	subs    []subscriber
	nextSub uint64
}

// New returns a Listener for the given bus and providers.
func New(bus *geobus.GeoBus, providers []geobus.Provider, log *logger.Logger) (*Listener, error) {
	if bus == nil {
		return nil, errors.New("geobus is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Listener{
		bus:       bus,
		providers: providers,
		logger:    log,
	}, nil
}

// StartListening starts tracking all providers for settings.Key. Results less accurate than
// settings.DesiredAccuracy are dropped. Calling it while already listening is a no-op.
func (l *Listener) StartListening(settings geofence.LocationSettings) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	if len(l.providers) == 0 {
		return ErrNoProviders
	}

	key := settings.Key
	if key == "" {
		key = DefaultKey
	}
	ctx, cancel := context.WithCancel(context.Background())
	results, unsub := l.bus.Subscribe(key, bufferSize)
	orchestrator := l.bus.NewOrchestrator(l.providers)

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		orchestrator.Track(ctx, key)
	}()
	go func() {
		defer l.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-results:
				if !ok {
					return
				}
				if settings.DesiredAccuracy > 0 && r.AccuracyMeters > settings.DesiredAccuracy {
					l.logger.Debug("dropping location result below desired accuracy",
						slog.String("source", r.Source), slog.Float64("accuracy", r.AccuracyMeters),
						slog.Float64("desired_accuracy", settings.DesiredAccuracy))
					continue
				}
				l.deliver(r)
			}
		}
	}()

	l.running = true
	l.cancel = cancel
	names := make([]string, 0, len(l.providers))
	for _, p := range l.providers {
		names = append(names, p.Name())
	}
	l.logger.Info("location listener started", slog.String("key", key), slog.Any("providers", names))
	return nil
}

// StopListening stops all providers and waits for the delivery goroutine to return. It is safe to call
// more than once.
func (l *Listener) StopListening() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.cancel()
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("location listener stopped")
	return nil
}

// Subscribe registers a handler for fix batches and returns a function that removes it again.
func (l *Listener) Subscribe(handler geofence.FixHandler) func() {
	if handler == nil {
		return func() {}
	}
	l.subLock.Lock()
	l.nextSub++
	id := l.nextSub
	l.subs = append(l.subs, subscriber{id: id, handler: handler})
	l.subLock.Unlock()

	return func() {
		l.subLock.Lock()
		defer l.subLock.Unlock()
		for i, sub := range l.subs {
			if sub.id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Listening reports whether the listener is currently tracking providers.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) deliver(r geobus.Result) {
	fixes := []geofence.Fix{geofence.NewFix(r.Lat, r.Lon, r.At)}

	l.subLock.RLock()
	subs := make([]subscriber, len(l.subs))
	copy(subs, l.subs)
	l.subLock.RUnlock()

	for _, sub := range subs {
		if err := sub.handler(fixes); err != nil {
			l.logger.Error("failed to process location fix", slog.String("source", r.Source), logger.Err(err))
		}
	}
}
