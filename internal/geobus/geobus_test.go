// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/waybar-geofence/internal/logger"
)

const (
	testKey = "test"
	testLat = 52.516275
	testLon = 13.377704
)

func testBus(opts ...Option) *GeoBus {
	return New(logger.NewLogger(slog.LevelDebug, io.Discard), opts...)
}

func testResult(source string, lat, lon, acc float64) Result {
	return Result{Key: testKey, Lat: lat, Lon: lon, AccuracyMeters: acc, Source: source, At: time.Now()}
}

func TestGeolocationState_HasChanged(t *testing.T) {
	t.Run("empty state always returns true", func(t *testing.T) {
		state := GeolocationState{}
		if !state.HasChanged(Coordinate{Lat: 1, Lon: 1, Acc: 20}) {
			t.Error("expected state to have changed")
		}
	})
	t.Run("same coordinate return false", func(t *testing.T) {
		state := GeolocationState{}
		state.Update(Coordinate{Lat: 1, Lon: 1, Acc: 20})
		if state.HasChanged(Coordinate{Lat: 1, Lon: 1, Acc: 20}) {
			t.Error("expected state to not have changed")
		}
	})
	t.Run("different coordinate return true", func(t *testing.T) {
		tests := []struct {
			name    string
			lat     float64
			lon     float64
			acc     float64
			changed bool
		}{
			{"lat changes", 2, 1, 100, true},
			{"lon changes", 1, 2, 100, true},
			// a worse accuracy is not considered a change
			{"acc gets worse", 1, 1, 500, false},
			{"acc improves slightly", 1, 1, 80, false},
			{"acc improves significantly", 1, 1, 10, true},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				state := GeolocationState{}
				state.Update(Coordinate{Lat: 1, Lon: 1, Acc: 100})
				if state.HasChanged(Coordinate{Lat: tc.lat, Lon: tc.lon, Acc: tc.acc}) != tc.changed {
					t.Error("expected state change to be", tc.changed, "but it wasn't")
				}
			})
		}
	})
}

func TestCoordinate_PosHasSignificantChange(t *testing.T) {
	base := Coordinate{Lat: testLat, Lon: testLon, Acc: 10}
	tests := []struct {
		name    string
		other   Coordinate
		changed bool
	}{
		{"same position", base, false},
		{"moved less than the threshold", Coordinate{Lat: testLat + 0.00005, Lon: testLon, Acc: 10}, false},
		{"moved more than the threshold", Coordinate{Lat: testLat + 0.0005, Lon: testLon, Acc: 10}, true},
		{"same position with much better accuracy", Coordinate{Lat: testLat, Lon: testLon, Acc: 500}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := base.PosHasSignificantChange(tc.other, DefaultDistanceThreshold); got != tc.changed {
				t.Errorf("expected significant change to be %t, got %t", tc.changed, got)
			}
		})
	}
}

func TestResult_BetterThan(t *testing.T) {
	now := time.Now()
	prev := Result{Key: testKey, AccuracyMeters: 100, At: now}
	tests := []struct {
		name   string
		result Result
		prev   Result
		better bool
	}{
		{"anything is better than nothing", Result{AccuracyMeters: 1000, At: now}, Result{}, true},
		{"more accurate and newer", Result{AccuracyMeters: 10, At: now.Add(time.Second)}, prev, true},
		{"more accurate but older", Result{AccuracyMeters: 10, At: now.Add(-time.Second)}, prev, false},
		{"same accuracy", Result{AccuracyMeters: 100, At: now.Add(time.Second)}, prev, false},
		{"less accurate", Result{AccuracyMeters: 500, At: now.Add(time.Second)}, prev, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.BetterThan(tc.prev); got != tc.better {
				t.Errorf("expected BetterThan to be %t, got %t", tc.better, got)
			}
		})
	}
}

func TestGeoBus_Publish(t *testing.T) {
	t.Run("first result is broadcast", func(t *testing.T) {
		bus := testBus()
		ch, unsub := bus.Subscribe(testKey, 4)
		defer unsub()
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
		select {
		case r := <-ch:
			if r.Lat != testLat || r.Lon != testLon {
				t.Errorf("expected %f,%f, got %f,%f", testLat, testLon, r.Lat, r.Lon)
			}
		default:
			t.Fatal("expected result to be broadcast")
		}
	})
	t.Run("results without accuracy are dropped", func(t *testing.T) {
		bus := testBus()
		bus.Publish(testResult("gpsd", testLat, testLon, 0))
		if _, ok := bus.Best(testKey); ok {
			t.Error("expected result without accuracy to be dropped")
		}
	})
	t.Run("results with invalid coordinates are dropped", func(t *testing.T) {
		bus := testBus()
		bus.Publish(testResult("gpsd", 91, testLon, 10))
		if _, ok := bus.Best(testKey); ok {
			t.Error("expected invalid result to be dropped")
		}
	})
	t.Run("small movements of the same source are not broadcast", func(t *testing.T) {
		bus := testBus()
		ch, unsub := bus.Subscribe(testKey, 4)
		defer unsub()
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
		bus.Publish(testResult("gpsd", testLat+0.00001, testLon, 10))
		if len(ch) != 1 {
			t.Errorf("expected one broadcast result, got %d", len(ch))
		}
		best, _ := bus.Best(testKey)
		if best.Lat != testLat+0.00001 {
			t.Errorf("expected best result to follow the source, got %f", best.Lat)
		}
	})
	t.Run("significant movements of the same source are broadcast", func(t *testing.T) {
		bus := testBus()
		ch, unsub := bus.Subscribe(testKey, 4)
		defer unsub()
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
		bus.Publish(testResult("gpsd", testLat+0.001, testLon, 10))
		if len(ch) != 2 {
			t.Errorf("expected two broadcast results, got %d", len(ch))
		}
	})
	t.Run("a less accurate source does not replace the best result", func(t *testing.T) {
		bus := testBus()
		ch, unsub := bus.Subscribe(testKey, 4)
		defer unsub()
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
		bus.Publish(testResult("ichnaea", testLat+0.01, testLon, 2000))
		if len(ch) != 1 {
			t.Errorf("expected one broadcast result, got %d", len(ch))
		}
		best, _ := bus.Best(testKey)
		if best.Source != "gpsd" {
			t.Errorf("expected best source to be gpsd, got %s", best.Source)
		}
	})
	t.Run("a more accurate source replaces the best result", func(t *testing.T) {
		bus := testBus()
		ch, unsub := bus.Subscribe(testKey, 4)
		defer unsub()
		bus.Publish(testResult("ichnaea", testLat, testLon, 2000))
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
		if len(ch) != 2 {
			t.Errorf("expected two broadcast results, got %d", len(ch))
		}
		best, _ := bus.Best(testKey)
		if best.Source != "gpsd" {
			t.Errorf("expected best source to be gpsd, got %s", best.Source)
		}
	})
	t.Run("an expired result is replaced by any source", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := testBus()
			first := testResult("gpsd", testLat, testLon, 10)
			first.TTL = time.Minute
			bus.Publish(first)
			time.Sleep(time.Minute * 2)
			bus.Publish(testResult("ichnaea", testLat+0.01, testLon, 2000))
			best, ok := bus.Best(testKey)
			if !ok {
				t.Fatal("expected best result to be available")
			}
			if best.Source != "ichnaea" {
				t.Errorf("expected best source to be ichnaea, got %s", best.Source)
			}
		})
	})
	t.Run("results for other keys are not delivered", func(t *testing.T) {
		bus := testBus()
		ch, unsub := bus.Subscribe("other", 4)
		defer unsub()
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
		if len(ch) != 0 {
			t.Errorf("expected no results for other key, got %d", len(ch))
		}
	})
	t.Run("a full subscriber does not block the bus", func(t *testing.T) {
		bus := testBus(WithDistanceThreshold(0))
		ch, unsub := bus.Subscribe(testKey, 1)
		defer unsub()
		for i := 0; i < 5; i++ {
			bus.Publish(testResult("gpsd", testLat+float64(i)*0.001, testLon, 10))
		}
		if len(ch) != 1 {
			t.Errorf("expected subscriber buffer to hold one result, got %d", len(ch))
		}
	})
}

func TestGeoBus_Subscribe(t *testing.T) {
	t.Run("late subscribers receive the best result", func(t *testing.T) {
		bus := testBus()
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
		ch, unsub := bus.Subscribe(testKey, 1)
		defer unsub()
		if len(ch) != 1 {
			t.Fatal("expected best result to be delivered on subscribe")
		}
	})
	t.Run("unsubscribe closes the channel and is idempotent", func(t *testing.T) {
		bus := testBus()
		ch, unsub := bus.Subscribe(testKey, 1)
		unsub()
		unsub()
		if _, ok := <-ch; ok {
			t.Error("expected channel to be closed")
		}
		bus.Publish(testResult("gpsd", testLat, testLon, 10))
	})
}

type fakeProvider struct {
	name     string
	calls    atomic.Int32
	lookupFn func(ctx context.Context, key string) <-chan Result
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) LookupStream(ctx context.Context, key string) <-chan Result {
	f.calls.Add(1)
	return f.lookupFn(ctx, key)
}

func TestOrchestrator_Track(t *testing.T) {
	t.Run("results are published to the bus", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := testBus()
			ch, unsub := bus.Subscribe(testKey, 4)
			defer unsub()
			provider := &fakeProvider{name: "fake", lookupFn: func(ctx context.Context, key string) <-chan Result {
				out := make(chan Result)
				go func() {
					defer close(out)
					select {
					case out <- testResult("fake", testLat, testLon, 10):
					case <-ctx.Done():
						return
					}
					<-ctx.Done()
				}()
				return out
			}}

			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan struct{})
			go func() {
				bus.NewOrchestrator([]Provider{provider}).Track(ctx, testKey)
				close(done)
			}()

			r := <-ch
			cancel()
			<-done
			if r.Source != "fake" {
				t.Errorf("expected source to be fake, got %s", r.Source)
			}
		})
	})
	t.Run("a closed stream is restarted with backoff", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := testBus()
			provider := &fakeProvider{name: "fake", lookupFn: func(context.Context, string) <-chan Result {
				out := make(chan Result)
				close(out)
				return out
			}}

			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan struct{})
			go func() {
				bus.NewOrchestrator([]Provider{provider}).Track(ctx, testKey)
				close(done)
			}()

			// backoff sleeps 1s, 2s and 4s before the fourth lookup
			time.Sleep(time.Second*7 + time.Millisecond)
			cancel()
			<-done
			if calls := provider.calls.Load(); calls != 4 {
				t.Errorf("expected 4 lookups, got %d", calls)
			}
		})
	})
	t.Run("a panicking provider is recovered", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := testBus()
			provider := &fakeProvider{name: "fake", lookupFn: func(context.Context, string) <-chan Result {
				panic("intentionally panicking")
			}}

			ctx, cancel := context.WithCancel(t.Context())
			done := make(chan struct{})
			go func() {
				bus.NewOrchestrator([]Provider{provider}).Track(ctx, testKey)
				close(done)
			}()
			time.Sleep(time.Second + time.Millisecond)
			cancel()
			<-done
			if calls := provider.calls.Load(); calls != 2 {
				t.Errorf("expected 2 lookups, got %d", calls)
			}
		})
	})
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(time.Second); got != time.Second*2 {
		t.Errorf("expected backoff to double, got %s", got)
	}
	if got := nextBackoff(maxBackoff); got != maxBackoff {
		t.Errorf("expected backoff to be capped at %s, got %s", maxBackoff, got)
	}
}
