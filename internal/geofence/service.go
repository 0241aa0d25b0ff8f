// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wneessen/waybar-geofence/internal/logger"
)

// DefaultInitTimeout bounds how long Initialize waits for the first fix.
const DefaultInitTimeout = 30 * time.Second

// Option configures a Service.
type Option func(*Service)

// WithSettings sets the LocationSettings passed to the listener by Initialize.
func WithSettings(settings LocationSettings) Option {
	return func(s *Service) {
		s.settings = settings
	}
}

// WithInitTimeout overrides DefaultInitTimeout. Non-positive values are ignored, the wait is always bounded.
func WithInitTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithRecorder attaches a diagnostics Recorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// Snapshot is a consistent copy of the service state.
type Snapshot struct {
	Fence        Fence
	Membership   Membership
	Location     Coordinate
	HasLocation  bool
	LastFix      Fix
	Distance     float64
	FixCount     uint64
	InsideCount  uint64
	OutsideCount uint64
	LastEvent    *Event
}

type handlerEntry struct {
	id      uint64
	handler EventHandler
}

// Service tracks whether the device is inside or outside a single fence.
//
// The service subscribes to its LocationListener on construction, so no fix delivered after New returns is
// missed. Fixes are processed one at a time; event handlers run synchronously on the processing path and
// must not call Dispose.
type Service struct {
	listener LocationListener
	calc     DistanceCalculator
	fence    Fence
	settings LocationSettings
	timeout  time.Duration
	logger   *logger.Logger
	recorder Recorder

	// procLock serializes fix processing and event dispatch
	procLock sync.Mutex

	stateLock    sync.RWMutex
	current      Coordinate
	haveCurrent  bool
	lastFix      Fix
	membership   Membership
	distance     float64
	fixCount     uint64
	insideCount  uint64
	outsideCount uint64
	lastEvent    *Event

	handlerLock sync.RWMutex
	handlers    []handlerEntry
	nextHandler uint64

	// ready is closed once the first fix has been processed, first holds that fix's classification
	ready     chan struct{}
	readyOnce sync.Once
	first     Membership

	disposed    atomic.Bool
	done        chan struct{}
	disposeOnce sync.Once
	unsubscribe func()
}

// New returns a Service for the given fence and subscribes it to the listener.
func New(listener LocationListener, calc DistanceCalculator, fence Fence, log *logger.Logger,
	opts ...Option,
) (*Service, error) {
	if listener == nil {
		return nil, errors.New("location listener is required")
	}
	if calc == nil {
		return nil, errors.New("distance calculator is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := fence.Validate(); err != nil {
		return nil, err
	}

	service := &Service{
		listener: listener,
		calc:     calc,
		fence:    fence,
		timeout:  DefaultInitTimeout,
		logger:   log,
		recorder: nopRecorder{},
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(service)
	}
	service.unsubscribe = listener.Subscribe(service.LocationChanged)

	return service, nil
}

// LocationChanged evaluates a batch of fixes delivered by the listener. Only the first fix of the batch is
// used. Calls after Dispose are ignored.
func (s *Service) LocationChanged(fixes []Fix) error {
	if s.disposed.Load() {
		return nil
	}
	if len(fixes) == 0 {
		s.logger.Debug("empty location batch received, ignoring")
		return nil
	}
	if len(fixes) > 1 {
		s.logger.Debug("location batch contains more than one fix, using the first one",
			slog.Int("batch_size", len(fixes)))
	}
	fix := fixes[0]

	s.procLock.Lock()
	defer s.procLock.Unlock()
	if s.disposed.Load() {
		return nil
	}

	distance, err := s.calc.DistanceBetween(fix.Coordinate, s.fence.Center)
	if err != nil {
		s.recorder.DistanceFailure()
		return fmt.Errorf("%w: %w", ErrDistanceCalculation, err)
	}
	next := classify(distance, s.fence.Radius)

	s.stateLock.Lock()
	previous := s.membership
	s.current = fix.Coordinate
	s.haveCurrent = true
	s.lastFix = fix
	s.membership = next
	s.distance = distance
	s.fixCount++
	var event *Event
	if next != previous {
		event = &Event{
			Type:     eventFor(next),
			Previous: previous,
			Fix:      fix,
			Distance: distance,
			Fence:    s.fence,
			At:       time.Now(),
		}
		if next == MembershipInside {
			s.insideCount++
		} else {
			s.outsideCount++
		}
		last := *event
		s.lastEvent = &last
	}
	s.stateLock.Unlock()

	s.recorder.FixProcessed(next, distance)
	s.logger.Debug("location fix processed", logger.Coordinate(fix.Coordinate.Lat, fix.Coordinate.Lon),
		slog.Float64("distance", distance), slog.String("membership", next.String()))

	if event != nil {
		s.recorder.Transition(event.Type)
		s.logger.Info("geofence membership changed", slog.String("fence", s.fence.Name),
			slog.String("from", previous.String()), slog.String("to", next.String()),
			slog.Float64("distance", distance))
		s.dispatch(*event)
	}

	s.readyOnce.Do(func() {
		s.first = next
		close(s.ready)
	})
	return nil
}

// Initialize tells the listener to start listening and blocks until the first fix has been processed, the
// configured timeout elapses or ctx is done. It returns true only if the first processed fix was inside the
// fence, later fixes do not change the result. A timeout is not an error and returns false. Fixes that
// arrived before Initialize was called count as well.
//
// A Dispose that races with the start of the listener wins: the listener is stopped again and ErrDisposed
// is returned.
func (s *Service) Initialize(ctx context.Context) (bool, error) {
	if s.disposed.Load() {
		s.recorder.InitializeOutcome(OutcomeDisposed)
		return false, ErrDisposed
	}
	if err := s.listener.StartListening(s.settings); err != nil {
		s.recorder.InitializeOutcome(OutcomeFailed)
		return false, fmt.Errorf("%w: %w", ErrListenerStart, err)
	}
	// Dispose may have stopped the listener before it was started
	if s.disposed.Load() {
		if err := s.listener.StopListening(); err != nil {
			s.logger.Error("failed to stop location listener after dispose", logger.Err(err))
		}
		s.recorder.InitializeOutcome(OutcomeDisposed)
		return false, ErrDisposed
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		s.recorder.InitializeOutcome(s.first.String())
		return s.first == MembershipInside, nil
	case <-timer.C:
		s.logger.Warn("no location fix received before initialization timeout",
			slog.Duration("timeout", s.timeout))
		s.recorder.InitializeOutcome(OutcomeTimeout)
		return false, nil
	case <-s.done:
		s.recorder.InitializeOutcome(OutcomeDisposed)
		return false, ErrDisposed
	case <-ctx.Done():
		s.recorder.InitializeOutcome(OutcomeCanceled)
		return false, ctx.Err()
	}
}

// Dispose unsubscribes from the listener and stops it. It waits for in-flight fix processing, so no event
// is raised after Dispose returns. Subsequent calls are no-ops.
func (s *Service) Dispose() error {
	var err error
	s.disposeOnce.Do(func() {
		s.disposed.Store(true)
		close(s.done)

		s.procLock.Lock()
		//nolint:staticcheck // empty critical section waits for the fix being processed
		s.procLock.Unlock()

		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if stopErr := s.listener.StopListening(); stopErr != nil {
			err = fmt.Errorf("failed to stop location listener: %w", stopErr)
		}
		s.logger.Debug("geofence service disposed", slog.String("fence", s.fence.Name))
	})
	return err
}

// OnEvent registers a handler for membership transitions and returns a function that removes it again.
func (s *Service) OnEvent(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	s.handlerLock.Lock()
	s.nextHandler++
	id := s.nextHandler
	s.handlers = append(s.handlers, handlerEntry{id: id, handler: handler})
	s.handlerLock.Unlock()

	return func() {
		s.handlerLock.Lock()
		defer s.handlerLock.Unlock()
		for i, entry := range s.handlers {
			if entry.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// dispatch calls all registered handlers in registration order. A panicking handler is logged and does not
// keep the remaining handlers from running.
func (s *Service) dispatch(event Event) {
	s.handlerLock.RLock()
	handlers := make([]handlerEntry, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlerLock.RUnlock()

	for _, entry := range handlers {
		s.safeHandle(entry.handler, event)
	}
}

func (s *Service) safeHandle(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("geofence event handler panicked", slog.Any("panic", r),
				slog.String("event", string(event.Type)))
		}
	}()
	handler(event)
}

// CurrentLocation returns the coordinate of the most recently processed fix. The boolean is false until
// the first fix has been processed.
func (s *Service) CurrentLocation() (Coordinate, bool) {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.current, s.haveCurrent
}

// Membership returns the current membership.
func (s *Service) Membership() Membership {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.membership
}

// FixCount returns the number of successfully processed fixes.
func (s *Service) FixCount() uint64 {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.fixCount
}

// InsideFenceCount returns how often an InsideFence event was raised.
func (s *Service) InsideFenceCount() uint64 {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.insideCount
}

// OutsideFenceCount returns how often an OutsideFence event was raised.
func (s *Service) OutsideFenceCount() uint64 {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.outsideCount
}

// Fence returns the fence the service evaluates against.
func (s *Service) Fence() Fence {
	return s.fence
}

// Snapshot returns a consistent copy of the current state.
func (s *Service) Snapshot() Snapshot {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	snap := Snapshot{
		Fence:        s.fence,
		Membership:   s.membership,
		Location:     s.current,
		HasLocation:  s.haveCurrent,
		LastFix:      s.lastFix,
		Distance:     s.distance,
		FixCount:     s.fixCount,
		InsideCount:  s.insideCount,
		OutsideCount: s.outsideCount,
	}
	if s.lastEvent != nil {
		last := *s.lastEvent
		snap.LastEvent = &last
	}
	return snap
}
