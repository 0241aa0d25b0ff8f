// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package notify fans geofence events out to external sinks. Events are queued and delivered on a
// dedicated goroutine, so a slow sink never delays fix processing.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

const (
	DefaultQueueSize = 16
	DefaultTimeout   = time.Second * 10
)

// Notifier delivers a single event to an external sink.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event geofence.Event) error
}

// Recorder receives the outcome of every delivery attempt.
type Recorder interface {
	NotificationDelivered(notifier string, success bool)
}

// Message is the wire representation of an event shared by the notifiers that serialize events.
type Message struct {
	Fence     string    `json:"fence"`
	Event     string    `json:"event"`
	Previous  string    `json:"previous"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Distance  float64   `json:"distance"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage converts an event into a Message. The fix timestamp is used if the source provided one.
func NewMessage(event geofence.Event) Message {
	ts := event.Fix.Timestamp
	if ts.IsZero() {
		ts = event.At
	}
	return Message{
		Fence:     event.Fence.Name,
		Event:     string(event.Type),
		Previous:  event.Previous.String(),
		Latitude:  event.Fix.Coordinate.Lat,
		Longitude: event.Fix.Coordinate.Lon,
		Distance:  event.Distance,
		Timestamp: ts.UTC(),
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the number of events that may be pending. Values below 1 are ignored.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithTimeout bounds a single Notify call. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRecorder attaches a Recorder.
func WithRecorder(recorder Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// Dispatcher queues events and delivers them to all notifiers in order.
type Dispatcher struct {
	notifiers []Notifier
	logger    *logger.Logger
	recorder  Recorder
	queueSize int
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan geofence.Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher returns a running Dispatcher for the given notifiers.
func NewDispatcher(log *logger.Logger, notifiers []Notifier, opts ...Option) (*Dispatcher, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	dispatcher := &Dispatcher{
		notifiers: notifiers,
		logger:    log,
		queueSize: DefaultQueueSize,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.queue = make(chan geofence.Event, dispatcher.queueSize)
	dispatcher.ctx, dispatcher.cancel = context.WithCancel(context.Background())

	dispatcher.wg.Add(1)
	go dispatcher.run()
	return dispatcher, nil
}

// Handle enqueues an event. It never blocks: if the queue is full or the dispatcher is closed, the event
// is dropped and logged. Handle has the signature of a geofence.EventHandler.
func (d *Dispatcher) Handle(event geofence.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || len(d.notifiers) == 0 {
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification queue full, dropping event", slog.String("event", string(event.Type)))
	}
}

// Close stops accepting events and waits until the queued events are delivered or ctx is done, in which
// case pending deliveries are canceled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, notifier := range d.notifiers {
			d.deliver(notifier, event)
		}
	}
}

func (d *Dispatcher) deliver(notifier Notifier, event geofence.Event) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	err := d.safeNotify(ctx, notifier, event)
	if d.recorder != nil {
		d.recorder.NotificationDelivered(notifier.Name(), err == nil)
	}
	if err != nil {
		d.logger.Error("failed to deliver geofence notification", slog.String("notifier", notifier.Name()),
			slog.String("event", string(event.Type)), logger.Err(err))
		return
	}
	d.logger.Debug("geofence notification delivered", slog.String("notifier", notifier.Name()),
		slog.String("event", string(event.Type)))
}

func (d *Dispatcher) safeNotify(ctx context.Context, notifier Notifier, event geofence.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("notifier panicked")
			d.logger.Error("geofence notifier panicked", slog.String("notifier", notifier.Name()),
				slog.Any("panic", r))
		}
	}()
	return notifier.Notify(ctx, event)
}
