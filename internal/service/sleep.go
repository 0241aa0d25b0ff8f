// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-geofence/internal/logger"
)

// logind emits PrepareForSleep with a single bool argument: true before suspending, false after waking up.
const (
	logindManager    = "org.freedesktop.login1.Manager"
	logindSleepEvent = "PrepareForSleep"

	resumeDebounce  = 2 * time.Second
	resumeQueueSize = 8

	busRetryDelay      = 5 * time.Second
	networkWakeupDelay = 10 * time.Second
)

var errResumeFeedClosed = errors.New("system bus closed the sleep event feed")

// watchResume restarts location tracking every time the system wakes up. A lost system bus connection is
// dialed again until ctx is done.
func (s *Service) watchResume(ctx context.Context) {
	var lastResume atomic.Int64
	for ctx.Err() == nil {
		if err := s.watchResumeOn(ctx, &lastResume); err != nil {
			s.logger.Warn("resume watcher lost the system bus", logger.Err(err),
				slog.Duration("retry_in", busRetryDelay))
		}
		select {
		case <-ctx.Done():
		case <-time.After(busRetryDelay):
		}
	}
}

// watchResumeOn dials the system bus, subscribes to the logind sleep event and handles resume events until
// the connection drops or ctx is done.
func (s *Service) watchResumeOn(ctx context.Context, lastResume *atomic.Int64) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if cErr := conn.Close(); cErr != nil && ctx.Err() == nil {
			s.logger.Error("failed to close system bus connection", logger.Err(cErr))
		}
	}()

	if err = conn.AddMatchSignal(dbus.WithMatchInterface(logindManager),
		dbus.WithMatchMember(logindSleepEvent)); err != nil {
		return fmt.Errorf("failed to subscribe to %s.%s: %w", logindManager, logindSleepEvent, err)
	}
	events := make(chan *dbus.Signal, resumeQueueSize)
	conn.Signal(events)
	defer conn.RemoveSignal(events)
	s.logger.Debug("watching for system resume", slog.String("event", logindManager+"."+logindSleepEvent))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return errResumeFeedClosed
			}
			if isResume(event) {
				s.handleResumeEvent(ctx, lastResume)
			}
		}
	}
}

// isResume reports whether event is a logind wake-up notification.
func isResume(event *dbus.Signal) bool {
	if event == nil || event.Name != logindManager+"."+logindSleepEvent || len(event.Body) != 1 {
		return false
	}
	suspending, ok := event.Body[0].(bool)
	return ok && !suspending
}

// handleResumeEvent waits for the network to come back and restarts the listener, so the providers look
// up a fresh position. Resume events closer than resumeDebounce to the previous one are dropped.
func (s *Service) handleResumeEvent(ctx context.Context, lastResume *atomic.Int64) {
	now := time.Now()
	if last := lastResume.Load(); last != 0 && now.Sub(time.Unix(0, last)) < resumeDebounce {
		return
	}
	lastResume.Store(now.UnixNano())

	select {
	case <-ctx.Done():
		return
	case <-time.After(networkWakeupDelay):
	}
	s.logger.Debug("system resumed, restarting location tracking")
	s.restartListener(ctx)
}

// restartListener stops and restarts the location listener. The geofence stays subscribed, so the next
// fix after the restart is evaluated as usual. Once shutdown has begun the listener is left alone.
func (s *Service) restartListener(ctx context.Context) {
	if !s.cycleListener(ctx) {
		return
	}
	s.printState(ctx)
}

func (s *Service) cycleListener(ctx context.Context) bool {
	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()
	if s.listener == nil || s.shuttingDown || ctx.Err() != nil {
		return false
	}
	if err := s.listener.StopListening(); err != nil {
		s.logger.Error("failed to stop location listener", logger.Err(err))
		return false
	}
	if err := s.listener.StartListening(s.locationSettings()); err != nil {
		s.logger.Error("failed to restart location listener", logger.Err(err))
		return false
	}
	return true
}

// beginShutdown keeps later listener restarts from undoing the shutdown.
func (s *Service) beginShutdown() {
	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()
	s.shuttingDown = true
}
