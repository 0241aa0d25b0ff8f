// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wneessen/waybar-geofence/internal/logger"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// stdLibSignalSource is the production implementation.
type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals reacts to the user signals until ctx is done. SIGUSR1 toggles between the text and the
// alt text template, SIGUSR2 logs the current geofence state.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.displayAltLock.Lock()
				s.displayAltText = !s.displayAltText
				s.displayAltLock.Unlock()
				s.printState(ctx)
			case syscall.SIGUSR2:
				s.logState()
			}
		}
	}
}

func (s *Service) logState() {
	if s.fence == nil {
		return
	}
	snap := s.fence.Snapshot()
	attrs := []any{
		slog.String("fence", snap.Fence.Name),
		slog.String("membership", snap.Membership.String()),
		slog.Uint64("fixes", snap.FixCount),
		slog.Uint64("inside", snap.InsideCount),
		slog.Uint64("outside", snap.OutsideCount),
	}
	if snap.HasLocation {
		attrs = append(attrs, logger.Coordinate(snap.Location.Lat, snap.Location.Lon),
			slog.Float64("distance", snap.Distance))
	}
	s.logger.Info("current geofence state", attrs...)
}
