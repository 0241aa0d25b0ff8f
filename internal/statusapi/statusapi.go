// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package statusapi serves the geofence state, a health check and the Prometheus metrics over HTTP.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

const shutdownTimeout = time.Second * 5

// snapshotter is implemented by *geofence.Service.
type snapshotter interface {
	Snapshot() geofence.Snapshot
}

// HealthCheck reports an error if the named dependency is unhealthy.
type HealthCheck struct {
	Name  string
	Check func() error
}

type Server struct {
	addr   string
	engine *gin.Engine
	logger *logger.Logger
	source snapshotter
	checks []HealthCheck
}

type fenceResponse struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

type locationResponse struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type eventResponse struct {
	Event    string    `json:"event"`
	Previous string    `json:"previous"`
	Distance float64   `json:"distance"`
	At       time.Time `json:"at"`
}

type statusResponse struct {
	Fence        fenceResponse     `json:"fence"`
	Membership   string            `json:"membership"`
	Location     *locationResponse `json:"location"`
	Distance     *float64          `json:"distance"`
	FixCount     uint64            `json:"fix_count"`
	InsideCount  uint64            `json:"inside_count"`
	OutsideCount uint64            `json:"outside_count"`
	LastEvent    *eventResponse    `json:"last_event"`
}

// New returns a status API server for addr. metrics may be nil to disable /metrics.
func New(addr string, source snapshotter, metrics http.Handler, log *logger.Logger, checks ...HealthCheck) (*Server, error) {
	if source == nil {
		return nil, errors.New("status source is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	server := &Server{addr: addr, engine: engine, logger: log, source: source, checks: checks}
	engine.GET("/status", server.status)
	engine.GET("/healthz", server.health)
	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics))
	}
	return server, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP until ctx is done and then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: time.Second * 5,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	s.logger.Info("status API listening", slog.String("addr", s.addr))

	select {
	case err := <-errs:
		return fmt.Errorf("status API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status API: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, toStatusResponse(s.source.Snapshot()))
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for _, check := range s.checks {
		if err := check.Check(); err != nil {
			deps[check.Name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		deps[check.Name] = gin.H{"status": "up"}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}

func toStatusResponse(snap geofence.Snapshot) statusResponse {
	resp := statusResponse{
		Fence: fenceResponse{
			Name:      snap.Fence.Name,
			Latitude:  snap.Fence.Center.Lat,
			Longitude: snap.Fence.Center.Lon,
			Radius:    snap.Fence.Radius,
		},
		Membership:   snap.Membership.String(),
		FixCount:     snap.FixCount,
		InsideCount:  snap.InsideCount,
		OutsideCount: snap.OutsideCount,
	}
	if snap.HasLocation {
		resp.Location = &locationResponse{Latitude: snap.Location.Lat, Longitude: snap.Location.Lon}
		if !snap.LastFix.Timestamp.IsZero() {
			ts := snap.LastFix.Timestamp.UTC()
			resp.Location.Timestamp = &ts
		}
		distance := snap.Distance
		resp.Distance = &distance
	}
	if snap.LastEvent != nil {
		resp.LastEvent = &eventResponse{
			Event:    string(snap.LastEvent.Type),
			Previous: snap.LastEvent.Previous.String(),
			Distance: snap.LastEvent.Distance,
			At:       snap.LastEvent.At.UTC(),
		}
	}
	return resp
}
