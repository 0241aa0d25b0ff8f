// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics exposes the geofence diagnostics as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wneessen/waybar-geofence/internal/geofence"
)

const namespace = "geofence"

// Collector implements geofence.Recorder and notify.Recorder.
type Collector struct {
	gatherer prometheus.Gatherer

	Fixes            *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	DistanceFailures prometheus.Counter
	Initializations  *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	Distance         prometheus.Gauge
	Inside           prometheus.Gauge
}

// New registers the collectors against reg. A nil reg uses the global Prometheus registry. Registering
// twice against the same registry reuses the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fixes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fixes_total",
		Help:      "Number of processed location fixes, labeled by the resulting membership.",
	}, []string{"membership"}))
	if err != nil {
		return nil, err
	}
	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Number of fence crossings, labeled by event type.",
	}, []string{"event"}))
	if err != nil {
		return nil, err
	}
	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "distance_failures_total",
		Help:      "Number of fixes dropped because the distance could not be calculated.",
	}))
	if err != nil {
		return nil, err
	}
	inits, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "initialize_total",
		Help:      "Number of initialization attempts, labeled by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	notifications, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Number of event notifications, labeled by notifier and result.",
	}, []string{"notifier", "result"}))
	if err != nil {
		return nil, err
	}
	distance, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "distance_meters",
		Help:      "Distance between the last processed fix and the fence center.",
	}))
	if err != nil {
		return nil, err
	}
	inside, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inside",
		Help:      "1 if the device is inside the fence, 0 if outside, -1 if unknown.",
	}))
	if err != nil {
		return nil, err
	}
	inside.Set(-1)

	return &Collector{
		gatherer:         gatherer,
		Fixes:            fixes,
		Transitions:      transitions,
		DistanceFailures: failures,
		Initializations:  inits,
		Notifications:    notifications,
		Distance:         distance,
		Inside:           inside,
	}, nil
}

// Handler returns the /metrics handler for the registry the collector was registered with.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) FixProcessed(membership geofence.Membership, distance float64) {
	c.Fixes.WithLabelValues(membership.String()).Inc()
	c.Distance.Set(distance)
	switch membership {
	case geofence.MembershipInside:
		c.Inside.Set(1)
	case geofence.MembershipOutside:
		c.Inside.Set(0)
	default:
		c.Inside.Set(-1)
	}
}

func (c *Collector) Transition(event geofence.EventType) {
	c.Transitions.WithLabelValues(string(event)).Inc()
}

func (c *Collector) DistanceFailure() {
	c.DistanceFailures.Inc()
}

func (c *Collector) InitializeOutcome(outcome string) {
	c.Initializations.WithLabelValues(outcome).Inc()
}

func (c *Collector) NotificationDelivered(notifier string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.Notifications.WithLabelValues(notifier, result).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register counter vector: %w", err)
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register counter: %w", err)
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register gauge: %w", err)
	}
	return gauge, nil
}
