// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-geofence/internal/config"
	"github.com/wneessen/waybar-geofence/internal/distance"
	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/listener"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/metrics"
	"github.com/wneessen/waybar-geofence/internal/notify"
	"github.com/wneessen/waybar-geofence/internal/statusapi"
	"github.com/wneessen/waybar-geofence/internal/template"
)

const (
	OutputClass = "waybar-geofence"

	shutdownTimeout = time.Second * 5
)

type outputData struct {
	Text    string   `json:"text"`
	Alt     string   `json:"alt"`
	Tooltip string   `json:"tooltip"`
	Classes []string `json:"class"`
}

type Service struct {
	config    *config.Config
	geobus    *geobus.GeoBus
	logger    *logger.Logger
	metrics   *metrics.Collector
	scheduler gocron.Scheduler
	templates *template.Templates
	t         *spreak.Localizer

	SignalSrc signalSource

	// set up by Run
	listener *listener.Listener
	fence    *geofence.Service
	closers  []func() error

	providersFn   func() ([]geobus.Provider, error)
	notifiersFn   func(context.Context) ([]notify.Notifier, error)
	resumeWatchFn func(context.Context)

	outputLock sync.Mutex
	output     io.Writer

	displayAltLock sync.RWMutex
	displayAltText bool

	lifecycleLock sync.Mutex
	shuttingDown  bool
}

func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	tpls, err := template.New(conf, t)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	collector, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	service := &Service{
		config:    conf,
		geobus:    geobus.New(log),
		logger:    log,
		metrics:   collector,
		scheduler: scheduler,
		templates: tpls,
		t:         t,
		SignalSrc: stdLibSignalSource{},
		output:    os.Stdout,
	}
	service.providersFn = service.selectGeobusProviders
	service.notifiersFn = service.selectNotifiers
	service.resumeWatchFn = service.watchResume
	return service, nil
}

// Run sets up location tracking, the geofence and the notifiers and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	providers, err := s.providersFn()
	if err != nil {
		return fmt.Errorf("failed to create geolocation providers: %w", err)
	}
	s.listener, err = listener.New(s.geobus, providers, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create location listener: %w", err)
	}
	s.fence, err = geofence.New(s.listener, distance.New(), s.fenceFromConfig(), s.logger,
		geofence.WithSettings(s.locationSettings()),
		geofence.WithInitTimeout(s.config.Location.InitTimeout),
		geofence.WithRecorder(s.metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create geofence: %w", err)
	}

	notifiers, err := s.notifiersFn(ctx)
	if err != nil {
		_ = s.fence.Dispose()
		return fmt.Errorf("failed to create notifiers: %w", err)
	}
	dispatcher, err := notify.NewDispatcher(s.logger, notifiers,
		notify.WithQueueSize(s.config.Notify.QueueSize),
		notify.WithTimeout(s.config.Notify.Timeout),
		notify.WithRecorder(s.metrics),
	)
	if err != nil {
		_ = s.fence.Dispose()
		_ = s.closeAll()
		return fmt.Errorf("failed to create notification dispatcher: %w", err)
	}
	unsubscribe := s.fence.OnEvent(s.handleEvent(ctx, dispatcher))

	// Start scheduled jobs
	if err = s.createScheduledJob(ctx, s.config.Intervals.Output, s.printState,
		"geofence_output_job"); err != nil {
		unsubscribe()
		_ = s.fence.Dispose()
		_ = dispatcher.Close(ctx)
		_ = s.closeAll()
		return err
	}
	s.scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go s.HandleSignals(ctx, sigChan)

	if s.resumeWatchFn != nil {
		go s.resumeWatchFn(ctx)
	}
	if s.config.Status.Listen != "" {
		if err = s.startStatusAPI(ctx); err != nil {
			s.logger.Error("failed to start status API", logger.Err(err))
		}
	}

	go s.initialize(ctx)

	// Wait for the context to cancel
	<-ctx.Done()
	s.beginShutdown()
	s.SignalSrc.Stop(sigChan)
	unsubscribe()

	var errs []error
	if err = s.fence.Dispose(); err != nil {
		errs = append(errs, err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = dispatcher.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to deliver pending notifications: %w", err))
	}
	if err = s.closeAll(); err != nil {
		errs = append(errs, err)
	}
	if err = s.scheduler.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// initialize waits for the first fix and prints the initial state.
func (s *Service) initialize(ctx context.Context) {
	inside, err := s.fence.Initialize(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, geofence.ErrDisposed):
		return
	case err != nil:
		s.logger.Error("failed to initialize geofence", logger.Err(err))
		return
	}
	membership := s.fence.Membership()
	if membership == geofence.MembershipUnknown {
		s.logger.Warn("geofence initialized without a location fix", slog.String("fence", s.config.Fence.Name))
	} else {
		s.logger.Info("geofence initialized", slog.String("fence", s.config.Fence.Name),
			slog.Bool("inside", inside), slog.String("membership", membership.String()))
	}
	s.printState(ctx)
}

// handleEvent returns the event handler that refreshes the waybar output and queues notifications.
func (s *Service) handleEvent(ctx context.Context, dispatcher *notify.Dispatcher) geofence.EventHandler {
	return func(event geofence.Event) {
		s.printState(ctx)
		dispatcher.Handle(event)
	}
}

func (s *Service) startStatusAPI(ctx context.Context) error {
	server, err := statusapi.New(s.config.Status.Listen, s.fence, s.metrics.Handler(), s.logger,
		statusapi.HealthCheck{Name: "listener", Check: func() error {
			if !s.listener.Listening() {
				return errors.New("location listener is not running")
			}
			return nil
		}},
		statusapi.HealthCheck{Name: "location", Check: func() error {
			if _, ok := s.fence.CurrentLocation(); !ok {
				return errors.New("no location fix received yet")
			}
			return nil
		}},
	)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Run(ctx); err != nil {
			s.logger.Error("status API stopped", logger.Err(err))
		}
	}()
	return nil
}

func (s *Service) fenceFromConfig() geofence.Fence {
	return geofence.Fence{
		Name: s.config.Fence.Name,
		Center: geofence.Coordinate{
			Lat: s.config.Fence.Latitude,
			Lon: s.config.Fence.Longitude,
		},
		Radius: s.config.Fence.Radius,
	}
}

func (s *Service) locationSettings() geofence.LocationSettings {
	return geofence.LocationSettings{
		Key:             s.config.Location.Key,
		DesiredAccuracy: s.config.Location.DesiredAccuracy,
	}
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printState renders the current geofence state with the configured templates and writes it as a waybar
// JSON line.
func (s *Service) printState(context.Context) {
	if s.fence == nil {
		return
	}
	data := s.templates.BuildData(s.fence.Snapshot())

	s.displayAltLock.RLock()
	textTpl := s.templates.Text
	if s.displayAltText {
		textTpl = s.templates.AltText
	}
	s.displayAltLock.RUnlock()

	textBuf := bytes.NewBuffer(nil)
	if err := textTpl.Execute(textBuf, data); err != nil {
		s.logger.Error("failed to render text template", logger.Err(err))
		return
	}
	tooltipBuf := bytes.NewBuffer(nil)
	if err := s.templates.Tooltip.Execute(tooltipBuf, data); err != nil {
		s.logger.Error("failed to render tooltip template", logger.Err(err))
		return
	}

	output := outputData{
		Text:    textBuf.String(),
		Alt:     data.Membership,
		Tooltip: tooltipBuf.String(),
		Classes: []string{OutputClass, data.Membership},
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err := json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode geofence output", logger.Err(err))
	}
}
