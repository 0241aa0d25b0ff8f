// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/gpsd"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/ichnaea"
	mqttprovider "github.com/wneessen/waybar-geofence/internal/geobus/provider/mqtt"
	"github.com/wneessen/waybar-geofence/internal/geobus/provider/trackfile"
	"github.com/wneessen/waybar-geofence/internal/http"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
	"github.com/wneessen/waybar-geofence/internal/notify/amqp"
	"github.com/wneessen/waybar-geofence/internal/notify/desktop"
	mqttnotify "github.com/wneessen/waybar-geofence/internal/notify/mqtt"
	"github.com/wneessen/waybar-geofence/internal/notify/webhook"
)

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	var provider []geobus.Provider

	if !s.config.GeoLocation.DisableTrackFile {
		provider = append(provider, trackfile.NewTrackFileProvider(s.config.GeoLocation.TrackFile))
	}

	if !s.config.GeoLocation.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.config.GeoLocation.GPSDAddr, s.logger))
	}

	if !s.config.GeoLocation.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient, s.config.GeoLocation.ICHNAEAEndpoint, s.logger)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}

	if s.config.GeoLocation.MQTT.Broker != "" {
		mqp, err := mqttprovider.NewGeolocationMQTTProvider(s.config.GeoLocation.MQTT.Broker,
			s.config.GeoLocation.MQTT.Topic, s.config.GeoLocation.MQTT.ClientID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT provider: %w", err)
		}
		provider = append(provider, mqp)
	}

	if len(provider) == 0 {
		return nil, fmt.Errorf("no geolocation providers enabled")
	}

	return provider, nil
}

// selectNotifiers creates the configured notifiers. Notifiers that need a running peer (session bus,
// broker) are skipped with an error log if it is not reachable, misconfigured ones fail.
func (s *Service) selectNotifiers(ctx context.Context) ([]notify.Notifier, error) {
	var notifiers []notify.Notifier
	conf := s.config.Notify

	if conf.Desktop {
		notifier, err := desktop.New(ctx, s.t)
		if err != nil {
			s.logger.Error("failed to create desktop notifier", logger.Err(err))
		} else {
			notifiers = append(notifiers, notifier)
			s.closers = append(s.closers, notifier.Close)
		}
	}

	if conf.Webhook.URL != "" {
		notifier, err := webhook.New(http.New(s.logger), conf.Webhook.URL, nil)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create webhook notifier: %w", err), s.closeAll())
		}
		notifiers = append(notifiers, notifier)
	}

	if conf.MQTT.Broker != "" {
		notifier, err := mqttnotify.New(conf.MQTT.Broker, conf.MQTT.Topic, conf.MQTT.ClientID, s.logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create MQTT notifier: %w", err), s.closeAll())
		}
		notifiers = append(notifiers, notifier)
		s.closers = append(s.closers, func() error {
			notifier.Close()
			return nil
		})
	}

	if conf.AMQP.URL != "" {
		notifier, err := amqp.New(conf.AMQP.URL, conf.AMQP.Exchange)
		if err != nil {
			s.logger.Error("failed to create AMQP notifier", logger.Err(err))
		} else {
			notifiers = append(notifiers, notifier)
			s.closers = append(s.closers, notifier.Close)
		}
	}

	names := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		names = append(names, n.Name())
	}
	s.logger.Debug("notifiers configured", slog.Any("notifiers", names))
	return notifiers, nil
}

// closeAll runs and clears all registered closers.
func (s *Service) closeAll() error {
	var errs []error
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
