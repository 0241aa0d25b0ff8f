// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package mqtt provides a geolocation provider that ingests device positions published to an MQTT
// topic, e.g. by a phone tracking app.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/waybar-geofence/internal/geobus"
	"github.com/wneessen/waybar-geofence/internal/logger"
)

const (
	name = "mqtt"

	// DefaultAccuracy is used for messages that carry no accuracy.
	DefaultAccuracy = 50
	connectTimeout  = time.Second * 10
	quiesce         = 250
	bufferSize      = 16
)

// connectFunc connects to the broker and delivers every message on the topic to handler. The returned
// function disconnects again.
type connectFunc func(ctx context.Context, handler pahomqtt.MessageHandler) (disconnect func(), err error)

// locationMessage is the JSON payload of a location update. Coordinates are pointers so a missing field
// is not mistaken for 0,0.
type locationMessage struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Timestamp int64    `json:"timestamp"`
}

// GeolocationMQTTProvider subscribes to a topic and streams every valid location message.
type GeolocationMQTTProvider struct {
	name      string
	broker    string
	topic     string
	clientID  string
	ttl       time.Duration
	logger    *logger.Logger
	connectFn connectFunc
}

// NewGeolocationMQTTProvider returns a provider for the given broker URL and topic.
func NewGeolocationMQTTProvider(broker, topic, clientID string, log *logger.Logger) (*GeolocationMQTTProvider, error) {
	if broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if clientID == "" {
		clientID = "waybar-geofence"
	}
	provider := &GeolocationMQTTProvider{
		name:     name,
		broker:   broker,
		topic:    topic,
		clientID: clientID,
		ttl:      time.Minute * 15,
		logger:   log,
	}
	provider.connectFn = provider.connect
	return provider, nil
}

func (p *GeolocationMQTTProvider) Name() string {
	return p.name
}

// LookupStream connects to the broker and emits a result for every valid message. The stream closes if
// the connection cannot be established, so the orchestrator retries with backoff.
func (p *GeolocationMQTTProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		results := make(chan geobus.Result, bufferSize)

		disconnect, err := p.connectFn(ctx, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			result, err := p.handleMessage(key, msg)
			if err != nil {
				p.logger.Warn("ignoring invalid MQTT location message", slog.String("topic", msg.Topic()),
					logger.Err(err))
				return
			}
			select {
			case results <- result:
			case <-ctx.Done():
			default:
				p.logger.Debug("MQTT location buffer full, dropping message")
			}
		})
		if err != nil {
			p.logger.Error("failed to connect to MQTT broker", slog.String("broker", p.broker), logger.Err(err))
			return
		}
		defer disconnect()

		for {
			select {
			case <-ctx.Done():
				return
			case r := <-results:
				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}()
	return out
}

// handleMessage decodes and validates a location message.
func (p *GeolocationMQTTProvider) handleMessage(key string, msg pahomqtt.Message) (geobus.Result, error) {
	var raw locationMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		return geobus.Result{}, fmt.Errorf("failed to decode location message: %w", err)
	}
	if err := validateLocationMessage(&raw); err != nil {
		return geobus.Result{}, err
	}

	acc := raw.Accuracy
	if acc == 0 {
		acc = DefaultAccuracy
	}
	at := time.Now()
	if raw.Timestamp > 0 {
		at = time.Unix(raw.Timestamp, 0)
	}
	return geobus.Result{
		Key:            key,
		Lat:            *raw.Latitude,
		Lon:            *raw.Longitude,
		AccuracyMeters: acc,
		Source:         p.name,
		At:             at,
		TTL:            p.ttl,
	}, nil
}

func validateLocationMessage(msg *locationMessage) error {
	if msg.Latitude == nil {
		return errors.New("latitude: is required")
	}
	if msg.Longitude == nil {
		return errors.New("longitude: is required")
	}
	if *msg.Latitude < -90 || *msg.Latitude > 90 {
		return errors.New("latitude: must be between -90 and 90")
	}
	if *msg.Longitude < -180 || *msg.Longitude > 180 {
		return errors.New("longitude: must be between -180 and 180")
	}
	if msg.Accuracy < 0 {
		return errors.New("accuracy: must not be negative")
	}
	if msg.Timestamp < 0 {
		return errors.New("timestamp: must not be negative")
	}
	return nil
}

// connect establishes the broker connection. The subscription is renewed on every (re)connect.
func (p *GeolocationMQTTProvider) connect(ctx context.Context, handler pahomqtt.MessageHandler) (func(), error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(p.clientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(client pahomqtt.Client) {
			token := client.Subscribe(p.topic, 1, handler)
			if token.WaitTimeout(connectTimeout) && token.Error() != nil {
				p.logger.Error("failed to subscribe to MQTT topic", slog.String("topic", p.topic),
					logger.Err(token.Error()))
			}
		})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	p.logger.Debug("connected to MQTT broker", slog.String("broker", p.broker), slog.String("topic", p.topic))
	return func() { client.Disconnect(quiesce) }, nil
}
