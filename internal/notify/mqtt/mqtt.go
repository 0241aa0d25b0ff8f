// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package mqtt publishes geofence events to an MQTT topic. Messages are retained, so a new subscriber
// learns the latest crossing right away.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
)

const (
	name = "mqtt"

	qos     = 1
	quiesce = 250
)

// publisher is the subset of pahomqtt.Client used by the notifier.
type publisher interface {
	IsConnectionOpen() bool
	Connect() pahomqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

type Notifier struct {
	topic  string
	logger *logger.Logger
	mu     sync.Mutex
	client publisher
}

// New returns a notifier that publishes to topic on broker. The connection is established on the first
// event and re-established by the client if it drops.
func New(broker, topic, clientID string, log *logger.Logger) (*Notifier, error) {
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
		clientID = "waybar-geofence-notify"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	return newNotifier(pahomqtt.NewClient(opts), topic, log), nil
}

func newNotifier(client publisher, topic string, log *logger.Logger) *Notifier {
	return &Notifier{client: client, topic: topic, logger: log}
}

func (n *Notifier) Name() string {
	return name
}

// Notify publishes the event as JSON and waits for the broker acknowledgement or ctx.
func (n *Notifier) Notify(ctx context.Context, event geofence.Event) error {
	payload, err := json.Marshal(notify.NewMessage(event))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.client.IsConnectionOpen() {
		if err = wait(ctx, n.client.Connect()); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		n.logger.Debug("connected to MQTT broker for notifications", slog.String("topic", n.topic))
	}
	if err = wait(ctx, n.client.Publish(n.topic, qos, true, payload)); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client.IsConnectionOpen() {
		n.client.Disconnect(quiesce)
	}
}

func wait(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	return token.Error()
}
