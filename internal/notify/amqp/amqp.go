// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package amqp publishes geofence events to a RabbitMQ fanout exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/notify"
)

const (
	name = "amqp"

	DefaultExchange = "waybar-geofence.events"
)

// channel is the subset of *amqp.Channel used by the notifier.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Notifier struct {
	exchange string
	conn     *amqp.Connection
	ch       channel
}

// New dials url and declares the exchange. An empty exchange uses DefaultExchange.
func New(url, exchange string) (*Notifier, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	notifier, err := newNotifier(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	notifier.conn = conn
	return notifier, nil
}

func newNotifier(ch channel, exchange string) (*Notifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}
	return &Notifier{exchange: exchange, ch: ch}, nil
}

func (n *Notifier) Name() string {
	return name
}

// Notify publishes the event as a persistent JSON message.
func (n *Notifier) Notify(ctx context.Context, event geofence.Event) error {
	msg := notify.NewMessage(event)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err = n.ch.PublishWithContext(ctx, n.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.Timestamp,
		Type:         msg.Event,
		AppId:        "waybar-geofence",
		Body:         body,
	}); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (n *Notifier) Close() error {
	err := n.ch.Close()
	if n.conn != nil {
		err = errors.Join(err, n.conn.Close())
	}
	return err
}

