// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{done: done, err: err}
}

func (f *fakeToken) Wait() bool                     { <-f.done; return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { <-f.done; return true }
func (f *fakeToken) Done() <-chan struct{}          { return f.done }
func (f *fakeToken) Error() error                   { return f.err }

type fakePublisher struct {
	connected   bool
	connects    int
	disconnects int
	topic       string
	retained    bool
	payload     []byte
	connectFn   func() pahomqtt.Token
	publishFn   func() pahomqtt.Token
}

func (f *fakePublisher) IsConnectionOpen() bool { return f.connected }

func (f *fakePublisher) Connect() pahomqtt.Token {
	f.connects++
	if f.connectFn != nil {
		return f.connectFn()
	}
	f.connected = true
	return newToken(nil)
}

func (f *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	f.topic = topic
	f.retained = retained
	f.payload, _ = payload.([]byte)
	if f.publishFn != nil {
		return f.publishFn()
	}
	return newToken(nil)
}

func (f *fakePublisher) Disconnect(uint) {
	f.disconnects++
	f.connected = false
}

var testEvent = geofence.Event{
	Type:     geofence.InsideFence,
	Previous: geofence.MembershipUnknown,
	Fix:      geofence.NewFix(52.516275, 13.377704, time.Date(2026, 1, 18, 7, 1, 2, 0, time.UTC)),
	Distance: 12,
	Fence:    geofence.Fence{Name: "home", Radius: 100},
}

func testLogger() *logger.Logger {
	return logger.NewLogger(slog.LevelDebug, io.Discard)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		broker  string
		topic   string
		log     *logger.Logger
		wantErr bool
	}{
		{"valid notifier", "tcp://localhost:1883", "geofence/events", testLogger(), false},
		{"missing broker", "", "geofence/events", testLogger(), true},
		{"missing topic", "tcp://localhost:1883", "", testLogger(), true},
		{"missing logger", "tcp://localhost:1883", "geofence/events", nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			notifier, err := New(tc.broker, tc.topic, "", tc.log)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error, but didn't get one")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to create notifier: %s", err)
			}
			if notifier.Name() != name {
				t.Errorf("expected notifier name to be %s, got %s", name, notifier.Name())
			}
		})
	}
}

func TestNotifier_Notify(t *testing.T) {
	t.Run("event is published retained after connecting", func(t *testing.T) {
		client := &fakePublisher{}
		notifier := newNotifier(client, "geofence/events", testLogger())
		if err := notifier.Notify(t.Context(), testEvent); err != nil {
			t.Fatalf("failed to notify: %s", err)
		}
		if err := notifier.Notify(t.Context(), testEvent); err != nil {
			t.Fatalf("failed to notify: %s", err)
		}
		if client.connects != 1 {
			t.Errorf("expected a single connect, got %d", client.connects)
		}
		if client.topic != "geofence/events" || !client.retained {
			t.Errorf("expected retained message on geofence/events, got %s (retained: %t)", client.topic,
				client.retained)
		}
		var msg notify.Message
		if err := json.Unmarshal(client.payload, &msg); err != nil {
			t.Fatalf("failed to decode payload: %s", err)
		}
		if msg.Event != "inside_fence" || msg.Previous != "unknown" || msg.Fence != "home" {
			t.Errorf("unexpected payload %+v", msg)
		}
	})
	t.Run("connect failure is returned", func(t *testing.T) {
		client := &fakePublisher{connectFn: func() pahomqtt.Token {
			return newToken(errors.New("intentionally failing"))
		}}
		notifier := newNotifier(client, "geofence/events", testLogger())
		if err := notifier.Notify(t.Context(), testEvent); err == nil {
			t.Error("expected error, but didn't get one")
		}
		if client.payload != nil {
			t.Error("expected nothing to be published")
		}
	})
	t.Run("publish failure is returned", func(t *testing.T) {
		client := &fakePublisher{publishFn: func() pahomqtt.Token {
			return newToken(errors.New("intentionally failing"))
		}}
		notifier := newNotifier(client, "geofence/events", testLogger())
		if err := notifier.Notify(t.Context(), testEvent); err == nil {
			t.Error("expected error, but didn't get one")
		}
	})
	t.Run("pending publish is abandoned when ctx ends", func(t *testing.T) {
		client := &fakePublisher{publishFn: func() pahomqtt.Token {
			return &fakeToken{done: make(chan struct{})}
		}}
		notifier := newNotifier(client, "geofence/events", testLogger())
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if err := notifier.Notify(ctx, testEvent); !errors.Is(err, context.Canceled) {
			t.Errorf("expected error to be %s, got %v", context.Canceled, err)
		}
	})
}

func TestNotifier_Close(t *testing.T) {
	client := &fakePublisher{}
	notifier := newNotifier(client, "geofence/events", testLogger())
	notifier.Close()
	if client.disconnects != 0 {
		t.Errorf("expected no disconnect without connection, got %d", client.disconnects)
	}
	if err := notifier.Notify(t.Context(), testEvent); err != nil {
		t.Fatalf("failed to notify: %s", err)
	}
	notifier.Close()
	if client.disconnects != 1 {
		t.Errorf("expected a single disconnect, got %d", client.disconnects)
	}
}
