// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/waybar-geofence/internal/logger"
)

type fakeMQTTMessage struct {
	payload []byte
}

func (f *fakeMQTTMessage) Duplicate() bool   { return false }
func (f *fakeMQTTMessage) Qos() byte         { return 1 }
func (f *fakeMQTTMessage) Retained() bool    { return false }
func (f *fakeMQTTMessage) Topic() string     { return "owntracks/me/phone" }
func (f *fakeMQTTMessage) MessageID() uint16 { return 0 }
func (f *fakeMQTTMessage) Payload() []byte   { return f.payload }
func (f *fakeMQTTMessage) Ack()              {}

func testProvider(t *testing.T) *GeolocationMQTTProvider {
	t.Helper()
	provider, err := NewGeolocationMQTTProvider("tcp://localhost:1883", "owntracks/me/phone", "",
		logger.NewLogger(slog.LevelDebug, io.Discard))
	if err != nil {
		t.Fatalf("failed to create MQTT provider: %s", err)
	}
	return provider
}

func TestNewGeolocationMQTTProvider(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	t.Run("new MQTT provider succeeds", func(t *testing.T) {
		provider := testProvider(t)
		if provider.clientID != "waybar-geofence" {
			t.Errorf("expected default client id, got %s", provider.clientID)
		}
		if provider.Name() != name {
			t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
		}
	})
	t.Run("missing settings fail", func(t *testing.T) {
		tests := []struct {
			name   string
			broker string
			topic  string
			log    *logger.Logger
		}{
			{"no broker", "", "topic", log},
			{"no topic", "tcp://localhost:1883", "", log},
			{"no logger", "tcp://localhost:1883", "topic", nil},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := NewGeolocationMQTTProvider(tc.broker, tc.topic, "", tc.log); err == nil {
					t.Fatal("expected provider creation to fail")
				}
			})
		}
	})
}

func TestGeolocationMQTTProvider_handleMessage(t *testing.T) {
	provider := testProvider(t)
	t.Run("valid message", func(t *testing.T) {
		payload := []byte(`{"latitude":52.516275,"longitude":13.377704,"accuracy":12,"timestamp":1715003456}`)
		result, err := provider.handleMessage("test", &fakeMQTTMessage{payload: payload})
		if err != nil {
			t.Fatalf("failed to handle message: %s", err)
		}
		if result.Lat != 52.516275 || result.Lon != 13.377704 {
			t.Errorf("unexpected coordinate %f,%f", result.Lat, result.Lon)
		}
		if result.AccuracyMeters != 12 {
			t.Errorf("expected accuracy to be 12, got %f", result.AccuracyMeters)
		}
		if !result.At.Equal(time.Unix(1715003456, 0)) {
			t.Errorf("expected timestamp to be taken from the message, got %s", result.At)
		}
		if result.Key != "test" || result.Source != name {
			t.Errorf("unexpected key or source: %s, %s", result.Key, result.Source)
		}
	})
	t.Run("missing accuracy and timestamp use defaults", func(t *testing.T) {
		result, err := provider.handleMessage("test", &fakeMQTTMessage{payload: []byte(`{"latitude":1,"longitude":2}`)})
		if err != nil {
			t.Fatalf("failed to handle message: %s", err)
		}
		if result.AccuracyMeters != DefaultAccuracy {
			t.Errorf("expected accuracy to be %d, got %f", DefaultAccuracy, result.AccuracyMeters)
		}
		if result.At.IsZero() {
			t.Error("expected timestamp to be set")
		}
	})
	t.Run("explicit zero coordinates are accepted", func(t *testing.T) {
		result, err := provider.handleMessage("test", &fakeMQTTMessage{payload: []byte(`{"latitude":0,"longitude":0}`)})
		if err != nil {
			t.Fatalf("failed to handle message: %s", err)
		}
		if result.Lat != 0 || result.Lon != 0 {
			t.Errorf("expected coordinate to be 0,0, got %f,%f", result.Lat, result.Lon)
		}
	})
	t.Run("invalid messages fail", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
		}{
			{"broken JSON", `NOT_JSON`},
			{"missing coordinates", `{"accuracy":5}`},
			{"missing latitude", `{"longitude":2,"accuracy":5}`},
			{"missing longitude", `{"latitude":1,"accuracy":5}`},
			{"null coordinates", `{"latitude":null,"longitude":null}`},
			{"latitude out of range", `{"latitude":91,"longitude":2}`},
			{"longitude out of range", `{"latitude":1,"longitude":-181}`},
			{"negative accuracy", `{"latitude":1,"longitude":2,"accuracy":-1}`},
			{"negative timestamp", `{"latitude":1,"longitude":2,"timestamp":-1}`},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := provider.handleMessage("test", &fakeMQTTMessage{payload: []byte(tc.payload)}); err == nil {
					t.Fatal("expected message handling to fail")
				}
			})
		}
	})
}

func TestGeolocationMQTTProvider_LookupStream(t *testing.T) {
	t.Run("valid messages are streamed", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			var disconnected atomic.Bool
			provider := testProvider(t)
			provider.connectFn = func(_ context.Context, handler pahomqtt.MessageHandler) (func(), error) {
				go func() {
					handler(nil, &fakeMQTTMessage{payload: []byte(`NOT_JSON`)})
					handler(nil, &fakeMQTTMessage{payload: []byte(`{"latitude":1,"longitude":2,"accuracy":3}`)})
				}()
				return func() { disconnected.Store(true) }, nil
			}

			out := provider.LookupStream(ctx, "test")
			result := <-out
			cancel()
			synctest.Wait()

			if result.Lat != 1 || result.Lon != 2 || result.AccuracyMeters != 3 {
				t.Errorf("unexpected result %+v", result)
			}
			if _, ok := <-out; ok {
				t.Error("expected stream to be closed")
			}
			if !disconnected.Load() {
				t.Error("expected client to be disconnected")
			}
		})
	})
	t.Run("a failing connection closes the stream", func(t *testing.T) {
		provider := testProvider(t)
		provider.connectFn = func(context.Context, pahomqtt.MessageHandler) (func(), error) {
			return nil, errors.New("intentionally failing")
		}
		out := provider.LookupStream(t.Context(), "test")
		if _, ok := <-out; ok {
			t.Error("expected stream to be closed")
		}
	})
}
