// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/http"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
	"github.com/wneessen/waybar-geofence/internal/testhelper"
)

var testEvent = geofence.Event{
	Type:     geofence.OutsideFence,
	Previous: geofence.MembershipInside,
	Fix:      geofence.NewFix(52.516275, 13.382, time.Date(2026, 1, 18, 7, 1, 2, 0, time.UTC)),
	Distance: 312.7,
	Fence:    geofence.Fence{Name: "office", Radius: 150},
}

func testClient() *http.Client {
	return http.New(logger.NewLogger(slog.LevelDebug, io.Discard))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https URL", "https://example.com/hook", false},
		{"http URL with port", "http://localhost:8080/hook", false},
		{"missing scheme", "example.com/hook", true},
		{"unsupported scheme", "ftp://example.com/hook", true},
		{"unparsable URL", "http://[::1", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(testClient(), tc.url, nil)
			if tc.wantErr && err == nil {
				t.Error("expected error, but didn't get one")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected no error, got: %s", err)
			}
		})
	}
	t.Run("missing client fails", func(t *testing.T) {
		if _, err := New(nil, "https://example.com/hook", nil); err == nil {
			t.Error("expected error, but didn't get one")
		}
	})
}

func TestNotifier_Notify(t *testing.T) {
	t.Run("event is posted as JSON", func(t *testing.T) {
		var received notify.Message
		var contentType, token string
		server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			contentType = r.Header.Get("Content-Type")
			token = r.Header.Get("X-Token")
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Errorf("failed to decode webhook payload: %s", err)
			}
			w.WriteHeader(stdhttp.StatusNoContent)
		}))
		defer server.Close()

		notifier, err := New(testClient(), server.URL, map[string]string{"X-Token": "secret"})
		if err != nil {
			t.Fatalf("failed to create webhook notifier: %s", err)
		}
		if err = notifier.Notify(t.Context(), testEvent); err != nil {
			t.Fatalf("failed to notify: %s", err)
		}
		if contentType != "application/json" {
			t.Errorf("expected content type to be application/json, got %s", contentType)
		}
		if token != "secret" {
			t.Errorf("expected custom header to be sent, got %q", token)
		}
		if received.Fence != "office" || received.Event != "outside_fence" || received.Previous != "inside" {
			t.Errorf("unexpected payload %+v", received)
		}
		if !received.Timestamp.Equal(testEvent.Fix.Timestamp) {
			t.Errorf("expected timestamp %s, got %s", testEvent.Fix.Timestamp, received.Timestamp)
		}
	})
	t.Run("non-2xx status fails", func(t *testing.T) {
		server := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
			w.WriteHeader(stdhttp.StatusBadGateway)
		}))
		defer server.Close()

		notifier, err := New(testClient(), server.URL, nil)
		if err != nil {
			t.Fatalf("failed to create webhook notifier: %s", err)
		}
		err = notifier.Notify(t.Context(), testEvent)
		if !errors.Is(err, ErrUnexpectedStatus) {
			t.Errorf("expected error to be %s, got %v", ErrUnexpectedStatus, err)
		}
	})
	t.Run("transport errors are returned", func(t *testing.T) {
		client := testClient()
		client.Transport = testhelper.MockRoundTripper{Fn: func(*stdhttp.Request) (*stdhttp.Response, error) {
			return nil, errors.New("intentionally failing")
		}}
		notifier, err := New(client, "https://example.com/hook", nil)
		if err != nil {
			t.Fatalf("failed to create webhook notifier: %s", err)
		}
		err = notifier.Notify(t.Context(), testEvent)
		if err == nil || !strings.Contains(err.Error(), "intentionally failing") {
			t.Errorf("expected transport error, got %v", err)
		}
	})
}
