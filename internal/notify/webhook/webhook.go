// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package webhook posts geofence events as JSON to a HTTP endpoint.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/http"
	"github.com/wneessen/waybar-geofence/internal/notify"
)

const name = "webhook"

var ErrUnexpectedStatus = errors.New("webhook returned unexpected status")

type Notifier struct {
	http    *http.Client
	url     string
	headers map[string]string
}

// New returns a webhook notifier for endpoint. Only http and https URLs are accepted.
func New(client *http.Client, endpoint string, headers map[string]string) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook URL: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", endpoint)
	}
	return &Notifier{http: client, url: endpoint, headers: headers}, nil
}

func (n *Notifier) Name() string {
	return name
}

// Notify posts the event. Any non-2xx response is treated as a failure.
func (n *Notifier) Notify(ctx context.Context, event geofence.Event) error {
	code, err := n.http.PostJSON(ctx, n.url, notify.NewMessage(event), nil, n.headers)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
	return nil
}
