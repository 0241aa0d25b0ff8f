// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package desktop shows geofence events as freedesktop notifications on the D-Bus session bus.
package desktop

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-geofence/internal/geofence"
)

const (
	name = "desktop"

	busName      = "org.freedesktop.Notifications"
	objectPath   = "/org/freedesktop/Notifications"
	notifyMethod = busName + ".Notify"
	appName      = "waybar-geofence"

	iconInside  = "go-home"
	iconOutside = "mark-location"

	DefaultExpire = time.Second * 5
)

const (
	msgEntered  localize.MsgID = "Entered %s"
	msgLeft     localize.MsgID = "Left %s"
	msgDistance localize.MsgID = "Distance to center: %.0f m"
	msgFence    localize.MsgID = "geofence"
)

// caller is the part of dbus.BusObject the notifier needs.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier sends a desktop notification for every event.
type Notifier struct {
	obj       caller
	conn      *dbus.Conn
	localizer *spreak.Localizer
	expire    time.Duration
}

// New connects to the session bus. The localizer may be nil, in which case English texts are used.
func New(ctx context.Context, loc *spreak.Localizer) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	notifier := newNotifier(conn.Object(busName, objectPath), loc)
	notifier.conn = conn
	return notifier, nil
}

func newNotifier(obj caller, loc *spreak.Localizer) *Notifier {
	return &Notifier{obj: obj, localizer: loc, expire: DefaultExpire}
}

func (n *Notifier) Name() string {
	return name
}

// Notify calls org.freedesktop.Notifications.Notify for the event.
func (n *Notifier) Notify(ctx context.Context, event geofence.Event) error {
	summary, body, icon := n.render(event)
	call := n.obj.CallWithContext(ctx, notifyMethod, 0, appName, uint32(0), icon, summary, body,
		[]string{}, map[string]dbus.Variant{}, int32(n.expire.Milliseconds()))
	if call.Err != nil {
		return fmt.Errorf("failed to send desktop notification: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("failed to read notification id: %w", err)
	}
	return nil
}

// Close closes the session bus connection if the notifier owns one.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

func (n *Notifier) render(event geofence.Event) (summary, body, icon string) {
	fence := event.Fence.Name
	if fence == "" {
		fence = n.get(msgFence)
	}
	switch event.Type {
	case geofence.InsideFence:
		summary, icon = fmt.Sprintf(n.get(msgEntered), fence), iconInside
	default:
		summary, icon = fmt.Sprintf(n.get(msgLeft), fence), iconOutside
	}
	body = fmt.Sprintf(n.get(msgDistance), event.Distance)
	return summary, body, icon
}

func (n *Notifier) get(id localize.MsgID) string {
	if n.localizer == nil {
		return string(id)
	}
	return n.localizer.Get(id)
}
