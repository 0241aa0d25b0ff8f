// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const (
	configEnv         = "WAYBARGEOFENCE"
	DefaultTextTpl    = "{{.IconWithSpace}}{{loc .Membership}}"
	DefaultAltTextTpl = "{{.IconWithSpace}}{{if .HasLocation}}{{distance .Distance}}{{else}}{{loc .Membership}}{{end}}"
	DefaultTooltipTpl = "{{loc \"fence\"}}: {{.Fence.Name}} ({{distance .Fence.Radius}})\n" +
		"{{loc \"status\"}}: {{loc .Membership}}" +
		"{{if .HasLocation}}\n{{loc \"distance\"}}: {{distance .Distance}}\n" +
		"{{loc \"lastfix\"}}: {{since .LastFix}}{{end}}"

	DefaultIconInside  = "🏠"
	DefaultIconOutside = "🧭"
	DefaultIconUnknown = "❓"
)

var ErrFenceNotConfigured = errors.New("fence center is not configured")

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Fence struct {
		Name      string  `fig:"name" default:"home"`
		Latitude  float64 `fig:"latitude"`
		Longitude float64 `fig:"longitude"`
		// Radius in meters
		Radius float64 `fig:"radius" default:"100"`
	} `fig:"fence"`

	Location struct {
		Key string `fig:"key" default:"waybar-geofence"`
		// Worst accepted accuracy in meters, 0 accepts every fix
		DesiredAccuracy float64       `fig:"desired_accuracy"`
		InitTimeout     time.Duration `fig:"init_timeout" default:"30s"`
	} `fig:"location"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text        string `fig:"text"`
		AltText     string `fig:"alt_text"`
		Tooltip     string `fig:"tooltip"`
		IconInside  string `fig:"icon_inside"`
		IconOutside string `fig:"icon_outside"`
		IconUnknown string `fig:"icon_unknown"`
	} `fig:"templates"`

	GeoLocation struct {
		TrackFile        string `fig:"track_file"`
		DisableTrackFile bool   `fig:"disable_track_file"`
		DisableGPSD      bool   `fig:"disable_gpsd"`
		GPSDAddr         string `fig:"gpsd_addr" default:"localhost:2947"`
		DisableICHNAEA   bool   `fig:"disable_ichnaea"`
		ICHNAEAEndpoint  string `fig:"ichnaea_endpoint"`
		MQTT             struct {
			Broker   string `fig:"broker"`
			Topic    string `fig:"topic"`
			ClientID string `fig:"client_id"`
		} `fig:"mqtt"`
	} `fig:"geolocation"`

	Notify struct {
		Desktop   bool          `fig:"desktop"`
		QueueSize int           `fig:"queue_size" default:"16"`
		Timeout   time.Duration `fig:"timeout" default:"10s"`
		Webhook   struct {
			URL string `fig:"url"`
		} `fig:"webhook"`
		MQTT struct {
			Broker   string `fig:"broker"`
			Topic    string `fig:"topic"`
			ClientID string `fig:"client_id"`
		} `fig:"mqtt"`
		AMQP struct {
			URL      string `fig:"url"`
			Exchange string `fig:"exchange"`
		} `fig:"amqp"`
	} `fig:"notify"`

	Status struct {
		// Empty disables the status API
		Listen string `fig:"listen"`
	} `fig:"status"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks the configuration and fills in the defaults that depend on the environment.
func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}

	// A fence at 0,0 is almost certainly a missing configuration
	if c.Fence.Latitude == 0 && c.Fence.Longitude == 0 {
		return ErrFenceNotConfigured
	}
	if c.Fence.Latitude < -90 || c.Fence.Latitude > 90 {
		return fmt.Errorf("invalid fence latitude: %f", c.Fence.Latitude)
	}
	if c.Fence.Longitude < -180 || c.Fence.Longitude > 180 {
		return fmt.Errorf("invalid fence longitude: %f", c.Fence.Longitude)
	}
	if c.Fence.Radius < 0 {
		return fmt.Errorf("invalid fence radius: %f", c.Fence.Radius)
	}
	if c.Location.DesiredAccuracy < 0 {
		return fmt.Errorf("invalid desired accuracy: %f", c.Location.DesiredAccuracy)
	}
	if c.Location.InitTimeout <= 0 {
		return fmt.Errorf("invalid init timeout: %s", c.Location.InitTimeout)
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}

	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.AltText == "" {
		c.Templates.AltText = DefaultAltTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.Templates.IconInside == "" {
		c.Templates.IconInside = DefaultIconInside
	}
	if c.Templates.IconOutside == "" {
		c.Templates.IconOutside = DefaultIconOutside
	}
	if c.Templates.IconUnknown == "" {
		c.Templates.IconUnknown = DefaultIconUnknown
	}

	if c.GeoLocation.TrackFile == "" {
		home, _ := os.UserHomeDir()
		c.GeoLocation.TrackFile = filepath.Join(home, ".config", "waybar-geofence", "location")
	}
	if (c.GeoLocation.MQTT.Broker == "") != (c.GeoLocation.MQTT.Topic == "") {
		return errors.New("geolocation mqtt requires both broker and topic")
	}
	if c.GeoLocation.DisableTrackFile && c.GeoLocation.DisableGPSD && c.GeoLocation.DisableICHNAEA &&
		c.GeoLocation.MQTT.Broker == "" {
		return errors.New("at least one geolocation provider must be enabled")
	}

	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("invalid notification queue size: %d", c.Notify.QueueSize)
	}
	if c.Notify.Webhook.URL != "" {
		parsed, err := url.Parse(c.Notify.Webhook.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("invalid webhook URL: %q", c.Notify.Webhook.URL)
		}
	}
	if (c.Notify.MQTT.Broker == "") != (c.Notify.MQTT.Topic == "") {
		return errors.New("notify mqtt requires both broker and topic")
	}

	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
