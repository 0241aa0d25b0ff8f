// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-geofence/internal/config"
	"github.com/wneessen/waybar-geofence/internal/geofence"
	"github.com/wneessen/waybar-geofence/internal/i18n"
)

// DisplayData is the data available to the waybar templates.
type DisplayData struct {
	Fence         geofence.Fence
	Membership    string
	Icon          string
	IconWithSpace string

	HasLocation bool
	Latitude    float64
	Longitude   float64
	Distance    float64
	LastFix     time.Time
	LastChange  time.Time

	FixCount     uint64
	InsideCount  uint64
	OutsideCount uint64
}

type Templates struct {
	Text      *template.Template
	AltText   *template.Template
	Tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
	icons     map[geofence.Membership]string
}

var i18nVars = map[string]localize.MsgID{
	"inside":     "Inside fence",
	"outside":    "Outside fence",
	"unknown":    "Location unknown",
	"fence":      "Fence",
	"status":     "Status",
	"distance":   "Distance",
	"lastfix":    "Last fix",
	"lastchange": "Last change",
	"fixes":      "Fixes",
}

func New(conf *config.Config, loc *spreak.Localizer) (*Templates, error) {
	tpls := &Templates{
		localizer: loc,
		humanizer: humanize.MustNew(humanize.WithLocale(de.New())).CreateHumanizer(i18n.Tag(conf.Locale)),
		icons: map[geofence.Membership]string{
			geofence.MembershipInside:  conf.Templates.IconInside,
			geofence.MembershipOutside: conf.Templates.IconOutside,
			geofence.MembershipUnknown: conf.Templates.IconUnknown,
		},
	}

	tpl, err := template.New("text").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse text template: %w", err)
	}
	tpls.Text = tpl

	tpl, err = template.New("alt_text").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.AltText)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse alt text template: %w", err)
	}
	tpls.AltText = tpl

	tpl, err = template.New("tooltip").Funcs(tpls.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return tpls, fmt.Errorf("failed to parse tooltip template: %w", err)
	}
	tpls.Tooltip = tpl

	return tpls, nil
}

// BuildData converts a service snapshot into template data.
func (t *Templates) BuildData(snap geofence.Snapshot) DisplayData {
	icon := t.icons[snap.Membership]
	data := DisplayData{
		Fence:         snap.Fence,
		Membership:    snap.Membership.String(),
		Icon:          icon,
		IconWithSpace: IconWithSpace(icon),
		HasLocation:   snap.HasLocation,
		Latitude:      snap.Location.Lat,
		Longitude:     snap.Location.Lon,
		Distance:      snap.Distance,
		LastFix:       snap.LastFix.Timestamp,
		FixCount:      snap.FixCount,
		InsideCount:   snap.InsideCount,
		OutsideCount:  snap.OutsideCount,
	}
	if snap.LastEvent != nil {
		data.LastChange = snap.LastEvent.At
	}
	return data
}

func (t *Templates) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":  timeFormat,
		"floatFormat": floatFormat,
		"distance":    distance,
		"since":       t.since,
		"loc":         t.loc,
		"lc":          strings.ToLower,
		"uc":          strings.ToUpper,
	}
}

func (t *Templates) loc(val string) string {
	if raw, ok := i18nVars[strings.ToLower(val)]; ok {
		return t.localizer.Get(raw)
	}
	return val
}

// since renders a timestamp as natural time, e.g. "3 minutes ago". A zero time renders as "-".
func (t *Templates) since(val time.Time) string {
	if val.IsZero() {
		return "-"
	}
	return t.humanizer.NaturalTime(val)
}

func timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func floatFormat(val float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, val)
}

// distance formats meters, switching to kilometers from 1 km on.
func distance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// IconWithSpace pads an icon so that it is followed by a visible gap, regardless of its cell width.
func IconWithSpace(icon string) string {
	if icon == "" {
		return ""
	}
	width := runewidth.StringWidth(icon)
	return fmt.Sprintf("%s%s", icon, strings.Repeat(" ", width))
}
