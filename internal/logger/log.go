// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger so the rest of the code base can depend on a single logger type.
type Logger struct {
	*slog.Logger
}

// New returns a Logger writing text records to stderr. Stdout is reserved for waybar output.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger that writes text records of at least the given level to output.
func NewLogger(level slog.Level, output io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))}
}

// Err returns the error as slog attribute.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Coordinate groups a latitude/longitude pair as a single log attribute.
func Coordinate(lat, lon float64) slog.Attr {
	return slog.Group("coordinate", slog.Float64("lat", lat), slog.Float64("lon", lon))
}
