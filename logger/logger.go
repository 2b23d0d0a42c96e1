// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package logger provides structured logging for the server.
//
// It wraps log/slog so that every package logs through the same handler.
// Initialize once at startup; the package-level helpers then log through
// the configured logger. Before initialization they fall back to
// slog.Default, which keeps tests and small tools working without setup.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

// Initialize configures the package logger. Format is "json" or "text";
// level is one of debug, info, warn, error.
func Initialize(w io.Writer, format, level string) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	current.Store(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the configured logger.
func L() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// Debug logs at debug level with key-value pairs.
func Debug(msg string, args ...any) { L().Debug(msg, args...) }

// Info logs at info level with key-value pairs.
func Info(msg string, args ...any) { L().Info(msg, args...) }

// Warn logs at warn level with key-value pairs.
func Warn(msg string, args ...any) { L().Warn(msg, args...) }

// Error logs at error level with key-value pairs.
func Error(msg string, args ...any) { L().Error(msg, args...) }
