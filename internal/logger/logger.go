// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the structured logging used throughout dynamofs:
// a small set of severities layered on top of log/slog, with either a
// human-readable text encoding or a JSON encoding, optionally rotated to
// disk with lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity mirrors the five levels the daemon logs at. They are mapped onto
// slog.Level so standard slog handlers can filter on them, but are rendered
// under their own names rather than slog's DEBUG/INFO/WARN/ERROR spelling.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

var severityNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

// Config controls how the default logger is constructed.
type Config struct {
	// "text" or "json".
	Format string
	// "trace", "debug", "info", "warning", "error".
	Severity string
	// If non-empty, logs are written to this file (rotated via lumberjack)
	// instead of stderr.
	Path string
}

func severityToLevel(s string) slog.Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var defaultLogger = slog.New(newHandler(os.Stderr, LevelInfo, "text"))

// Init replaces the default logger according to cfg. It is called once at
// daemon startup, after flags/config have been parsed.
func Init(cfg Config) {
	var out io.Writer = os.Stderr
	if cfg.Path != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	defaultLogger = slog.New(newHandler(out, severityToLevel(cfg.Severity), cfg.Format))
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				lvl, _ := a.Value.Any().(slog.Level)
				name, ok := severityNames[lvl]
				if !ok {
					name = lvl.String()
				}
				return slog.String("severity", name)
			case slog.TimeKey:
				return slog.String("time", a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func log(ctx context.Context, level slog.Level, format string, v ...any) {
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any)   { log(context.Background(), LevelTrace, format, v...) }
func Debugf(format string, v ...any)   { log(context.Background(), LevelDebug, format, v...) }
func Infof(format string, v ...any)    { log(context.Background(), LevelInfo, format, v...) }
func Warnf(format string, v ...any)    { log(context.Background(), LevelWarning, format, v...) }
func Errorf(format string, v ...any)   { log(context.Background(), LevelError, format, v...) }
