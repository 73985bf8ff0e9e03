// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package logging provides the structured logging adapter used across the
// metadata index: a small Logger interface plus a logrus-backed
// StandardLogger, adapted from the teacher's logging/internal-logging split
// (github.com/sirupsen/logrus underneath both). Collapsed into one package
// since metabase has no separate "public API" vs "v1 implementation" split
// to mirror.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Level is a logging severity, ordered from most to least verbose.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) toLogrus() logrus.Level {
	switch l {
	case Debug:
		return logrus.DebugLevel
	case Warn:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the interface every component in metabase logs through, so
// callers can swap in a buffering test logger without touching call sites.
type Logger interface {
	Debug(fmt string, a ...any)
	Info(fmt string, a ...any)
	Warn(fmt string, a ...any)
	Error(fmt string, a ...any)
	WithFields(fields map[string]any) Logger
	GetFields() map[string]any
	SetLevel(Level)
	GetLevel() Level
}

// StandardLogger is the default Logger, backed by logrus.
type StandardLogger struct {
	entry  *logrus.Entry
	fields map[string]any
}

// New returns a StandardLogger at Info level, logging to os.Stderr with
// logrus's default text formatter (see SetFormatter/GetFormatter for JSON).
func New() *StandardLogger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &StandardLogger{entry: logrus.NewEntry(l)}
}

// SetOutput redirects the underlying logrus output, mainly for tests.
func (s *StandardLogger) SetOutput(w io.Writer) { s.entry.Logger.SetOutput(w) }

// SetFormatter installs f (see GetFormatter) as the logrus formatter.
func (s *StandardLogger) SetFormatter(f logrus.Formatter) { s.entry.Logger.SetFormatter(f) }

func (s *StandardLogger) Debug(f string, a ...any) { s.entry.WithFields(toLogrusFields(s.fields)).Debugf(f, a...) }
func (s *StandardLogger) Info(f string, a ...any)  { s.entry.WithFields(toLogrusFields(s.fields)).Infof(f, a...) }
func (s *StandardLogger) Warn(f string, a ...any)  { s.entry.WithFields(toLogrusFields(s.fields)).Warnf(f, a...) }
func (s *StandardLogger) Error(f string, a ...any) { s.entry.WithFields(toLogrusFields(s.fields)).Errorf(f, a...) }

// WithFields returns a copy of the logger carrying fields merged over any
// fields already attached.
func (s *StandardLogger) WithFields(fields map[string]any) Logger {
	merged := make(map[string]any, len(s.fields)+len(fields))
	for k, v := range s.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StandardLogger{entry: s.entry, fields: merged}
}

func (s *StandardLogger) GetFields() map[string]any { return s.fields }

func (s *StandardLogger) SetLevel(level Level) { s.entry.Logger.SetLevel(level.toLogrus()) }

func (s *StandardLogger) GetLevel() Level {
	switch s.entry.Logger.GetLevel() {
	case logrus.DebugLevel:
		return Debug
	case logrus.WarnLevel:
		return Warn
	case logrus.ErrorLevel:
		return Error
	default:
		return Info
	}
}

func toLogrusFields(m map[string]any) logrus.Fields {
	f := make(logrus.Fields, len(m))
	for k, v := range m {
		f[k] = v
	}
	return f
}

// NoOpLogger discards everything; the default when no logger is configured.
type NoOpLogger struct {
	fields map[string]any
}

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (*NoOpLogger) Debug(string, ...any) {}
func (*NoOpLogger) Info(string, ...any)  {}
func (*NoOpLogger) Warn(string, ...any)  {}
func (*NoOpLogger) Error(string, ...any) {}
func (n *NoOpLogger) WithFields(fields map[string]any) Logger {
	return &NoOpLogger{fields: fields}
}
func (n *NoOpLogger) GetFields() map[string]any { return n.fields }
func (*NoOpLogger) SetLevel(Level)              {}
func (*NoOpLogger) GetLevel() Level             { return Info }

// ParseLevel parses a config-file level name, defaulting to Info.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug":
		return Debug, nil
	case "", "info":
		return Info, nil
	case "warn":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, &badLevelError{level}
	}
}

type badLevelError struct{ level string }

func (e *badLevelError) Error() string { return "invalid log level: " + e.level }

// GetFormatter returns the logrus.Formatter named by format: "text" for the
// hand-rolled prettyFormatter, "json-pretty" for indented JSON, anything
// else for compact JSON.
func GetFormatter(format, timestampFormat string) logrus.Formatter {
	switch format {
	case "text":
		return &prettyFormatter{}
	case "json-pretty":
		return &logrus.JSONFormatter{PrettyPrint: true, TimestampFormat: timestampFormat}
	default:
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
}
