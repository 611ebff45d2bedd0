// Package logging defines the logging interface used across reflow.
//
// The interface is dependency-free so callers can plug in any backend.
// The default implementation wraps log/slog.
package logging

import "log/slog"

// Logger is the interface for operational logging, warnings, and error
// reporting. Arguments follow the slog convention of alternating keys
// and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// slogLogger adapts a *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlog returns a Logger backed by the given slog.Logger.
func NewSlog(l *slog.Logger) Logger {
	return &slogLogger{l: l}
}

// Default returns a Logger backed by slog.Default().
func Default() Logger {
	return &slogLogger{l: slog.Default()}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// nopLogger discards all log output.
type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
