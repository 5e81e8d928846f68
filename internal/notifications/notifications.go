// Package notifications contains the sinks that receive user facing messages.
package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

type Severity string

const (
	Success Severity = "success"
	Error   Severity = "error"
	Warning Severity = "warning"
	Info    Severity = "info"
)

// DefaultAutoDismiss is used when a notification does not specify how long it should be shown
const DefaultAutoDismiss time.Duration = 5 * time.Second

// Notifier receives human readable messages. An autoDismiss of zero keeps the notification until dismissed.
type Notifier interface {
	Notify(message string, severity Severity, autoDismiss time.Duration)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(message string, severity Severity, autoDismiss time.Duration)

func (f NotifierFunc) Notify(message string, severity Severity, autoDismiss time.Duration) {
	f(message, severity, autoDismiss)
}

// Nop drops every notification
type Nop struct{}

func (Nop) Notify(string, Severity, time.Duration) {}

// Multi forwards every notification to all of its members
type Multi []Notifier

func (m Multi) Notify(message string, severity Severity, autoDismiss time.Duration) {
	for _, n := range m {
		if n != nil {
			n.Notify(message, severity, autoDismiss)
		}
	}
}

// LogNotifier writes the notifications to the structured log
type LogNotifier struct{}

func (LogNotifier) Notify(message string, severity Severity, autoDismiss time.Duration) {
	level := slog.LevelInfo
	switch severity {
	case Error:
		level = slog.LevelError
	case Warning:
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "NOTIFICATION", "message", message, "severity", severity, "autoDismiss", autoDismiss)
}

// SentryNotifier reports error notifications to sentry, other severities are ignored
type SentryNotifier struct {
	Hub *sentry.Hub
}

func (s SentryNotifier) Notify(message string, severity Severity, _ time.Duration) {
	if severity != Error {
		return
	}
	hub := s.Hub
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("component", "authclient")
		hub.CaptureMessage(message)
	})
}
