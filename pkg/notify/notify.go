// Package notify carries user-visible notices (toasts in the dashboard, chat
// messages in the bots) from the tools to whatever is listening.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a short message meant for the person at the desk.
type Notice struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Action  string    `json:"action,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notice) error

func (f Func) Notify(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// Multi fans a notice out to every notifier, returning all errors joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notices to a zap logger.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, n Notice) error {
	fields := []zap.Field{
		zap.String("title", n.Title),
		zap.String("action", n.Action),
	}
	switch n.Level {
	case LevelError:
		l.Logger.Error(n.Message, fields...)
	case LevelWarning:
		l.Logger.Warn(n.Message, fields...)
	default:
		l.Logger.Info(n.Message, fields...)
	}
	return nil
}

// Nop drops every notice.
var Nop Notifier = Func(func(context.Context, Notice) error { return nil })

// Error builds an error-level notice.
func Error(action, title, message string) Notice {
	return Notice{Level: LevelError, Title: title, Message: message, Action: action, Time: time.Now()}
}

// Info builds an info-level notice.
func Info(action, title, message string) Notice {
	return Notice{Level: LevelInfo, Title: title, Message: message, Action: action, Time: time.Now()}
}
