// Package logger builds the engine's fanned-out slog.Logger, grounded
// directly on the teacher's ConsoleHandler/FanoutHandler
// (internal/logger/logger.go), with the Wails-runtime event sink replaced
// by a UI-agnostic eventbus publisher since the UI shell here is an
// external collaborator rather than an embedded webview.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// EventPublisher is the seam the bus-backed handler notifies; satisfied
// by *eventbus.Bus without importing it (avoids an import cycle).
type EventPublisher interface {
	Publish(event string, payload any)
}

// ConsoleHandler renders colorized, human-scannable lines to an
// io.Writer, for interactive runs.
type ConsoleHandler struct {
	w     io.Writer
	attrs []slog.Attr
}

func NewConsoleHandler(w io.Writer) *ConsoleHandler {
	return &ConsoleHandler{w: w}
}

func (h *ConsoleHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	level := colorForLevel(r.Level)
	fmt.Fprintf(h.w, "%s %s%-5s\033[0m %s", r.Time.Format(time.TimeOnly), level, r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, " %s=%v", a.Key, humanizeIfBytes(a))
		return true
	})
	fmt.Fprintln(h.w)
	return nil
}

func humanizeIfBytes(a slog.Attr) any {
	if a.Key == "bytes" {
		if n, ok := a.Value.Any().(int64); ok {
			return humanize.Bytes(uint64(n))
		}
	}
	return a.Value.Any()
}

func colorForLevel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m"
	case l >= slog.LevelWarn:
		return "\033[33m"
	case l >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ConsoleHandler{w: h.w, attrs: append(h.attrs, attrs...)}
}

func (h *ConsoleHandler) WithGroup(string) slog.Handler { return h }

// EventHandler republishes log records as eventbus "log:entry" events so a
// UI can render a live tail without scraping a file.
type EventHandler struct {
	publisher EventPublisher
}

func NewEventHandler(publisher EventPublisher) *EventHandler {
	return &EventHandler{publisher: publisher}
}

func (h *EventHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *EventHandler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]any{"level": r.Level.String(), "message": r.Message, "time": r.Time}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	h.publisher.Publish("log:entry", fields)
	return nil
}

func (h *EventHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *EventHandler) WithGroup(string) slog.Handler      { return h }

// FanoutHandler dispatches every record to each of its handlers, grounded
// directly on the teacher's FanoutHandler.
type FanoutHandler struct {
	handlers []slog.Handler
}

func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h.handlers {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, sub := range h.handlers {
		if err := sub.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		next[i] = sub.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: next}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		next[i] = sub.WithGroup(name)
	}
	return &FanoutHandler{handlers: next}
}

// New builds the engine's default logger: JSON to w, colorized console to
// console, and events to publisher.
func New(w, console io.Writer, publisher EventPublisher) *slog.Logger {
	handlers := []slog.Handler{
		slog.NewJSONHandler(w, nil),
		NewConsoleHandler(console),
	}
	if publisher != nil {
		handlers = append(handlers, NewEventHandler(publisher))
	}
	return slog.New(NewFanoutHandler(handlers...))
}
