package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Bus fans events out to sinks.
//
// A nil *Bus is valid and drops everything, so components can be built
// without an observer in tests.
type Bus struct {
	role    Role
	context string
	clock   *Clock
	now     func() time.Time
	level   Level
	logger  *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock shares a logical clock between buses (e.g. all contexts of a run).
func WithClock(c *Clock) BusOption {
	return func(b *Bus) { b.clock = c }
}

// WithLevel filters log events below level before they reach sinks.
func WithLevel(l Level) BusOption {
	return func(b *Bus) { b.level = l }
}

// WithContextName labels every event with name.
func WithContextName(name string) BusOption {
	return func(b *Bus) { b.context = name }
}

// WithLogger mirrors log events to logger instead of slog.Default().
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithNow overrides the wall clock used for Event.Time.
func WithNow(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// NewBus creates a bus for a context with the given role.
func NewBus(role Role, opts ...BusOption) *Bus {
	b := &Bus{
		role:  role,
		clock: NewClock(),
		now:   time.Now,
		level: LevelDebug,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Role returns the role stamped on events.
func (b *Bus) Role() Role {
	if b == nil {
		return ""
	}
	return b.role
}

// Subscribe adds a sink.
func (b *Bus) Subscribe(s Sink) {
	if b == nil || s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Logf publishes a categorised log message.
func (b *Bus) Logf(c Category, format string, args ...any) {
	if b == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	b.mirror(c, msg)
	if !b.level.Allows(c) {
		return
	}
	b.publish(Event{Type: TypeLog, Category: c, Message: msg})
}

// Progress publishes a loaded/total update.
func (b *Bus) Progress(loaded, total int) {
	if b == nil {
		return
	}
	b.publish(Event{Type: TypeProgress, Loaded: loaded, Total: total})
}

// ItemChanged publishes an item state transition.
func (b *Bus) ItemChanged(u ItemUpdate) {
	if b == nil {
		return
	}
	b.publish(Event{Type: TypeItem, Item: &u})
}

// Fatal publishes the critical-error payload.
func (b *Bus) Fatal(err error, locator, diagnosis string) {
	if b == nil {
		return
	}
	b.logger0().Error("critical error",
		"role", b.role,
		"context", b.context,
		"locator", locator,
		"error", err,
	)
	b.publish(Event{Type: TypeFatal, Category: CategoryDanger, Err: err, Locator: locator, Diagnosis: diagnosis})
}

func (b *Bus) publish(e Event) {
	e.Seq = b.clock.Next()
	e.Time = b.now()
	e.Role = b.role
	e.Context = b.context

	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Handle(e)
	}
}

func (b *Bus) mirror(c Category, msg string) {
	l := b.logger0()
	switch c {
	case CategoryDanger:
		l.Error(msg, "role", b.role, "context", b.context, "category", c)
	case CategoryWarning:
		l.Warn(msg, "role", b.role, "context", b.context, "category", c)
	case CategoryCache, CategoryRequest:
		l.Debug(msg, "role", b.role, "context", b.context, "category", c)
	default:
		l.Info(msg, "role", b.role, "context", b.context, "category", c)
	}
}

func (b *Bus) logger0() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}
