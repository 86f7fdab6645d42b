package events

import (
	"fmt"
	"time"
)

// Category classifies a log event. The set matches what the log panel renders.
type Category string

const (
	CategoryInfo    Category = "info"
	CategorySuccess Category = "success"
	CategoryWarning Category = "warning"
	CategoryDanger  Category = "danger"
	CategoryCache   Category = "cache"
	CategoryRequest Category = "request"
)

// Type distinguishes event payloads.
type Type string

const (
	// TypeLog is a categorised human-readable message.
	TypeLog Type = "log"
	// TypeProgress reports loaded/total for the declared queue.
	TypeProgress Type = "progress"
	// TypeItem reports a declared item's state transition.
	TypeItem Type = "item"
	// TypeFatal is the critical-error payload. Emitted at most once per context.
	TypeFatal Type = "fatal"
)

// Role names the kind of execution context that produced an event.
type Role string

const (
	RoleTop   Role = "top"
	RoleChild Role = "child"
)

// ItemUpdate describes a declared resource item after a state change.
type ItemUpdate struct {
	Index   int
	Kind    string
	Locator string
	State   string
}

// Event is a single observable occurrence inside one context.
type Event struct {
	Seq      int64
	Time     time.Time
	Role     Role
	Context  string // context name, e.g. the page path
	Type     Type
	Category Category
	Message  string

	// Progress
	Loaded int
	Total  int

	// Item
	Item *ItemUpdate

	// Fatal
	Err       error
	Locator   string
	Diagnosis string
}

// String renders the event on one line, without the timestamp.
func (e Event) String() string {
	switch e.Type {
	case TypeProgress:
		return fmt.Sprintf("#%d [%s] progress %d/%d", e.Seq, e.Role, e.Loaded, e.Total)
	case TypeItem:
		if e.Item != nil {
			return fmt.Sprintf("#%d [%s] item %d %s:%s -> %s", e.Seq, e.Role, e.Item.Index, e.Item.Kind, e.Item.Locator, e.Item.State)
		}
	case TypeFatal:
		return fmt.Sprintf("#%d [%s] FATAL %s: %v", e.Seq, e.Role, e.Locator, e.Err)
	}
	return fmt.Sprintf("#%d [%s] %s: %s", e.Seq, e.Role, e.Category, e.Message)
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Handle calls f(e).
func (f SinkFunc) Handle(e Event) { f(e) }
