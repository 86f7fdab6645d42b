package events

import (
	"strings"
	"sync"
)

// Recorder is an in-memory sink. Used by tests and the CLI summary.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Handle implements Sink.
func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of type t in order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns the messages of log events in category c.
func (r *Recorder) Messages(c Category) []string {
	var out []string
	for _, e := range r.OfType(TypeLog) {
		if e.Category == c {
			out = append(out, e.Message)
		}
	}
	return out
}

// Contains reports whether any log message contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, e := range r.OfType(TypeLog) {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
