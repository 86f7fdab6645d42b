package queue

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/page"
	"github.com/roach88/rshare/internal/resource"
)

// State is a declared item's lifecycle state.
type State string

const (
	Pending  State = "pending"
	Loaded   State = "loaded"
	Executed State = "executed"
	// FailedNonFatal items threw; the sequence went on.
	FailedNonFatal State = "failed-non-fatal"
	// FailedFatal items halted the sequence: they failed to load, or their
	// execution error was marked Unrecoverable.
	FailedFatal State = "failed-fatal"
)

var transitions = map[State][]State{
	Pending: {Loaded, FailedFatal},
	Loaded:  {Executed, FailedNonFatal, FailedFatal},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Item is one declared resource.
type Item struct {
	Index int
	Key   resource.Key
	State State
}

// TransitionError is an attempted state regression or skip.
type TransitionError struct {
	Item     resource.Key
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("item %s: invalid transition %s -> %s", e.Item, e.From, e.To)
}

// advance moves the item to next, refusing anything the lifecycle does not allow.
func (it *Item) advance(next State) error {
	for _, allowed := range transitions[it.State] {
		if allowed == next {
			it.State = next
			return nil
		}
	}
	return &TransitionError{Item: it.Key, From: it.State, To: next}
}

// Parse turns resource-share markers into items, keeping document order.
// Markers without a locator or with an unknown kind are skipped with a
// warning.
func Parse(markers []page.Marker, bus *events.Bus) []*Item {
	items := make([]*Item, 0, len(markers))
	for _, m := range markers {
		if m.Locator == "" || m.Kind == "" {
			bus.Logf(events.CategoryWarning, "resource-share marker without type or src/href skipped")
			continue
		}
		kind, err := resource.ParseKind(m.Kind)
		if err != nil {
			msg := fmt.Sprintf("resource-share %s has unknown type %q, skipped", m.Locator, m.Kind)
			if s := suggestKind(m.Kind); s != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", s)
			}
			bus.Logf(events.CategoryWarning, "%s", msg)
			continue
		}
		items = append(items, &Item{
			Index: len(items),
			Key:   resource.Key{Kind: kind, Locator: m.Locator},
			State: Pending,
		})
	}
	return items
}

// suggestKind returns the closest valid kind within edit distance 2, or "".
func suggestKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	best, bestDist := "", 3
	for _, k := range resource.Kinds {
		if d := levenshtein.ComputeDistance(s, string(k)); d < bestDist {
			best, bestDist = string(k), d
		}
	}
	return best
}
