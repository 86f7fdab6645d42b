package testutil

import (
	"sync"
	"time"
)

// SteppingNow returns a wall clock for events.WithNow that starts at start
// and advances by step on every call, so golden transcripts get stable
// timestamps.
//
// Thread-safety: the returned func is safe for concurrent use.
func SteppingNow(start time.Time, step time.Duration) func() time.Time {
	var (
		mu  sync.Mutex
		cur = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}
