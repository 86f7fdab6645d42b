package testutil

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/roach88/rshare/internal/fetch"
)

// MapFetcher serves locators from memory.
//
// Unknown locators fail with HTTP 404. FailFirst makes the first n fetches
// of a locator fail with HTTP 500. Hold blocks fetches of a locator until
// the returned release func is called.
//
// Thread-safety: all methods are safe for concurrent use.
type MapFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	fail   map[string]int
	holds  map[string]chan struct{}
	calls  map[string]int
	total  int
}

// NewMapFetcher creates a fetcher serving bodies.
func NewMapFetcher(bodies map[string]string) *MapFetcher {
	f := &MapFetcher{
		bodies: make(map[string]string, len(bodies)),
		fail:   make(map[string]int),
		holds:  make(map[string]chan struct{}),
		calls:  make(map[string]int),
	}
	for k, v := range bodies {
		f.bodies[k] = v
	}
	return f
}

// Set adds or replaces a body.
func (f *MapFetcher) Set(locator, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[locator] = body
}

// FailFirst makes the next n fetches of locator fail with HTTP 500.
func (f *MapFetcher) FailFirst(locator string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[locator] = n
}

// Hold blocks fetches of locator until release is called.
func (f *MapFetcher) Hold(locator string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[locator] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Fetch implements fetch.Fetcher.
func (f *MapFetcher) Fetch(ctx context.Context, locator string) (string, error) {
	f.mu.Lock()
	f.calls[locator]++
	f.total++
	hold := f.holds[locator]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[locator] > 0 {
		f.fail[locator]--
		return "", &fetch.TransientFetchError{Locator: locator, Status: http.StatusInternalServerError}
	}
	body, ok := f.bodies[locator]
	if !ok {
		return "", &fetch.TransientFetchError{Locator: locator, Status: http.StatusNotFound, Err: errors.New("not found")}
	}
	return body, nil
}

// Calls returns how many times locator was fetched.
func (f *MapFetcher) Calls(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

// Total returns the number of fetches across all locators.
func (f *MapFetcher) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}
