package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rshare/internal/fetch"
)

func TestMapFetcher_ServesAndCounts(t *testing.T) {
	f := NewMapFetcher(map[string]string{"a.js": "A"})

	body, err := f.Fetch(context.Background(), "a.js")
	require.NoError(t, err)
	assert.Equal(t, "A", body)

	_, err = f.Fetch(context.Background(), "missing.js")
	require.Error(t, err)
	assert.True(t, fetch.IsTransient(err))
	assert.Equal(t, 404, fetch.StatusOf(err))

	assert.Equal(t, 1, f.Calls("a.js"))
	assert.Equal(t, 2, f.Total())
}

func TestMapFetcher_FailFirst(t *testing.T) {
	f := NewMapFetcher(map[string]string{"a.js": "A"})
	f.FailFirst("a.js", 2)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), "a.js")
		require.Error(t, err)
		assert.Equal(t, 500, fetch.StatusOf(err))
	}
	body, err := f.Fetch(context.Background(), "a.js")
	require.NoError(t, err)
	assert.Equal(t, "A", body)
}

func TestMapFetcher_Hold(t *testing.T) {
	f := NewMapFetcher(map[string]string{"a.js": "A"})
	release := f.Hold("a.js")

	done := make(chan string, 1)
	go func() {
		body, _ := f.Fetch(context.Background(), "a.js")
		done <- body
	}()

	select {
	case <-done:
		t.Fatal("fetch returned while held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release()
	assert.Equal(t, "A", <-done)
}

func TestMapFetcher_HoldHonoursContext(t *testing.T) {
	f := NewMapFetcher(map[string]string{"a.js": "A"})
	f.Hold("a.js")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, "a.js")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSteppingNow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := SteppingNow(start, time.Millisecond)

	assert.Equal(t, start, now())
	assert.Equal(t, start.Add(time.Millisecond), now())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now()
		}()
	}
	wg.Wait()
	assert.Equal(t, start.Add(12*time.Millisecond), now())
}

func TestFixedRandom(t *testing.T) {
	assert.Equal(t, "ABC123", FixedRandom("ABC123")())
	assert.Equal(t, "TEST00", FixedRandom("")())
}
