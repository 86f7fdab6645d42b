package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/resource"
)

var scriptA = resource.Key{Kind: resource.KindScript, Locator: "a.js"}

// server returns an httptest server and a hit counter. failFirst requests
// answer 500 before the body is served.
func server(t *testing.T, body string, failFirst int, delay time.Duration) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		if int(n) <= failFirst {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func httpFetcher(t *testing.T, srv *httptest.Server) *HTTPFetcher {
	t.Helper()
	base, err := url.Parse(srv.URL + "/page/index.html")
	require.NoError(t, err)
	return &HTTPFetcher{Client: srv.Client(), Base: base}
}

func TestCoordinator_CoalescesConcurrentLoads(t *testing.T) {
	srv, hits := server(t, "var a = 1;", 0, 50*time.Millisecond)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), RetryCount: 3, RetryDelay: time.Millisecond})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.LoadText(context.Background(), scriptA)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "var a = 1;", results[i])
	}
	assert.Equal(t, int64(1), hits.Load(), "exactly one network fetch")
	assert.Equal(t, int64(1), c.NetworkFetches())
}

func TestCoordinator_CacheHitSkipsNetwork(t *testing.T) {
	srv, hits := server(t, "body", 0, 0)
	rec := events.NewRecorder()
	bus := events.NewBus(events.RoleTop)
	bus.Subscribe(rec)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), Bus: bus})

	_, err := c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)
	_, err = c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load())
	assert.True(t, rec.Contains("cache hit script:a.js"))
}

func TestCoordinator_RetriesThenSucceeds(t *testing.T) {
	srv, hits := server(t, "ok", 2, 0)
	rec := events.NewRecorder()
	bus := events.NewBus(events.RoleTop)
	bus.Subscribe(rec)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), RetryCount: 3, RetryDelay: time.Millisecond, Bus: bus})

	text, err := c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int64(3), hits.Load())
	assert.Len(t, rec.Messages(events.CategoryWarning), 2, "one warning per failed attempt")
}

func TestCoordinator_ExhaustionDeliversSameErrorToAllWaiters(t *testing.T) {
	srv, hits := server(t, "", 100, 10*time.Millisecond)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), RetryCount: 3, RetryDelay: time.Millisecond})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Load(context.Background(), scriptA)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, IsExhausted(err))
		assert.True(t, IsTransient(err), "last attempt failure is wrapped")
		assert.Equal(t, http.StatusInternalServerError, StatusOf(err))

		var le *LoadExhaustedError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, 4, le.Attempts)
		assert.Equal(t, scriptA, le.Key)
	}
	assert.Equal(t, int64(4), hits.Load(), "initial attempt plus three retries")
	assert.False(t, c.Cache().Has(scriptA))
}

func TestCoordinator_CallerCancelDoesNotAbortSharedLoad(t *testing.T) {
	srv, hits := server(t, "slow", 0, 80*time.Millisecond)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv)})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Load(ctx, scriptA)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	text, err := c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)
	assert.Equal(t, "slow", text)
	assert.Equal(t, int64(1), hits.Load())
}

func TestCoordinator_OversizeIsCachedWithWarning(t *testing.T) {
	body := strings.Repeat("x", 64)
	srv, _ := server(t, body, 0, 0)
	rec := events.NewRecorder()
	bus := events.NewBus(events.RoleTop)
	bus.Subscribe(rec)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), SizeCeiling: 16, Bus: bus})

	text, err := c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)
	assert.Equal(t, body, text)
	assert.True(t, c.Cache().Has(scriptA))
	assert.True(t, rec.Contains("above the 16 byte limit"))
}

func TestCoordinator_KindIsPartOfKey(t *testing.T) {
	srv, hits := server(t, "shared-name", 0, 0)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv)})

	_, err := c.Load(context.Background(), resource.Key{Kind: resource.KindScript, Locator: "x"})
	require.NoError(t, err)
	_, err = c.Load(context.Background(), resource.Key{Kind: resource.KindStyle, Locator: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

type fakeUpstream struct {
	mu        sync.Mutex
	content   map[resource.Key]resource.Content
	err       error
	lookups   int
	published map[resource.Key]string
}

func (u *fakeUpstream) Lookup(_ context.Context, key resource.Key) (resource.Content, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lookups++
	if u.err != nil {
		return resource.Content{}, u.err
	}
	v, ok := u.content[key]
	if !ok {
		return resource.Content{}, errors.New("not cached")
	}
	return v, nil
}

func (u *fakeUpstream) Publish(key resource.Key, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.published == nil {
		u.published = make(map[resource.Key]string)
	}
	u.published[key] = text
}

func TestCoordinator_ChildPrefersParent(t *testing.T) {
	srv, hits := server(t, "network", 0, 0)
	up := &fakeUpstream{content: map[resource.Key]resource.Content{scriptA: resource.Inline("from parent")}}
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), Upstream: up})

	text, err := c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)
	assert.Equal(t, "from parent", text)
	assert.Zero(t, hits.Load())
	assert.True(t, c.Cache().Has(scriptA), "parent responses are cached locally")
	assert.Empty(t, up.published)
}

func TestCoordinator_ChildResolvesParentHandle(t *testing.T) {
	blobs := resource.NewBlobStore("http://example.test")
	h := blobs.Create(resource.KindScript, "big body")
	up := &fakeUpstream{content: map[resource.Key]resource.Content{scriptA: resource.ByHandle(h)}}
	c := NewCoordinator(Options{Fetcher: FileFetcher{Dir: t.TempDir()}, Upstream: up, Blobs: blobs})

	text, err := c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)
	assert.Equal(t, "big body", text)
}

func TestCoordinator_ChildFallsBackAndPublishes(t *testing.T) {
	srv, hits := server(t, "network", 0, 0)
	up := &fakeUpstream{}
	rec := events.NewRecorder()
	bus := events.NewBus(events.RoleChild)
	bus.Subscribe(rec)
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), Upstream: up, Bus: bus})

	text, err := c.LoadText(context.Background(), scriptA)
	require.NoError(t, err)
	assert.Equal(t, "network", text)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, 1, up.lookups)
	assert.Equal(t, "network", up.published[scriptA])
	assert.True(t, rec.Contains("parent lookup for script:a.js failed"))
}

func TestCoordinator_NoFetcher(t *testing.T) {
	c := NewCoordinator(Options{})
	_, err := c.Load(context.Background(), scriptA)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
}

func TestCoordinator_CloseStopsRetries(t *testing.T) {
	srv, hits := server(t, "never", 1000, 0)
	up := &fakeUpstream{}
	rec := events.NewRecorder()
	bus := events.NewBus(events.RoleChild)
	bus.Subscribe(rec)
	c := NewCoordinator(Options{
		Fetcher:    httpFetcher(t, srv),
		Upstream:   up,
		RetryCount: 50,
		RetryDelay: 20 * time.Millisecond,
		Bus:        bus,
	})

	errc := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), scriptA)
		errc <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, time.Second, time.Millisecond)
	c.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
		assert.False(t, IsExhausted(err))
	case <-time.After(time.Second):
		t.Fatal("load kept retrying after Close")
	}
	settled := hits.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, hits.Load(), "no attempts after Close")
	assert.Less(t, settled, int64(10))
	assert.False(t, c.Cache().Has(scriptA))
	assert.Empty(t, up.published)
	assert.False(t, rec.Contains("giving up"))

	_, err := c.Load(context.Background(), scriptA)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, settled, hits.Load())
}

func TestCoordinator_SlowFetchFinishingAfterCloseIsDropped(t *testing.T) {
	srv, _ := server(t, "late", 0, 100*time.Millisecond)
	up := &fakeUpstream{}
	c := NewCoordinator(Options{Fetcher: httpFetcher(t, srv), Upstream: up})

	errc := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), scriptA)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("load did not end after Close")
	}
	assert.False(t, c.Cache().Has(scriptA))
	assert.Empty(t, up.published)
}
