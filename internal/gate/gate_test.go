package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/page"
	"github.com/roach88/rshare/internal/queue"
)

type fakeHost struct {
	mu        sync.Mutex
	log       []string
	listeners []func()
	failLoad  map[string]bool
	throwOn   map[string]bool
	haltOn    map[string]bool
}

func (h *fakeHost) add(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, s)
}

func (h *fakeHost) InsertScript(_ context.Context, s *page.Script) error {
	if h.failLoad[s.Src] {
		h.add("load-fail " + s.Src)
		return &page.LoadError{Src: s.Src, Err: errors.New("404")}
	}
	h.add("insert " + s.Src)
	if h.throwOn[s.Src] {
		return &page.ScriptError{Name: "TypeError", Message: "boom"}
	}
	if h.haltOn[s.Src] {
		return queue.Unrecoverable(errors.New("plugin registry corrupted"))
	}
	return nil
}

func (h *fakeHost) Evaluate(_ context.Context, code, sourceURL string) error {
	h.add("eval " + strings.SplitN(code, "\n", 2)[0] + " @" + sourceURL)
	if strings.Contains(code, "throw") {
		return &page.ScriptError{Name: "ReferenceError", Message: "$ is not defined"}
	}
	return nil
}

func (h *fakeHost) AddReadyListener(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *fakeHost) DispatchReady() {
	h.mu.Lock()
	listeners := h.listeners
	h.listeners = nil
	h.mu.Unlock()
	h.add("ready")
	for _, fn := range listeners {
		fn()
	}
}

func (h *fakeHost) Log() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.log...)
}

type staticLoader map[string]string

func (l staticLoader) Fetch(_ context.Context, locator string) (string, error) {
	if text, ok := l[locator]; ok {
		return text, nil
	}
	return "", errors.New("not found")
}

func fixedNamer() *SourceNamer {
	return NewSourceNamer("index.html", func() string { return "ABC123" })
}

func newGate(h *fakeHost, opts Options) *Gate {
	opts.Host = h
	opts.CaptureReady = true
	opts.BootstrapFile = "ResourceShare.js"
	if opts.Namer == nil {
		opts.Namer = fixedNamer()
	}
	return New(opts)
}

func TestGate_BypassRules(t *testing.T) {
	g := newGate(&fakeHost{}, Options{})

	tests := []struct {
		name   string
		script *page.Script
		want   page.Decision
	}{
		{"plain external", page.External("app.js"), page.Divert},
		{"plain inline", page.Inline("x()"), page.Divert},
		{"explicit js type", page.NewScript(map[string]string{"type": "text/javascript", "src": "a.js"}, ""), page.Divert},
		{"marked", page.NewScript(map[string]string{"src": "a.js", "data-resource-share": ""}, ""), page.Allow},
		{"opt-out", page.NewScript(map[string]string{"src": "a.js", "DisableRS": ""}, ""), page.Allow},
		{"module", page.NewScript(map[string]string{"type": "module"}, "import x"), page.Allow},
		{"json data", page.NewScript(map[string]string{"type": "application/json"}, "{}"), page.Allow},
		{"bootstrap", page.External("/static/ResourceShare.js?v=2"), page.Allow},
		{"handle", page.External("blob:http://app.test/1234"), page.Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.BeforeInsert(tt.script, page.ViaAppendChild))
		})
	}
	assert.Equal(t, 3, g.Pending())
}

func TestGate_ReleaseExecutesFIFOThenReady(t *testing.T) {
	h := &fakeHost{}
	g := newGate(h, Options{})

	g.BeforeInsert(page.External("a.js"), page.ViaParser)
	g.BeforeInsert(page.Inline("inline1()"), page.ViaParser)
	g.BeforeInsert(page.External("b.js"), page.ViaMutation)

	var fired []string
	assert.True(t, g.BeforeReady(func() { fired = append(fired, "r1") }))
	assert.True(t, g.BeforeReady(func() { fired = append(fired, "r2") }))

	g.Hold()
	assert.Equal(t, Holding, g.State())

	require.True(t, g.Release(context.Background(), "queue complete"))
	assert.Equal(t, []string{
		"insert a.js",
		"eval inline1() @RS_VM/VM_index_inline_0_ABC123.js",
		"insert b.js",
		"ready",
	}, h.Log())
	assert.Equal(t, []string{"r1", "r2"}, fired)
	assert.Equal(t, Released, g.State())
	assert.Equal(t, "queue complete", g.Reason())
	assert.Zero(t, g.Pending())

	select {
	case <-g.Done():
	default:
		t.Fatal("Done not closed after release")
	}
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	h := &fakeHost{}
	g := newGate(h, Options{})
	g.BeforeInsert(page.External("a.js"), page.ViaParser)

	assert.True(t, g.Release(context.Background(), "first"))
	assert.False(t, g.Release(context.Background(), "second"))
	assert.Equal(t, []string{"insert a.js", "ready"}, h.Log())
	assert.Equal(t, "first", g.Reason())
}

func TestGate_AfterReleaseEverythingPasses(t *testing.T) {
	h := &fakeHost{}
	g := newGate(h, Options{})
	g.Release(context.Background(), "done")

	assert.Equal(t, page.Allow, g.BeforeInsert(page.External("late.js"), page.ViaAppendChild))
	assert.False(t, g.BeforeReady(func() {}))
}

func TestGate_ReleaseFromArmedReplaysReady(t *testing.T) {
	h := &fakeHost{}
	g := newGate(h, Options{})
	called := false
	g.BeforeReady(func() { called = true })

	g.Release(context.Background(), "no markers")
	assert.True(t, called)
}

func TestGate_ChildDoesNotCaptureReady(t *testing.T) {
	g := New(Options{Host: &fakeHost{}})
	assert.False(t, g.BeforeReady(func() {}))
}

func TestGate_InlineErrorIsNonFatal(t *testing.T) {
	h := &fakeHost{}
	rec := events.NewRecorder()
	bus := events.NewBus(events.RoleTop)
	bus.Subscribe(rec)
	g := newGate(h, Options{Bus: bus, Explain: func(err error) string { return "explained: " + err.Error() }})

	g.BeforeInsert(page.Inline("throw 1"), page.ViaParser)
	g.BeforeInsert(page.External("after.js"), page.ViaParser)

	g.Release(context.Background(), "queue complete")
	assert.Equal(t, []string{
		"eval throw 1 @RS_VM/VM_index_inline_0_ABC123.js",
		"insert after.js",
		"ready",
	}, h.Log())
	assert.True(t, rec.Contains("explained: ReferenceError: $ is not defined"))
}

func TestGate_ExternalLoadFailureIsCritical(t *testing.T) {
	h := &fakeHost{failLoad: map[string]bool{"broken.js": true}}
	var critical []string
	g := newGate(h, Options{OnCritical: func(err error, loc string) {
		critical = append(critical, fmt.Sprintf("%s: %v", loc, err))
	}})

	g.BeforeInsert(page.External("broken.js"), page.ViaParser)
	g.BeforeInsert(page.External("next.js"), page.ViaParser)

	g.Release(context.Background(), "queue complete")
	assert.Equal(t, []string{"load-fail broken.js"}, h.Log(), "release stops at the critical failure")
	require.Len(t, critical, 1)
	assert.Contains(t, critical[0], "broken.js")
}

func TestGate_ExternalScriptErrorIsNonFatal(t *testing.T) {
	h := &fakeHost{throwOn: map[string]bool{"a.js": true}}
	g := newGate(h, Options{OnCritical: func(error, string) { t.Fatal("not critical") }})

	g.BeforeInsert(page.External("a.js"), page.ViaParser)
	g.BeforeInsert(page.External("b.js"), page.ViaParser)
	g.Release(context.Background(), "queue complete")

	assert.Equal(t, []string{"insert a.js", "insert b.js", "ready"}, h.Log())
}

func TestGate_UnrecoverableExternalErrorIsCritical(t *testing.T) {
	h := &fakeHost{haltOn: map[string]bool{"a.js": true}}
	var critical []string
	g := newGate(h, Options{OnCritical: func(err error, loc string) {
		critical = append(critical, fmt.Sprintf("%s: %v", loc, err))
	}})

	g.BeforeInsert(page.External("a.js"), page.ViaParser)
	g.BeforeInsert(page.External("b.js"), page.ViaParser)
	g.Release(context.Background(), "queue complete")

	assert.Equal(t, []string{"insert a.js"}, h.Log(), "release stops and ready is not dispatched")
	assert.Equal(t, []string{"a.js: Unrecoverable: plugin registry corrupted"}, critical)
}

func TestGate_UnrecoverableInlineErrorIsCritical(t *testing.T) {
	html := `<html><head>
<script>window.first = true;</script>
<script>throw new Error("Unrecoverable: lost state");</script>
<script>window.third = true;</script>
</head></html>`
	ev := page.NewJSEvaluator()
	p, err := page.Parse(strings.NewReader(html), "http://app.test/index.html", page.WithEvaluator(ev))
	require.NoError(t, err)
	defer p.Close()

	var critical []string
	g := New(Options{Host: p, CaptureReady: true, Namer: fixedNamer(), OnCritical: func(err error, loc string) {
		critical = append(critical, loc+" "+err.Error())
	}})
	p.Install(g)
	p.RunParser()
	require.Equal(t, 3, g.Pending())

	ctx := context.Background()
	g.Release(ctx, "queue complete")

	require.Len(t, critical, 1)
	assert.Equal(t, "RS_VM/VM_index_inline_1_ABC123.js "+
		"Error: Unrecoverable: lost state (RS_VM/VM_index_inline_1_ABC123.js)", critical[0])
	assert.False(t, p.Ready(), "ready is not dispatched after a critical error")
	assert.NoError(t, ev.Eval(ctx, `if (!first || typeof third !== "undefined") { throw new Error("wrong units ran"); }`, "check.js"))
}

func TestGate_SafetyTimeoutReleases(t *testing.T) {
	h := &fakeHost{}
	g := newGate(h, Options{Timeout: 20 * time.Millisecond})
	g.BeforeInsert(page.External("a.js"), page.ViaParser)
	g.Hold()

	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("safety timeout did not release")
	}
	assert.Equal(t, Released, g.State())
	assert.Equal(t, "timeout", g.Reason())
	assert.Equal(t, []string{"insert a.js", "ready"}, h.Log())
}

func TestGate_SealPreventsRelease(t *testing.T) {
	h := &fakeHost{}
	g := newGate(h, Options{Timeout: 20 * time.Millisecond})
	g.BeforeInsert(page.External("a.js"), page.ViaParser)
	g.Hold()
	g.Seal()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, g.Release(context.Background(), "late"))
	assert.Equal(t, Holding, g.State())
	assert.True(t, g.Sealed())
	assert.Empty(t, h.Log())
	assert.Equal(t, 1, g.Pending())
}

func TestGate_WithRealPage(t *testing.T) {
	html := `<html><head>
<script src="ResourceShare.js"></script>
<script src="app.js"></script>
<script>boot()</script>
</head></html>`
	p, err := page.Parse(strings.NewReader(html), "http://app.test/index.html",
		page.WithEvaluator(page.NopEvaluator{}),
		page.WithLoader(staticLoader{"app.js": "app()"}))
	require.NoError(t, err)

	g := New(Options{Host: p, CaptureReady: true, BootstrapFile: "ResourceShare.js", Namer: fixedNamer()})
	p.Install(g)
	p.RunParser()

	require.Len(t, p.Scripts(), 1, "only the bootstrap script stays in the document")
	assert.Equal(t, 2, g.Pending())

	ready := false
	p.OnReady(func() { ready = true })
	assert.False(t, ready)

	// Dynamic insertion while armed is captured too.
	require.NoError(t, p.AppendChild(context.Background(), page.Inline("late()")))
	assert.Equal(t, 3, g.Pending())

	g.Release(context.Background(), "queue complete")
	assert.True(t, ready)
	assert.True(t, p.Ready())
}
