package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/rshare/internal/channel"
	"github.com/roach88/rshare/internal/config"
	"github.com/roach88/rshare/internal/diag"
	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/fetch"
	"github.com/roach88/rshare/internal/gate"
	"github.com/roach88/rshare/internal/page"
	"github.com/roach88/rshare/internal/queue"
	"github.com/roach88/rshare/internal/resource"
)

// Options configures an Engine.
type Options struct {
	Config config.Config
	Page   *page.Page
	// Name labels events; defaults to the page name.
	Name string

	Fetcher fetch.Fetcher
	// Blobs is shared by every context of one origin. Nil creates a store
	// for the page origin.
	Blobs *resource.BlobStore

	// Mailbox is this context's inbox. Nil creates one.
	Mailbox *channel.Mailbox
	// Parent is the top context's inbox. Non-nil makes this a child.
	Parent *channel.Mailbox
	IDs    channel.IDGenerator

	// Clock is shared between the engines of one run so seqs interleave.
	Clock  *events.Clock
	Sinks  []events.Sink
	Logger *slog.Logger

	// Random supplies the RAND6 suffix of inline source names.
	Random func() string
}

// Engine is one execution context's coordination state.
type Engine struct {
	name    string
	role    events.Role
	cfg     config.Config
	page    *page.Page
	bus     *events.Bus
	blobs   *resource.BlobStore
	handles *resource.HandleSet
	mb      *channel.Mailbox
	coord   *fetch.Coordinator
	gate    *gate.Gate
	server  *channel.Server
	client  *channel.Client

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	queue   *queue.Queue
	fatal   *queue.CriticalError

	settled    chan struct{}
	settleOnce sync.Once
	stopOnce   sync.Once
	stopped    atomic.Bool
}

// New wires an engine for opts.Page. The gate is armed immediately.
func New(opts Options) (*Engine, error) {
	if opts.Page == nil {
		return nil, &RuntimeError{Code: ErrCodeNoPage, Message: "engine needs a page", Context: opts.Name}
	}
	p := opts.Page
	name := opts.Name
	if name == "" {
		name = p.Name()
	}
	role := events.RoleTop
	if opts.Parent != nil {
		role = events.RoleChild
	}

	busOpts := []events.BusOption{
		events.WithContextName(name),
		events.WithLevel(opts.Config.LogLevel),
	}
	if opts.Clock != nil {
		busOpts = append(busOpts, events.WithClock(opts.Clock))
	}
	if opts.Logger != nil {
		busOpts = append(busOpts, events.WithLogger(opts.Logger))
	}
	bus := events.NewBus(role, busOpts...)
	for _, s := range opts.Sinks {
		bus.Subscribe(s)
	}

	blobs := opts.Blobs
	if blobs == nil {
		blobs = resource.NewBlobStore(p.Origin())
	}
	mb := opts.Mailbox
	if mb == nil {
		mb = channel.NewMailbox(p.Origin(), name)
	}

	e := &Engine{
		name:    name,
		role:    role,
		cfg:     opts.Config,
		page:    p,
		bus:     bus,
		blobs:   blobs,
		handles: resource.NewHandleSet(blobs),
		mb:      mb,
		settled: make(chan struct{}),
	}

	cache := resource.NewCache()
	var upstream fetch.Upstream
	if role == events.RoleChild {
		e.client = channel.NewClient(channel.ClientOptions{
			Mailbox:          mb,
			Parent:           opts.Parent,
			Handles:          e.handles,
			IDs:              opts.IDs,
			PingInterval:     e.cfg.PingInterval,
			HandshakeTimeout: e.cfg.HandshakeTimeout,
			RequestTimeout:   e.cfg.RequestTimeout,
			InlineLimit:      e.cfg.InlineTransferLimit,
			Bus:              bus,
		})
		upstream = e.client
	} else {
		e.server = channel.NewServer(channel.ServerOptions{
			Mailbox:     mb,
			Cache:       cache,
			Handles:     e.handles,
			InlineLimit: e.cfg.InlineTransferLimit,
			Bus:         bus,
		})
	}

	e.coord = fetch.NewCoordinator(fetch.Options{
		Cache:       cache,
		Fetcher:     opts.Fetcher,
		Blobs:       blobs,
		Upstream:    upstream,
		RetryCount:  e.cfg.RetryCount,
		RetryDelay:  e.cfg.RetryDelay,
		SizeCeiling: e.cfg.SizeCeiling,
		Bus:         bus,
	})

	e.gate = gate.New(gate.Options{
		Host:          p,
		CaptureReady:  role == events.RoleTop,
		BootstrapFile: e.cfg.BootstrapFile,
		Timeout:       e.cfg.GateTimeout,
		Namer:         gate.NewSourceNamer(p.Name(), opts.Random),
		Bus:           bus,
		Explain:       explain,
		OnCritical: func(err error, locator string) {
			e.fail(&queue.CriticalError{Err: err, Locator: locator, Diagnosis: explain(err)})
		},
	})

	return e, nil
}

// Run starts the engine and blocks until Stop is called or ctx is done.
// It returns nil after Stop and ctx.Err() after cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return &RuntimeError{Code: ErrCodeAlreadyRunning, Message: "Run called twice", Context: e.name}
	}
	e.started = true
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	slog.Info("engine starting", "context", e.name, "role", e.role, "page", e.page.URL())

	e.page.Install(e.gate)
	e.page.RunParser()

	go e.watchSettle(ctx)
	go e.load(ctx)

	var err error
	if e.server != nil {
		err = e.server.Serve(ctx)
	} else {
		err = e.client.Serve(ctx)
	}

	if errors.Is(err, context.Canceled) && e.stopped.Load() {
		err = nil
	}
	slog.Info("engine stopping", "context", e.name, "error", err)
	return err
}

// load drives the loading pipeline.
func (e *Engine) load(ctx context.Context) {
	if e.client != nil {
		go e.handshake(ctx)
	}

	markers := e.page.Markers()
	if len(markers) == 0 {
		e.bus.Logf(events.CategoryInfo, "no resource-share markers on %s", e.page.Name())
		e.gate.Release(ctx, "no declared resources")
		return
	}

	items := queue.Parse(markers, e.bus)
	e.gate.Hold()
	q := queue.New(items, queue.Options{
		Loader:   e.coord,
		Executor: e.page,
		PageURL:  e.page.URL(),
		Bus:      e.bus,
		Explain:  explain,
		OnComplete: func() {
			e.gate.Release(ctx, "declared resources loaded")
		},
		OnFatal: e.fail,
	})
	e.mu.Lock()
	e.queue = q
	e.mu.Unlock()

	if err := q.Run(ctx); err != nil && !queue.IsCritical(err) {
		slog.Debug("queue stopped", "context", e.name, "error", err)
	}
}

// handshake fails open: an unreachable parent releases the gate, loading
// continues with direct fetches.
func (e *Engine) handshake(ctx context.Context) {
	err := e.client.Handshake(ctx)
	if errors.Is(err, channel.ErrConnectivityLost) || errors.Is(err, channel.ErrNoPeer) {
		e.gate.Release(ctx, "parent unreachable")
	}
}

// fail records the first critical error, seals the gate and publishes the
// fatal payload.
func (e *Engine) fail(cerr *queue.CriticalError) {
	e.mu.Lock()
	if e.fatal != nil {
		e.mu.Unlock()
		return
	}
	e.fatal = cerr
	e.mu.Unlock()

	e.gate.Seal()
	e.bus.Fatal(cerr.Err, cerr.Locator, cerr.Diagnosis)
	e.settle()
}

func (e *Engine) watchSettle(ctx context.Context) {
	select {
	case <-e.gate.Done():
		e.settle()
	case <-ctx.Done():
	}
}

func (e *Engine) settle() {
	e.settleOnce.Do(func() { close(e.settled) })
}

// Stop ends Run. The mailbox is closed, so peers posting to it get
// channel.ErrMailboxClosed, and in-flight loads stop retrying.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		e.mb.Close()
		e.coord.Close()
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Close stops the engine and revokes every handle it tracks. The page is
// going away.
func (e *Engine) Close() {
	e.Stop()
	e.gate.Seal()
	if err := e.page.Close(); err != nil {
		slog.Warn("closing page failed", "context", e.name, "error", err)
	}
	if n := e.handles.RevokeAll(); n > 0 {
		e.bus.Logf(events.CategoryCache, "revoked %d handle(s)", n)
	}
}

// ClearCache drops every cached resource and revokes tracked handles.
func (e *Engine) ClearCache() {
	n := e.coord.Cache().Len()
	e.coord.Cache().Clear()
	revoked := e.handles.RevokeAll()
	e.bus.Logf(events.CategoryCache, "cleared %d cached resource(s), revoked %d handle(s)", n, revoked)
}

// Settled is closed once the gate has released or a critical error ended
// the run.
func (e *Engine) Settled() <-chan struct{} { return e.settled }

// Name returns the context name stamped on events.
func (e *Engine) Name() string { return e.name }

// Role returns top or child.
func (e *Engine) Role() events.Role { return e.role }

// Bus returns the engine's event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Mailbox returns the engine's inbox. Children of a top engine use it as
// their Parent.
func (e *Engine) Mailbox() *channel.Mailbox { return e.mb }

// Page returns the host page.
func (e *Engine) Page() *page.Page { return e.page }

// Gate returns the execution gate.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Cache returns the resource cache.
func (e *Engine) Cache() *resource.Cache { return e.coord.Cache() }

// Coordinator returns the fetch coordinator.
func (e *Engine) Coordinator() *fetch.Coordinator { return e.coord }

// Handles returns the handles this context will revoke on Close.
func (e *Engine) Handles() *resource.HandleSet { return e.handles }

// Queue returns the resource queue, or nil before markers were scanned or
// when the page declared none.
func (e *Engine) Queue() *queue.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue
}

// Outcome is a snapshot of where a run stands.
type Outcome struct {
	Context string
	Role    events.Role
	Gate    gate.State
	Reason  string
	Loaded  int
	Total   int
	// Connected is meaningful for children only.
	Connected bool
	Fatal     *queue.CriticalError
}

// Outcome returns the current outcome.
func (e *Engine) Outcome() Outcome {
	o := Outcome{
		Context: e.name,
		Role:    e.role,
		Gate:    e.gate.State(),
		Reason:  e.gate.Reason(),
	}
	if q := e.Queue(); q != nil {
		o.Loaded, o.Total = q.Progress()
	}
	if e.client != nil {
		o.Connected = e.client.Connected()
	}
	e.mu.Lock()
	o.Fatal = e.fatal
	e.mu.Unlock()
	return o
}

// Status is a one-word summary: fatal, released or waiting.
func (o Outcome) Status() string {
	switch {
	case o.Fatal != nil:
		return "fatal"
	case o.Gate == gate.Released:
		return "released"
	default:
		return "waiting"
	}
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%s [%s] %s %d/%d", o.Context, o.Role, o.Status(), o.Loaded, o.Total)
	if o.Reason != "" {
		s += " (" + o.Reason + ")"
	}
	if o.Fatal != nil {
		s += ": " + o.Fatal.Error()
	}
	return s
}

// explain renders the diagnostic report for err without a trailing newline.
func explain(err error) string {
	return strings.TrimRight(diag.Report(err), "\n")
}
