package gate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/page"
	"github.com/roach88/rshare/internal/queue"
	"github.com/roach88/rshare/internal/resource"
)

// State is the gate's lifecycle state.
type State int

const (
	Armed State = iota
	Holding
	Released
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Holding:
		return "holding"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Host is the document the gate releases units into.
type Host interface {
	InsertScript(ctx context.Context, s *page.Script) error
	Evaluate(ctx context.Context, code, sourceURL string) error
	AddReadyListener(fn func())
	DispatchReady()
}

// Unit is a captured script, in capture order.
type Unit struct {
	Seq    int
	Script *page.Script
}

// Options configures a Gate.
type Options struct {
	Host Host
	// CaptureReady enables ready-registration capture (top contexts).
	CaptureReady bool
	// BootstrapFile is the file name of the engine's own script, which is
	// never captured.
	BootstrapFile string
	// Timeout releases the gate if nothing else does. Zero disables it.
	Timeout time.Duration
	Namer   *SourceNamer
	Bus     *events.Bus
	// Explain turns an inline execution error into a diagnostic report.
	Explain func(error) string
	// OnCritical is called when a released external script fails to load or
	// a released script throws an Unrecoverable error.
	OnCritical func(err error, locator string)
}

// Gate captures and releases native scripts for one context.
type Gate struct {
	opts Options
	bus  *events.Bus

	mu     sync.Mutex
	state  State
	sealed bool
	seq    int
	units  []Unit
	ready  []func()
	timer  *time.Timer
	reason string
	done   chan struct{}
}

// New creates an armed gate and starts its safety timer.
func New(opts Options) *Gate {
	if opts.Namer == nil {
		opts.Namer = NewSourceNamer("", nil)
	}
	g := &Gate{opts: opts, bus: opts.Bus, done: make(chan struct{})}
	if opts.Timeout > 0 {
		g.timer = time.AfterFunc(opts.Timeout, func() {
			g.bus.Logf(events.CategoryWarning, "gate still closed after %s, releasing", opts.Timeout)
			g.Release(context.Background(), "timeout")
		})
	}
	return g
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Reason returns why the gate was released, or "".
func (g *Gate) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Sealed reports whether Seal was called before release.
func (g *Gate) Sealed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sealed
}

// Pending returns the number of captured units not yet released.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.units)
}

// Done is closed once a release has finished executing units and replaying
// ready registrations.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Hold marks that declared resources were found. Only valid when armed.
func (g *Gate) Hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Armed {
		g.state = Holding
	}
}

// Seal keeps the gate closed for good: the safety timer is cancelled and
// later Release calls do nothing. Used after a critical error.
func (g *Gate) Seal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Released {
		return
	}
	g.sealed = true
	if g.timer != nil {
		g.timer.Stop()
	}
}

// BeforeInsert implements page.Interceptor.
func (g *Gate) BeforeInsert(s *page.Script, via page.InsertVia) page.Decision {
	if why, ok := g.bypass(s); ok {
		g.bus.Logf(events.CategoryInfo, "script %s runs natively (%s)", s.Label(), why)
		return page.Allow
	}

	g.mu.Lock()
	if g.state == Released {
		g.mu.Unlock()
		return page.Allow
	}
	u := Unit{Seq: g.seq, Script: s.Clone()}
	g.seq++
	g.units = append(g.units, u)
	g.mu.Unlock()

	g.bus.Logf(events.CategoryInfo, "deferred script #%d %s (%s)", u.Seq, s.Label(), via)
	return page.Divert
}

// BeforeReady implements page.Interceptor.
func (g *Gate) BeforeReady(fn func()) bool {
	if !g.opts.CaptureReady {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Released {
		return false
	}
	g.ready = append(g.ready, fn)
	return true
}

func (g *Gate) bypass(s *page.Script) (string, bool) {
	switch {
	case s.Has("data-resource-share"):
		return "data-resource-share", true
	case s.Has("disablers"):
		return "DisableRS", true
	case s.Type != "" && !strings.EqualFold(strings.TrimSpace(s.Type), "text/javascript"):
		return "type " + s.Type, true
	case s.IsExternal() && g.isBootstrap(s.Src):
		return "bootstrap", true
	case resource.IsHandle(s.Src):
		return "engine handle", true
	}
	return "", false
}

func (g *Gate) isBootstrap(src string) bool {
	return g.opts.BootstrapFile != "" && page.FileName(src) == g.opts.BootstrapFile
}

// Release opens the gate and executes every captured unit in capture order,
// then replays captured ready registrations and dispatches one ready event.
// Reports whether this call performed the release.
func (g *Gate) Release(ctx context.Context, reason string) bool {
	g.mu.Lock()
	if g.state == Released || g.sealed {
		g.mu.Unlock()
		return false
	}
	g.state = Released
	g.reason = reason
	if g.timer != nil {
		g.timer.Stop()
	}
	units := g.units
	g.units = nil
	ready := g.ready
	g.ready = nil
	g.mu.Unlock()
	defer close(g.done)

	g.bus.Logf(events.CategoryInfo, "releasing %d deferred script(s): %s", len(units), reason)

	for _, u := range units {
		if err := g.execute(ctx, u); err != nil {
			return true
		}
	}

	if g.opts.Host == nil {
		return true
	}
	for _, fn := range ready {
		g.opts.Host.AddReadyListener(fn)
	}
	g.opts.Host.DispatchReady()
	if len(ready) > 0 {
		g.bus.Logf(events.CategoryInfo, "replayed %d ready listener(s)", len(ready))
	}
	return true
}

// execute runs one unit. A non-nil return stops the release.
func (g *Gate) execute(ctx context.Context, u Unit) error {
	host := g.opts.Host
	if host == nil {
		return nil
	}
	s := u.Script

	if s.IsExternal() {
		if g.isBootstrap(s.Src) {
			g.bus.Logf(events.CategoryWarning, "skipped self-reference %s", s.Src)
			return nil
		}
		err := host.InsertScript(ctx, s.Clone())
		switch {
		case err == nil:
			g.bus.Logf(events.CategorySuccess, "executed deferred script %s", s.Src)
		case page.IsLoadError(err):
			g.bus.Logf(events.CategoryDanger, "deferred script %s failed to load: %v", s.Src, err)
			if g.opts.OnCritical != nil {
				g.opts.OnCritical(err, s.Src)
			}
			return err
		default:
			return g.reportScriptError(s.Src, err)
		}
		return nil
	}

	name := g.opts.Namer.Next()
	if err := host.Evaluate(ctx, s.Text+"\n//# sourceURL="+name, name); err != nil {
		return g.reportScriptError(name, err)
	}
	g.bus.Logf(events.CategorySuccess, "executed inline script %s", name)
	return nil
}

// reportScriptError logs a thrown error. An error marked Unrecoverable is
// critical and stops the release.
func (g *Gate) reportScriptError(name string, err error) error {
	g.bus.Logf(events.CategoryDanger, "script %s threw: %v", name, err)
	if g.opts.Explain != nil {
		if report := g.opts.Explain(err); report != "" {
			g.bus.Logf(events.CategoryDanger, "%s", report)
		}
	}
	if !queue.IsUnrecoverable(err) {
		return nil
	}
	if g.opts.OnCritical != nil {
		g.opts.OnCritical(err, name)
	}
	return err
}
