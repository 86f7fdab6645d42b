package page

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sync"

	"github.com/roach88/rshare/internal/resource"
)

// InsertVia names the path by which a script reaches the document.
type InsertVia string

const (
	ViaParser       InsertVia = "parser"
	ViaMutation     InsertVia = "mutation"
	ViaAppendChild  InsertVia = "appendChild"
	ViaInsertBefore InsertVia = "insertBefore"
)

// Decision is an interceptor's verdict on a script.
type Decision int

const (
	// Allow lets the script execute natively.
	Allow Decision = iota
	// Divert removes the script from the document; the interceptor owns it now.
	Divert
)

// Interceptor observes scripts before they execute.
type Interceptor interface {
	BeforeInsert(s *Script, via InsertVia) Decision
	// BeforeReady reports true when it captured fn; the page then does not
	// register it.
	BeforeReady(fn func()) bool
}

// Loader fetches the source of external scripts.
type Loader interface {
	Fetch(ctx context.Context, locator string) (string, error)
}

// Step is one entry of the page's execution transcript.
type Step struct {
	Op   string // native, divert, script, style, insert, eval, ready
	Name string
	Err  string
}

func (s Step) String() string {
	if s.Err != "" {
		return fmt.Sprintf("%-6s %s !! %s", s.Op, s.Name, s.Err)
	}
	return fmt.Sprintf("%-6s %s", s.Op, s.Name)
}

// Style is an injected stylesheet.
type Style struct {
	Name string
	CSS  string
}

// Option configures a Page.
type Option func(*Page)

// WithEvaluator sets the code evaluator. Default NopEvaluator.
func WithEvaluator(e Evaluator) Option {
	return func(p *Page) { p.eval = e }
}

// WithLoader sets the loader used for external scripts.
func WithLoader(l Loader) Option {
	return func(p *Page) { p.loader = l }
}

// WithBlobs lets the page load blob: scripts from store.
func WithBlobs(store *resource.BlobStore) Option {
	return func(p *Page) { p.blobs = store }
}

// Page is a live document.
type Page struct {
	url    *url.URL
	eval   Evaluator
	loader Loader
	blobs  *resource.BlobStore

	mu          sync.Mutex
	scripts     []*Script
	markers     []Marker
	styles      []Style
	interceptor Interceptor
	listeners   []func()
	ready       bool
	steps       []Step
}

// New creates an empty page at pageURL.
func New(pageURL *url.URL, opts ...Option) *Page {
	p := &Page{url: pageURL, eval: NopEvaluator{}}
	for _, opt := range opts {
		opt(p)
	}
	if b, ok := p.eval.(interface{ attach(*Page) }); ok {
		b.attach(p)
	}
	return p
}

// Idle waits for the evaluator's queued work when it runs asynchronously.
func (p *Page) Idle(ctx context.Context) error {
	if w, ok := p.eval.(interface{ Idle(context.Context) error }); ok {
		return w.Idle(ctx)
	}
	return nil
}

// Close releases the evaluator when it holds resources of its own.
func (p *Page) Close() error {
	if c, ok := p.eval.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// URL returns the page URL.
func (p *Page) URL() *url.URL { return p.url }

// Name returns the last segment of the page path, e.g. "index.html".
func (p *Page) Name() string {
	if p.url == nil {
		return ""
	}
	name := path.Base(p.url.Path)
	if name == "/" || name == "." {
		return "index"
	}
	return name
}

// Origin returns scheme://host of the page URL.
func (p *Page) Origin() string {
	if p.url == nil {
		return ""
	}
	return p.url.Scheme + "://" + p.url.Host
}

// Install sets the interceptor. Only scripts inserted afterwards, and the
// existing ones passed through RunParser, are intercepted.
func (p *Page) Install(i Interceptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interceptor = i
}

func (p *Page) intercept(s *Script, via InsertVia) Decision {
	p.mu.Lock()
	i := p.interceptor
	p.mu.Unlock()
	if i == nil {
		return Allow
	}
	return i.BeforeInsert(s, via)
}

// RunParser presents the scripts already in the document to the interceptor
// in document order. Diverted scripts are removed; the rest run natively.
func (p *Page) RunParser() {
	for _, s := range p.Scripts() {
		if p.intercept(s, ViaParser) == Divert {
			p.Remove(s)
			p.record(Step{Op: "divert", Name: s.Label()})
			continue
		}
		p.record(Step{Op: "native", Name: s.Label()})
	}
}

// AppendChild inserts s at the end of the document and executes it unless
// the interceptor diverts it.
func (p *Page) AppendChild(ctx context.Context, s *Script) error {
	return p.insert(ctx, s, nil, ViaAppendChild)
}

// InsertBefore inserts s before ref (or at the end when ref is not in the
// document) and executes it unless the interceptor diverts it.
func (p *Page) InsertBefore(ctx context.Context, s, ref *Script) error {
	return p.insert(ctx, s, ref, ViaInsertBefore)
}

// Observe reports a script that appeared in the document by other means,
// e.g. markup assignment. The interceptor sees it as a mutation.
func (p *Page) Observe(ctx context.Context, s *Script) error {
	return p.insert(ctx, s, nil, ViaMutation)
}

func (p *Page) insert(ctx context.Context, s, ref *Script, via InsertVia) error {
	if p.intercept(s, via) == Divert {
		p.record(Step{Op: "divert", Name: s.Label()})
		return nil
	}
	p.place(s, ref)
	return p.run(ctx, s, "native")
}

// InsertScript adds s to the document and executes it without interception.
// Used to re-insert deferred scripts. A script that fails to load is a
// LoadError.
func (p *Page) InsertScript(ctx context.Context, s *Script) error {
	p.place(s, nil)
	return p.run(ctx, s, "insert")
}

func (p *Page) place(s, ref *Script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.scripts {
		if ref != nil && cur == ref {
			p.scripts = append(p.scripts[:i], append([]*Script{s}, p.scripts[i:]...)...)
			return
		}
	}
	p.scripts = append(p.scripts, s)
}

func (p *Page) run(ctx context.Context, s *Script, op string) error {
	code := s.Text
	source := s.Src
	if s.IsExternal() {
		var err error
		code, err = p.load(ctx, s.Src)
		if err != nil {
			lerr := &LoadError{Src: s.Src, Err: err}
			p.record(Step{Op: op, Name: s.Label(), Err: lerr.Error()})
			return lerr
		}
	}
	err := p.eval.Eval(ctx, code, source)
	p.record(step(op, s.Label(), err))
	return err
}

func (p *Page) load(ctx context.Context, src string) (string, error) {
	if resource.IsHandle(src) {
		if p.blobs == nil {
			return "", fmt.Errorf("no blob store for %s", src)
		}
		text, ok := p.blobs.Lookup(resource.Handle(src))
		if !ok {
			return "", fmt.Errorf("handle %s revoked", src)
		}
		return text, nil
	}
	if p.loader == nil {
		return "", fmt.Errorf("no loader for %s", src)
	}
	return p.loader.Fetch(ctx, src)
}

// Evaluate runs code tagged with a source locator.
func (p *Page) Evaluate(ctx context.Context, code, sourceURL string) error {
	err := p.eval.Eval(ctx, code, sourceURL)
	p.record(step("eval", sourceURL, err))
	return err
}

// ExecuteScript runs the code of a declared script resource.
func (p *Page) ExecuteScript(ctx context.Context, code, name string) error {
	err := p.eval.Eval(ctx, code, name)
	p.record(step("script", name, err))
	return err
}

// InjectStyle adds a stylesheet to the document.
func (p *Page) InjectStyle(_ context.Context, css, name string) error {
	p.mu.Lock()
	p.styles = append(p.styles, Style{Name: name, CSS: css})
	p.mu.Unlock()
	p.record(Step{Op: "style", Name: name})
	return nil
}

// OnReady registers fn for the ready event. The interceptor may capture it.
// Once the page is ready, fn runs immediately.
func (p *Page) OnReady(fn func()) {
	p.mu.Lock()
	i := p.interceptor
	p.mu.Unlock()
	if i != nil && i.BeforeReady(fn) {
		return
	}
	p.AddReadyListener(fn)
}

// AddReadyListener registers fn without interception.
func (p *Page) AddReadyListener(fn func()) {
	p.mu.Lock()
	if !p.ready {
		p.listeners = append(p.listeners, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}

// DispatchReady fires the ready event: every registered listener runs once,
// in registration order.
func (p *Page) DispatchReady() {
	p.mu.Lock()
	listeners := p.listeners
	p.listeners = nil
	p.ready = true
	p.mu.Unlock()

	p.record(Step{Op: "ready", Name: fmt.Sprintf("%d listener(s)", len(listeners))})
	for _, fn := range listeners {
		fn()
	}
}

// Ready reports whether the ready event has fired.
func (p *Page) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Remove takes s out of the document.
func (p *Page) Remove(s *Script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.scripts {
		if cur == s {
			p.scripts = append(p.scripts[:i], p.scripts[i+1:]...)
			return
		}
	}
}

// Scripts returns the script elements currently in the document.
func (p *Page) Scripts() []*Script {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Script, len(p.scripts))
	copy(out, p.scripts)
	return out
}

// Markers returns the resource-share markers in document order.
func (p *Page) Markers() []Marker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Marker, len(p.markers))
	copy(out, p.markers)
	return out
}

// Styles returns injected stylesheets in order.
func (p *Page) Styles() []Style {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Style, len(p.styles))
	copy(out, p.styles)
	return out
}

// Steps returns the execution transcript.
func (p *Page) Steps() []Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

func (p *Page) record(s Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, s)
}

func step(op, name string, err error) Step {
	s := Step{Op: op, Name: name}
	if err != nil {
		s.Err = err.Error()
	}
	return s
}
