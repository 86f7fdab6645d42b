package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// ErrEvaluatorClosed is returned by JSEvaluator.Eval after Close.
var ErrEvaluatorClosed = errors.New("evaluator closed")

// JSEvaluator runs code in a goja runtime bound to one page. Scripts see a
// small document: document.createElement, document.write, document.head
// and document.body (appendChild, insertBefore, insertAdjacentHTML),
// DOMContentLoaded registration through document.addEventListener or
// window.addEventListener, and console.
//
// The runtime is owned by a single goroutine. Eval calls from other
// goroutines are queued to it and wait for their result; calls made from
// inside a running script (an inline script appended by another script)
// run in place.
type JSEvaluator struct {
	vm   *goja.Runtime
	page *Page

	// loop goroutine only
	ctx      context.Context
	elements map[*goja.Object]*element

	mu      sync.Mutex
	jobs    []func()
	closed  bool
	started bool
	signal  chan struct{}
	done    chan struct{}
}

type element struct {
	tag    string
	attrs  map[string]string
	script *Script
}

type loopKey struct{}

// NewJSEvaluator returns an evaluator with a fresh runtime. Pass it to New
// through WithEvaluator; the page binds itself to the runtime.
func NewJSEvaluator() *JSEvaluator {
	return &JSEvaluator{
		vm:       goja.New(),
		ctx:      context.Background(),
		elements: make(map[*goja.Object]*element),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Eval implements Evaluator. Exceptions come back as *ScriptError; a
// cancelled ctx interrupts the running script.
func (r *JSEvaluator) Eval(ctx context.Context, code, sourceURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Value(loopKey{}) == r {
		return r.run(ctx, code, sourceURL)
	}

	errc := make(chan error, 1)
	job := func() {
		r.vm.ClearInterrupt()
		if err := ctx.Err(); err != nil {
			errc <- err
			return
		}
		errc <- r.run(context.WithValue(ctx, loopKey{}, r), code, sourceURL)
	}
	if !r.post(job) {
		return ErrEvaluatorClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		r.vm.Interrupt(ctx.Err())
		return <-errc
	}
}

// Idle waits until work queued before the call, such as ready listeners,
// has run.
func (r *JSEvaluator) Idle(ctx context.Context) error {
	if ctx.Value(loopKey{}) == r {
		return nil
	}
	done := make(chan struct{})
	if !r.post(func() { close(done) }) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the runtime after queued work, such as ready listeners, has
// run.
func (r *JSEvaluator) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()

	if started {
		r.wake()
		<-r.done
	}
	return nil
}

func (r *JSEvaluator) post(job func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.jobs = append(r.jobs, job)
	if !r.started {
		r.started = true
		go r.loop()
	}
	r.mu.Unlock()
	r.wake()
	return true
}

func (r *JSEvaluator) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *JSEvaluator) loop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		jobs := r.jobs
		r.jobs = nil
		closed := r.closed
		r.mu.Unlock()

		for _, job := range jobs {
			job()
		}
		if len(jobs) > 0 {
			continue
		}
		if closed {
			return
		}
		<-r.signal
	}
}

func (r *JSEvaluator) run(ctx context.Context, code, sourceURL string) error {
	prog, err := goja.Compile(sourceURL, code, false)
	if err != nil {
		return compileError(err, sourceURL)
	}

	saved := r.ctx
	r.ctx = ctx
	defer func() { r.ctx = saved }()

	_, err = r.vm.RunProgram(prog)
	return r.scriptError(err, sourceURL)
}

func compileError(err error, source string) error {
	se := &ScriptError{Name: "SyntaxError", Message: err.Error(), Source: source}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		se.Message = syntax.Message
	}
	var ref *goja.CompilerReferenceError
	if errors.As(err, &ref) {
		se.Name, se.Message = "ReferenceError", ref.Message
	}
	return se
}

func (r *JSEvaluator) scriptError(err error, source string) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return err
	}
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}

	val := ex.Value()
	se := &ScriptError{Name: "Error", Message: val.String(), Source: source}
	if obj, ok := val.(*goja.Object); ok {
		if name := obj.Get("name"); defined(name) {
			se.Name = name.String()
		}
		if msg := obj.Get("message"); defined(msg) {
			se.Message = msg.String()
		}
	}
	return se
}

func defined(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// attach binds the runtime globals to p. Called once by New.
func (r *JSEvaluator) attach(p *Page) {
	r.page = p
	vm := r.vm
	global := vm.GlobalObject()

	_ = vm.Set("window", global)
	_ = vm.Set("self", global)
	_ = global.Set("addEventListener", r.addEventListener)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, r.console(level))
	}
	_ = vm.Set("console", console)

	doc := vm.NewObject()
	_ = doc.Set("createElement", r.createElement)
	_ = doc.Set("write", r.write)
	_ = doc.Set("addEventListener", r.addEventListener)
	_ = doc.Set("head", r.container("HEAD"))
	_ = doc.Set("body", r.container("BODY"))
	_ = doc.DefineAccessorProperty("readyState", vm.ToValue(func() string {
		if p.Ready() {
			return "complete"
		}
		return "loading"
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = vm.Set("document", doc)
}

func (r *JSEvaluator) console(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		lvl := slog.LevelDebug
		if level == "warn" || level == "error" {
			lvl = slog.LevelWarn
		}
		slog.Log(r.ctx, lvl, "console."+level,
			"page", r.page.Name(),
			"msg", strings.Join(parts, " "),
		)
		return goja.Undefined()
	}
}

// addEventListener registers DOMContentLoaded and load listeners with the
// page ready event. Other event types are accepted and never fire.
func (r *JSEvaluator) addEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok || (typ != "DOMContentLoaded" && typ != "load") {
		return goja.Undefined()
	}
	// Listeners never run inline: the page may invoke this func from the
	// loop goroutine when it is already ready.
	r.page.OnReady(func() {
		r.post(func() { r.callListener(typ, fn) })
	})
	return goja.Undefined()
}

func (r *JSEvaluator) callListener(typ string, fn goja.Callable) {
	r.vm.ClearInterrupt()
	ctx := context.WithValue(context.Background(), loopKey{}, r)
	saved := r.ctx
	r.ctx = ctx
	defer func() { r.ctx = saved }()

	if _, err := fn(goja.Undefined()); err != nil {
		slog.Warn("ready listener threw",
			"page", r.page.Name(),
			"event", typ,
			"error", r.scriptError(err, r.page.Name()),
		)
	}
}

func (r *JSEvaluator) createElement(call goja.FunctionCall) goja.Value {
	tag := strings.ToLower(call.Argument(0).String())
	el := r.vm.NewObject()
	state := &element{tag: tag, attrs: make(map[string]string)}
	r.elements[el] = state

	_ = el.Set("tagName", strings.ToUpper(tag))
	_ = el.Set("setAttribute", func(c goja.FunctionCall) goja.Value {
		state.attrs[strings.ToLower(c.Argument(0).String())] = c.Argument(1).String()
		return goja.Undefined()
	})
	_ = el.Set("getAttribute", func(c goja.FunctionCall) goja.Value {
		v, ok := state.attrs[strings.ToLower(c.Argument(0).String())]
		if !ok {
			return goja.Null()
		}
		return r.vm.ToValue(v)
	})
	_ = el.Set("removeAttribute", func(c goja.FunctionCall) goja.Value {
		delete(state.attrs, strings.ToLower(c.Argument(0).String()))
		return goja.Undefined()
	})
	return el
}

func (r *JSEvaluator) container(tag string) *goja.Object {
	c := r.vm.NewObject()
	_ = c.Set("tagName", tag)
	_ = c.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		return r.insert(call.Argument(0), nil, false)
	})
	_ = c.Set("insertBefore", func(call goja.FunctionCall) goja.Value {
		return r.insert(call.Argument(0), call.Argument(1), true)
	})
	_ = c.Set("insertAdjacentHTML", func(call goja.FunctionCall) goja.Value {
		return r.write(goja.FunctionCall{Arguments: call.Arguments[min(1, len(call.Arguments)):]})
	})
	return c
}

// write reports the scripts in written markup to the page as mutations.
func (r *JSEvaluator) write(call goja.FunctionCall) goja.Value {
	var markup strings.Builder
	for _, arg := range call.Arguments {
		markup.WriteString(arg.String())
	}
	scripts, err := scriptsIn(markup.String())
	if err != nil {
		panic(r.vm.NewGoError(err))
	}
	for _, s := range scripts {
		if err := r.page.Observe(r.ctx, s); err != nil && r.ctx.Err() != nil {
			panic(r.vm.NewGoError(r.ctx.Err()))
		}
	}
	return goja.Undefined()
}

// insert hands a script element to the page. Errors raised by the inserted
// script are on the page transcript and do not propagate to the caller.
func (r *JSEvaluator) insert(node, ref goja.Value, before bool) goja.Value {
	el, ok := node.(*goja.Object)
	if !ok {
		panic(r.vm.NewTypeError(fmt.Sprintf("parameter 1 is not of type 'Node': %s", node)))
	}
	state := r.elements[el]
	if state == nil || state.tag != "script" || state.script != nil {
		return node
	}
	s := scriptOf(el, state)
	state.script = s

	var err error
	if before {
		var refScript *Script
		if refObj, ok := ref.(*goja.Object); ok {
			if rs := r.elements[refObj]; rs != nil {
				refScript = rs.script
			}
		}
		err = r.page.InsertBefore(r.ctx, s, refScript)
	} else {
		err = r.page.AppendChild(r.ctx, s)
	}
	if err != nil && r.ctx.Err() != nil {
		panic(r.vm.NewGoError(r.ctx.Err()))
	}
	return node
}

var elementAttrs = map[string]string{
	"src":            "src",
	"type":           "type",
	"nonce":          "nonce",
	"integrity":      "integrity",
	"crossOrigin":    "crossorigin",
	"referrerPolicy": "referrerpolicy",
}

// scriptOf merges properties set on el with its setAttribute calls.
func scriptOf(el *goja.Object, state *element) *Script {
	attrs := make(map[string]string, len(state.attrs))
	for k, v := range state.attrs {
		attrs[k] = v
	}
	for prop, attr := range elementAttrs {
		if v := el.Get(prop); defined(v) {
			attrs[attr] = v.String()
		}
	}
	for _, flag := range []string{"async", "defer"} {
		if v := el.Get(flag); defined(v) && v.ToBoolean() {
			attrs[flag] = ""
		}
	}
	var text string
	for _, prop := range []string{"text", "textContent", "innerHTML"} {
		if v := el.Get(prop); defined(v) {
			text = v.String()
			break
		}
	}
	return NewScript(attrs, text)
}
