package queue

import (
	"context"
	"net/url"
	"sync"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/resource"
)

// Loader supplies resource text. The fetch coordinator implements it.
type Loader interface {
	LoadText(ctx context.Context, key resource.Key) (string, error)
}

// Executor runs loaded resources in the page.
type Executor interface {
	ExecuteScript(ctx context.Context, code, name string) error
	InjectStyle(ctx context.Context, css, name string) error
}

// Options configures a Queue.
type Options struct {
	Loader   Loader
	Executor Executor
	// PageURL resolves relative locators for naming and CSS rewriting.
	PageURL *url.URL
	Bus     *events.Bus
	// Explain turns an error into a diagnostic report.
	Explain func(error) string
	// OnComplete runs once after every item has been processed.
	OnComplete func()
	// OnFatal runs once when the queue halts on a critical error.
	OnFatal func(*CriticalError)
}

// Queue processes declared items one at a time.
type Queue struct {
	opts Options
	bus  *events.Bus

	mu        sync.Mutex
	items     []*Item
	processed int
	fatal     *CriticalError
	started   bool
	finished  bool
}

// New creates a queue over items.
func New(items []*Item, opts Options) *Queue {
	return &Queue{opts: opts, bus: opts.Bus, items: items}
}

// Items returns a snapshot of the items.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	return out
}

// Progress returns processed and total item counts.
func (q *Queue) Progress() (loaded, total int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processed, len(q.items)
}

// Fatal returns the critical error that halted the queue, if any.
func (q *Queue) Fatal() *CriticalError {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatal
}

// Finished reports whether every item was processed.
func (q *Queue) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished
}

// Run processes every item in order. It returns the CriticalError that
// halted the queue, ctx.Err() if cancelled, or nil on completion. Run may
// only be called once.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	total := len(q.items)
	q.mu.Unlock()

	q.bus.Progress(0, total)
	if total == 0 {
		q.bus.Logf(events.CategoryInfo, "no declared resources to load")
		q.complete()
		return nil
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cerr := q.process(ctx, i); cerr != nil {
			q.halt(cerr)
			return cerr
		}
	}

	q.bus.Logf(events.CategorySuccess, "all %d declared resource(s) processed", total)
	q.complete()
	return nil
}

func (q *Queue) process(ctx context.Context, i int) *CriticalError {
	it := q.items[i]
	key := it.Key

	text, err := q.opts.Loader.LoadText(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		q.transition(it, FailedFatal)
		return q.critical(err, key.Locator)
	}
	q.transition(it, Loaded)

	name := SourceName(key.Locator, q.opts.PageURL)
	if err := q.execute(ctx, key, text, name); err != nil {
		if IsUnrecoverable(err) {
			q.transition(it, FailedFatal)
			return q.critical(err, key.Locator)
		}
		q.transition(it, FailedNonFatal)
		xerr := &ExecutionError{Item: key, Err: err}
		q.bus.Logf(events.CategoryDanger, "%v", xerr)
		if report := q.explain(err); report != "" {
			q.bus.Logf(events.CategoryDanger, "%s", report)
		}
	} else {
		q.transition(it, Executed)
		q.bus.Logf(events.CategorySuccess, "executed %s [%s]", key, name)
	}

	q.mu.Lock()
	q.processed++
	loaded := q.processed
	q.mu.Unlock()
	q.bus.Progress(loaded, len(q.items))
	return nil
}

func (q *Queue) execute(ctx context.Context, key resource.Key, text, name string) error {
	if q.opts.Executor == nil {
		return nil
	}
	switch key.Kind {
	case resource.KindStyle:
		base := Resolve(key.Locator, q.opts.PageURL)
		css := RewriteCSSURLs(text, base) + "\n/*# sourceURL=" + name + " */"
		return q.opts.Executor.InjectStyle(ctx, css, name)
	default:
		return q.opts.Executor.ExecuteScript(ctx, text+"\n//# sourceURL="+name, name)
	}
}

func (q *Queue) transition(it *Item, next State) {
	q.mu.Lock()
	err := it.advance(next)
	update := events.ItemUpdate{Index: it.Index, Kind: string(it.Key.Kind), Locator: it.Key.Locator, State: string(it.State)}
	q.mu.Unlock()

	if err != nil {
		q.bus.Logf(events.CategoryWarning, "%v", err)
		return
	}
	q.bus.ItemChanged(update)
}

func (q *Queue) critical(err error, locator string) *CriticalError {
	return &CriticalError{Err: err, Locator: locator, Diagnosis: q.explain(err)}
}

func (q *Queue) explain(err error) string {
	if q.opts.Explain == nil {
		return ""
	}
	return q.opts.Explain(err)
}

func (q *Queue) halt(cerr *CriticalError) {
	q.mu.Lock()
	if q.fatal != nil {
		q.mu.Unlock()
		return
	}
	q.fatal = cerr
	q.mu.Unlock()

	q.bus.Logf(events.CategoryDanger, "loading stopped: %v", cerr)
	if q.opts.OnFatal != nil {
		q.opts.OnFatal(cerr)
	}
}

func (q *Queue) complete() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	if q.opts.OnComplete != nil {
		q.opts.OnComplete()
	}
}
