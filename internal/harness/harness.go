package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rshare/internal/config"
	"github.com/roach88/rshare/internal/engine"
	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/page"
	"github.com/roach88/rshare/internal/resource"
	"github.com/roach88/rshare/internal/testutil"
)

// Origin is the origin every scenario page is served from.
const Origin = "http://scenario.test"

const (
	defaultTimeout = 5 * time.Second
	bootstrapFile  = "ResourceShare.js"
)

// Harness holds the shared state of one scenario execution.
type Harness struct {
	cfg     config.Config
	fetcher *testutil.MapFetcher
	blobs   *resource.BlobStore
	clock   *events.Clock
	random  func() string
	logger  *slog.Logger
	timeout time.Duration
}

type runningPage struct {
	eng *engine.Engine
	rec *events.Recorder
}

// Run executes a scenario and returns the result. An error means the
// scenario could not be executed; failed assertions are reported in the
// result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := NewResult()

	top, err := h.start(ctx, scenario.Top, nil)
	if err != nil {
		return nil, err
	}
	running := []*runningPage{top}
	defer func() {
		for _, c := range running {
			c.eng.Close()
		}
	}()

	if err := h.wait(ctx, top); err != nil {
		result.AddError(err.Error())
	}
	for _, f := range scenario.Frames {
		child, err := h.start(ctx, f, top.eng)
		if err != nil {
			return nil, err
		}
		running = append(running, child)
		if err := h.wait(ctx, child); err != nil {
			result.AddError(err.Error())
		}
	}

	for _, c := range running {
		if err := c.eng.Page().Idle(ctx); err != nil {
			result.AddError(err.Error())
		}
		result.Contexts = append(result.Contexts, trace(c))
	}
	for _, locator := range scenario.locators() {
		result.Fetches[locator] = h.fetcher.Calls(locator)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Top.Name, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	var overlay []byte
	if s.Config.Kind != 0 {
		data, err := yaml.Marshal(&s.Config)
		if err != nil {
			return nil, fmt.Errorf("encoding config overlay: %w", err)
		}
		overlay = data
	}
	cfg, err := config.Parse(overlay, s.Name+".yaml")
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if s.Timeout != "" {
		timeout, err = time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
	}

	fetcher := testutil.NewMapFetcher(s.Resources)
	if _, ok := s.Resources[bootstrapFile]; !ok {
		fetcher.Set(bootstrapFile, "")
	}
	for locator, n := range s.Failures {
		fetcher.FailFirst(locator, n)
	}

	return &Harness{
		cfg:     cfg,
		fetcher: fetcher,
		blobs:   resource.NewBlobStore(Origin),
		clock:   events.NewClock(),
		random:  testutil.FixedRandom(s.Random),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: timeout,
	}, nil
}

// start parses def and runs an engine for it. A non-nil parent makes it a
// child of that engine.
func (h *Harness) start(ctx context.Context, def PageDef, parent *engine.Engine) (*runningPage, error) {
	p, err := page.Parse(strings.NewReader(Document(def.HTML)), Origin+"/"+def.Name,
		page.WithEvaluator(page.NewJSEvaluator()),
		page.WithLoader(h.fetcher),
		page.WithBlobs(h.blobs),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", def.Name, err)
	}

	opts := engine.Options{
		Config:  h.cfg,
		Page:    p,
		Name:    def.Name,
		Fetcher: h.fetcher,
		Blobs:   h.blobs,
		Clock:   h.clock,
		Logger:  h.logger,
		Random:  h.random,
	}
	if parent != nil {
		opts.Parent = parent.Mailbox()
	}
	rec := events.NewRecorder()
	opts.Sinks = []events.Sink{rec}

	e, err := engine.New(opts)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := e.Run(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("engine failed", "context", def.Name, "error", err)
		}
	}()
	return &runningPage{eng: e, rec: rec}, nil
}

func (h *Harness) wait(ctx context.Context, c *runningPage) error {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case <-c.eng.Settled():
		return nil
	case <-timer.C:
		return fmt.Errorf("%s did not settle within %s: %s", c.eng.Name(), h.timeout, c.eng.Outcome())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func trace(c *runningPage) ContextTrace {
	o := c.eng.Outcome()
	t := ContextTrace{
		Name:      o.Context,
		Role:      string(o.Role),
		Status:    o.Status(),
		Reason:    o.Reason,
		Loaded:    o.Loaded,
		Total:     o.Total,
		Connected: o.Connected,
		Steps:     []string{},
		Log:       []string{},
	}
	if o.Fatal != nil {
		t.Fatal = o.Fatal.Error()
	}
	for _, s := range c.eng.Page().Steps() {
		t.Steps = append(t.Steps, s.String())
	}
	for _, e := range c.rec.OfType(events.TypeLog) {
		t.Log = append(t.Log, e.Message)
	}
	return t
}

// Document wraps head markup in a page whose head starts with the
// bootstrap script.
func Document(head string) string {
	return "<!doctype html><html><head>" +
		`<script src="` + bootstrapFile + `"></script>` +
		head +
		"</head><body></body></html>"
}

// locators returns every locator the scenario serves, fails or counts,
// sorted.
func (s *Scenario) locators() []string {
	seen := make(map[string]bool)
	var out []string
	for l := range s.Resources {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	for l := range s.Failures {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	for _, a := range s.Assertions {
		if a.Type == AssertFetchCount && !seen[a.Locator] {
			seen[a.Locator] = true
			out = append(out, a.Locator)
		}
	}
	sort.Strings(out)
	return out
}
