package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rshare/internal/channel"
	"github.com/roach88/rshare/internal/config"
	"github.com/roach88/rshare/internal/engine"
	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/fetch"
	"github.com/roach88/rshare/internal/journal"
	"github.com/roach88/rshare/internal/page"
	"github.com/roach88/rshare/internal/resource"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Frames  []string
	Config  string
	Journal string
	Origin  string
	Timeout time.Duration

	// IDs overrides the run id generator (for testing).
	IDs channel.IDGenerator
	// Random overrides the RAND6 source of inline source names (for testing).
	Random func() string
}

// ContextResult is one context's outcome.
type ContextResult struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	Loaded    int      `json:"loaded"`
	Total     int      `json:"total"`
	Connected bool     `json:"connected,omitempty"`
	Fatal     string   `json:"fatal,omitempty"`
	Locator   string   `json:"locator,omitempty"`
	Diagnosis string   `json:"diagnosis,omitempty"`
	Steps     []string `json:"steps"`
}

// RunResult is the output of the run command.
type RunResult struct {
	RunID    string          `json:"run_id"`
	Outcome  string          `json:"outcome"`
	Contexts []ContextResult `json:"contexts"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <page.html>",
		Short: "Replay a page and its frames through the engine",
		Long: `Replay a page through the resource sharing engine.

The page becomes the top context; every --frame becomes a child context
that shares the top context's cache. Resources are read from the page's
directory. Scripts run in an embedded JavaScript runtime with a minimal
document: scripts they insert go through the engine's interception, and
DOMContentLoaded listeners wait for the gate.

The command prints the event log, each context's execution transcript and
its outcome. It exits 1 if any context hit a critical error or did not
settle before --timeout.

Examples:
  rshare run ./site/index.html
  rshare run ./site/index.html --frame ./site/frame.html --journal ./runs.db
  rshare run ./site/index.html --config ./rshare.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPages(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Frames, "frame", nil, "child page (repeatable)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration overlay (.yaml or .cue)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record the run in this SQLite journal")
	cmd.Flags().StringVar(&opts.Origin, "origin", "http://localhost", "origin the pages are served from")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up on contexts that have not settled")

	return cmd
}

func runPages(cmd *cobra.Command, opts *RunOptions, pagePath string) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	ids := opts.IDs
	if ids == nil {
		ids = channel.UUIDv7Generator{}
	}
	runID := ids.Generate()

	dir := filepath.Dir(pagePath)
	fetcher := fetch.FileFetcher{Dir: dir}
	origin := strings.TrimSuffix(opts.Origin, "/")
	blobs := resource.NewBlobStore(origin)
	clock := events.NewClock()

	var sinks []events.Sink
	if !out.JSON() {
		sinks = append(sinks, NewPrinter(cmd.OutOrStdout()))
	}

	var jr *journal.Journal
	if opts.Journal != "" {
		jr, err = journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer jr.Close()
		if err := jr.StartRun(contextOf(cmd), runID, filepath.Base(pagePath), time.Now()); err != nil {
			return WrapExitError(ExitCommandError, "failed to start journal run", err)
		}
		sinks = append(sinks, jr.Sink(runID))
	}

	build := func(path string, parent *channel.Mailbox) (*engine.Engine, error) {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, fmt.Errorf("%s is outside %s: %w", path, dir, err)
		}
		p, err := parsePage(path, origin+"/"+filepath.ToSlash(rel), fetcher, blobs)
		if err != nil {
			return nil, err
		}
		return engine.New(engine.Options{
			Config:  cfg,
			Page:    p,
			Name:    filepath.ToSlash(rel),
			Fetcher: fetcher,
			Blobs:   blobs,
			Parent:  parent,
			Clock:   clock,
			Sinks:   sinks,
			Random:  opts.Random,
		})
	}

	top, err := build(pagePath, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load page", err)
	}
	engines := []*engine.Engine{top}
	for _, f := range opts.Frames {
		child, err := build(f, top.Mailbox())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load frame", err)
		}
		engines = append(engines, child)
	}

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	slog.Debug("run starting", "run", runID, "page", pagePath, "frames", len(opts.Frames))
	settled := settleAll(ctx, engines)
	for _, e := range engines {
		e.Close()
	}

	result := collect(runID, engines, settled)
	if jr != nil {
		if err := jr.FinishRun(context.Background(), runID, result.Outcome, time.Now()); err != nil {
			slog.Warn("journal finish failed", "run", runID, "error", err)
		}
	}

	if out.JSON() {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		writeRunText(cmd.OutOrStdout(), result)
	}

	if result.Outcome != "complete" {
		return NewExitError(ExitFailure, fmt.Sprintf("run %s: %s", runID, result.Outcome))
	}
	return nil
}

// settleAll runs every engine and waits until each has settled or ctx is
// done. It reports whether all settled.
func settleAll(ctx context.Context, engines []*engine.Engine) bool {
	for _, e := range engines {
		go func(e *engine.Engine) {
			if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				slog.Error("engine failed", "context", e.Name(), "error", err)
			}
		}(e)
	}
	for _, e := range engines {
		select {
		case <-e.Settled():
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func collect(runID string, engines []*engine.Engine, settled bool) RunResult {
	res := RunResult{RunID: runID, Outcome: "complete"}
	if !settled {
		res.Outcome = "timeout"
	}
	for _, e := range engines {
		o := e.Outcome()
		cr := ContextResult{
			Name:      o.Context,
			Role:      string(o.Role),
			Status:    o.Status(),
			Reason:    o.Reason,
			Loaded:    o.Loaded,
			Total:     o.Total,
			Connected: o.Connected,
			Steps:     []string{},
		}
		if o.Fatal != nil {
			cr.Fatal = errText(o.Fatal.Err)
			cr.Locator = o.Fatal.Locator
			cr.Diagnosis = o.Fatal.Diagnosis
			res.Outcome = "fatal"
		}
		for _, s := range e.Page().Steps() {
			cr.Steps = append(cr.Steps, s.String())
		}
		res.Contexts = append(res.Contexts, cr)
	}
	return res
}

func writeRunText(w io.Writer, res RunResult) {
	for _, c := range res.Contexts {
		fmt.Fprintf(w, "\n%s\n", boldStyle.Render(fmt.Sprintf("%s [%s]", c.Name, c.Role)))
		for _, s := range c.Steps {
			fmt.Fprintf(w, "  %s\n", s)
		}
		line := fmt.Sprintf("  => %s %d/%d", c.Status, c.Loaded, c.Total)
		if c.Reason != "" {
			line += " (" + c.Reason + ")"
		}
		fmt.Fprintln(w, line)
		if c.Fatal != "" {
			fmt.Fprintln(w, renderFatal(c.Locator, c.Fatal, c.Diagnosis))
		}
	}
	fmt.Fprintf(w, "\nrun %s: %s\n", res.RunID, res.Outcome)
}

func parsePage(path, pageURL string, fetcher fetch.FileFetcher, blobs *resource.BlobStore) (*page.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	return page.Parse(f, pageURL,
		page.WithEvaluator(page.NewJSEvaluator()),
		page.WithLoader(fetcher),
		page.WithBlobs(blobs),
	)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
