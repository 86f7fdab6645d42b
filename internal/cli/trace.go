package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Type     string // optional - filter events by type
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID         string     `json:"id"`
	Page       string     `json:"page"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
}

// TraceEvent is one journaled event.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Role     string `json:"role"`
	Context  string `json:"context"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// TraceItem is the final state of a declared resource.
type TraceItem struct {
	Context string `json:"context"`
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Locator string `json:"locator"`
	State   string `json:"state"`
}

// TraceFatal is a context's critical error.
type TraceFatal struct {
	Context   string `json:"context"`
	Locator   string `json:"locator,omitempty"`
	Error     string `json:"error"`
	Diagnosis string `json:"diagnosis,omitempty"`
}

// TraceResult holds one run's journal.
type TraceResult struct {
	RunID    string       `json:"run_id"`
	Timeline []TraceEvent `json:"timeline"`
	Items    []TraceItem  `json:"items"`
	Fatals   []TraceFatal `json:"fatals"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect journaled runs",
		Long: `Inspect runs recorded with rshare run --journal.

Without --run, lists every journaled run, newest first. With --run, shows
the run's event timeline in seq order, the final state of every declared
resource and any critical errors.

Examples:
  rshare trace --db ./runs.db
  rshare trace --db ./runs.db --run 0190f5a4-...
  rshare trace --db ./runs.db --run 0190f5a4-... --type fatal --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only events of this type (log|progress|item|fatal)")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions) error {
	ctx := contextOf(cmd)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	jr, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer jr.Close()

	if opts.RunID == "" {
		runs, err := jr.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		summaries := make([]RunSummary, 0, len(runs))
		for _, r := range runs {
			summaries = append(summaries, RunSummary{ID: r.ID, Page: r.Page, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Outcome: r.Outcome})
		}
		if out.JSON() {
			return out.Success(summaries)
		}
		writeRunsText(cmd.OutOrStdout(), summaries)
		return nil
	}

	records, err := jr.Events(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	items, err := jr.Items(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read items", err)
	}
	fatals, err := jr.Fatals(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read fatals", err)
	}

	result := TraceResult{
		RunID:    opts.RunID,
		Timeline: []TraceEvent{},
		Items:    []TraceItem{},
		Fatals:   []TraceFatal{},
	}
	for _, r := range records {
		if opts.Type != "" && r.Type != opts.Type {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq: r.Seq, Role: r.Role, Context: r.Context, Type: r.Type, Category: r.Category, Message: r.Message,
		})
	}
	for _, it := range items {
		result.Items = append(result.Items, TraceItem(it))
	}
	for _, f := range fatals {
		result.Fatals = append(result.Fatals, TraceFatal{Context: f.Context, Locator: f.Locator, Error: f.Error, Diagnosis: f.Diagnosis})
	}

	if out.JSON() {
		return out.Success(result)
	}
	if len(records) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No events found for run: %s\n", opts.RunID)
		return nil
	}
	writeTraceText(cmd.OutOrStdout(), result)
	return nil
}

func writeRunsText(w io.Writer, runs []RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs journaled.")
		return
	}
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "unfinished"
		}
		fmt.Fprintf(w, "%s  %s  %-10s %s\n", r.ID, r.StartedAt.Local().Format(time.DateTime), outcome, r.Page)
	}
}

func writeTraceText(w io.Writer, res TraceResult) {
	fmt.Fprintf(w, "Run: %s\n\nTimeline:\n", res.RunID)
	for _, e := range res.Timeline {
		label := e.Type
		if e.Category != "" && e.Type == "log" {
			label = categoryStyle(events.Category(e.Category)).Render(e.Category)
		}
		fmt.Fprintf(w, "  %4d %-5s %-12s %s %s\n", e.Seq, e.Role, e.Context, label, e.Message)
	}
	if len(res.Items) > 0 {
		fmt.Fprintln(w, "\nResources:")
		for _, it := range res.Items {
			fmt.Fprintf(w, "  %-12s #%d %s:%s %s\n", it.Context, it.Index, it.Kind, it.Locator, it.State)
		}
	}
	for _, f := range res.Fatals {
		fmt.Fprintf(w, "\n%s\n", f.Context)
		fmt.Fprintln(w, renderFatal(f.Locator, f.Error, f.Diagnosis))
	}
}
