package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Transcript renders the deterministic part of a result: every context's
// steps and outcome, then the fetch counts. Log lines are left out because
// retry messages carry timings.
func Transcript(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", name)
	for _, c := range r.Contexts {
		fmt.Fprintf(&b, "\n%s [%s]\n", c.Name, c.Role)
		for _, s := range c.Steps {
			fmt.Fprintf(&b, "  %s\n", s)
		}
		line := fmt.Sprintf("  => %s %d/%d", c.Status, c.Loaded, c.Total)
		if c.Reason != "" {
			line += " (" + c.Reason + ")"
		}
		b.WriteString(line + "\n")
		if c.Fatal != "" {
			fmt.Fprintf(&b, "  fatal: %s\n", c.Fatal)
		}
	}

	locators := make([]string, 0, len(r.Fetches))
	for l := range r.Fetches {
		locators = append(locators, l)
	}
	sort.Strings(locators)
	b.WriteString("\nfetches:\n")
	for _, l := range locators {
		fmt.Fprintf(&b, "  %s %d\n", l, r.Fetches[l])
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario, fails t on any assertion error and
// compares the transcript against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, e := range result.Errors {
		t.Error(e)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Transcript(scenario.Name, result))
	return result
}
