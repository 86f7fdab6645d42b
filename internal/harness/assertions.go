package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Context  string
	Expected string
	Actual   string
	// Steps is the context's transcript, for debugging.
	Steps []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Context != "" {
		fmt.Fprintf(&buf, " (%s)", e.Context)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s\n", e.Expected, e.Actual)
	if len(e.Steps) > 0 {
		buf.WriteString("\nTranscript:\n")
		for i, s := range e.Steps {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, s)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages. Assertions without a context apply to top.
func EvaluateAssertions(result *Result, top string, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, top, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, top string, a Assertion) error {
	if a.Type == AssertFetchCount {
		return assertFetchCount(result, a)
	}

	name := a.Context
	if name == "" {
		name = top
	}
	c, ok := result.Context(name)
	if !ok {
		return &AssertionError{Type: a.Type, Context: name, Expected: "context ran", Actual: "no such context"}
	}

	switch a.Type {
	case AssertStepContains:
		return assertStepContains(c, a)
	case AssertStepAbsent:
		return assertStepAbsent(c, a)
	case AssertStepOrder:
		return assertStepOrder(c, a)
	case AssertOutcome:
		return assertOutcome(c, a)
	case AssertLogContains:
		return assertLogContains(c, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func indexOf(steps []string, step string) int {
	for i, s := range steps {
		if s == step {
			return i
		}
	}
	return -1
}

func assertStepContains(c ContextTrace, a Assertion) error {
	if indexOf(c.Steps, a.Step) >= 0 {
		return nil
	}
	return &AssertionError{Type: a.Type, Context: c.Name, Expected: fmt.Sprintf("step %q", a.Step), Actual: "not in transcript", Steps: c.Steps}
}

func assertStepAbsent(c ContextTrace, a Assertion) error {
	if i := indexOf(c.Steps, a.Step); i >= 0 {
		return &AssertionError{Type: a.Type, Context: c.Name, Expected: fmt.Sprintf("no step %q", a.Step), Actual: fmt.Sprintf("found at position %d", i+1), Steps: c.Steps}
	}
	return nil
}

// assertStepOrder checks the steps appear in order. Intervening steps are
// allowed.
func assertStepOrder(c ContextTrace, a Assertion) error {
	prev := -1
	for _, step := range a.Steps {
		i := indexOf(c.Steps, step)
		if i < 0 {
			return &AssertionError{Type: a.Type, Context: c.Name, Expected: fmt.Sprintf("all steps present: %q", a.Steps), Actual: fmt.Sprintf("missing step: %q", step), Steps: c.Steps}
		}
		if i <= prev {
			return &AssertionError{Type: a.Type, Context: c.Name, Expected: fmt.Sprintf("steps in order: %q", a.Steps), Actual: fmt.Sprintf("%q (pos %d) is not after pos %d", step, i+1, prev+1), Steps: c.Steps}
		}
		prev = i
	}
	return nil
}

// assertOutcome is a subset match: only the fields set on a are compared.
func assertOutcome(c ContextTrace, a Assertion) error {
	var diffs []string
	if a.Status != "" && a.Status != c.Status {
		diffs = append(diffs, fmt.Sprintf("status %s, want %s", c.Status, a.Status))
	}
	if a.Reason != "" && a.Reason != c.Reason {
		diffs = append(diffs, fmt.Sprintf("reason %q, want %q", c.Reason, a.Reason))
	}
	if a.Loaded != nil && *a.Loaded != c.Loaded {
		diffs = append(diffs, fmt.Sprintf("loaded %d, want %d", c.Loaded, *a.Loaded))
	}
	if a.Total != nil && *a.Total != c.Total {
		diffs = append(diffs, fmt.Sprintf("total %d, want %d", c.Total, *a.Total))
	}
	if len(diffs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Context:  c.Name,
		Expected: "matching outcome",
		Actual:   strings.Join(diffs, "; "),
		Steps:    c.Steps,
	}
}

func assertFetchCount(result *Result, a Assertion) error {
	got := result.Fetches[a.Locator]
	if got == a.Count {
		return nil
	}
	return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d fetch(es) of %s", a.Count, a.Locator), Actual: fmt.Sprintf("%d", got)}
}

func assertLogContains(c ContextTrace, a Assertion) error {
	for _, line := range c.Log {
		if strings.Contains(line, a.Message) {
			return nil
		}
	}
	return &AssertionError{Type: a.Type, Context: c.Name, Expected: fmt.Sprintf("log line containing %q", a.Message), Actual: fmt.Sprintf("%d log line(s), none match", len(c.Log))}
}
