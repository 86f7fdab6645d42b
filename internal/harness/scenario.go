package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one page scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Config is an overlay over the default configuration, in the same
	// shape as an rshare.yaml file.
	Config yaml.Node `yaml:"config,omitempty"`

	// Resources maps locators to the bodies the fake network serves.
	Resources map[string]string `yaml:"resources"`

	// Failures makes the first N fetches of a locator fail with HTTP 500.
	Failures map[string]int `yaml:"failures,omitempty"`

	Top    PageDef   `yaml:"top"`
	Frames []PageDef `yaml:"frames,omitempty"`

	Assertions []Assertion `yaml:"assertions"`

	// Random is the fixed suffix of inline source names. Defaults to TEST00.
	Random string `yaml:"random,omitempty"`
	// Timeout bounds how long each context may take to settle. Defaults to 5s.
	Timeout string `yaml:"timeout,omitempty"`
}

// PageDef is one page of a scenario.
type PageDef struct {
	Name string `yaml:"name"`
	// HTML is placed in the document head after the bootstrap script.
	HTML string `yaml:"html"`
}

// Assertion validates a scenario result.
type Assertion struct {
	Type string `yaml:"type"`

	// Context names the page the assertion applies to. Defaults to the top
	// page.
	Context string `yaml:"context,omitempty"`

	Step  string   `yaml:"step,omitempty"`
	Steps []string `yaml:"steps,omitempty"`

	Status string `yaml:"status,omitempty"`
	Reason string `yaml:"reason,omitempty"`
	Loaded *int   `yaml:"loaded,omitempty"`
	Total  *int   `yaml:"total,omitempty"`

	Locator string `yaml:"locator,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertStepContains = "step_contains"
	AssertStepAbsent   = "step_absent"
	AssertStepOrder    = "step_order"
	AssertOutcome      = "outcome"
	AssertFetchCount   = "fetch_count"
	AssertLogContains  = "log_contains"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Top.Name == "" {
		return fmt.Errorf("top.name is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := map[string]bool{s.Top.Name: true}
	for i, f := range s.Frames {
		if f.Name == "" {
			return fmt.Errorf("frames[%d]: name is required", i)
		}
		if names[f.Name] {
			return fmt.Errorf("frames[%d]: duplicate page name %q", i, f.Name)
		}
		names[f.Name] = true
	}

	for locator, n := range s.Failures {
		if n <= 0 {
			return fmt.Errorf("failures[%s]: count must be positive", locator)
		}
	}

	for i := range s.Assertions {
		a := &s.Assertions[i]
		if a.Context != "" && !names[a.Context] {
			return fmt.Errorf("assertions[%d]: unknown context %q", i, a.Context)
		}
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStepContains, AssertStepAbsent:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for %s", index, a.Type)
		}
	case AssertStepOrder:
		if len(a.Steps) < 2 {
			return fmt.Errorf("assertions[%d]: step_order needs at least two steps", index)
		}
	case AssertOutcome:
		if a.Status == "" && a.Reason == "" && a.Loaded == nil && a.Total == nil {
			return fmt.Errorf("assertions[%d]: outcome needs status, reason, loaded or total", index)
		}
	case AssertFetchCount:
		if a.Locator == "" {
			return fmt.Errorf("assertions[%d]: locator is required for fetch_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fetch_count", index)
		}
	case AssertLogContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for log_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
