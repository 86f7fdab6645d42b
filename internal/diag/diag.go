// Package diag explains load and execution errors.
//
// Rules form an ordered table. Every rule that matches an error contributes
// a finding, so one error may produce several explanations (a failed fetch
// that was also blocked by CORS, for example).
package diag

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/roach88/rshare/internal/fetch"
	"github.com/roach88/rshare/internal/page"
)

// Descriptor is the structured view of an error that rules match against.
type Descriptor struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Network bool   `json:"network,omitempty"`
	CORS    bool   `json:"cors,omitempty"`
}

// Describe builds a descriptor from err.
func Describe(err error) Descriptor {
	if err == nil {
		return Descriptor{}
	}
	d := Descriptor{Name: "Error", Message: err.Error()}

	var se *page.ScriptError
	if errors.As(err, &se) {
		d.Name = se.Name
		d.Message = se.Message
	}

	var te *fetch.TransientFetchError
	if errors.As(err, &te) {
		d.Status = te.Status
		d.Network = true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		d.Network = true
	}

	d.CORS = strings.Contains(d.Message, "CORS")
	return d
}

// Rule is one entry of the classifier table.
type Rule struct {
	ID    string
	Title string
	// Color is the accent used when rendering the finding in a terminal.
	Color   string
	Match   func(Descriptor) bool
	Explain func(Descriptor) string
}

// Finding is a matched rule's explanation.
type Finding struct {
	Rule   string `json:"rule"`
	Title  string `json:"title"`
	Color  string `json:"color"`
	Detail string `json:"detail"`
}

func messageHas(d Descriptor, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(d.Message, s) {
			return true
		}
	}
	return false
}

// Rules is the classifier table, evaluated in order.
var Rules = []Rule{
	{
		ID:    "jquery_missing",
		Title: "jQuery dependency error",
		Color: "#ff3b30",
		Match: func(d Descriptor) bool {
			return messageHas(d, "$ is not defined", "jQuery is not defined")
		},
		Explain: func(Descriptor) string {
			return "The script depends on jQuery, but jQuery is not loaded or was declared after it.\n" +
				"Fix: declare jQuery in resource-share before the libraries that use it."
		},
	},
	{
		ID:    "layui_missing",
		Title: "Layui missing",
		Color: "#ff9500",
		Match: func(d Descriptor) bool {
			return messageHas(d, "layui is not defined", "Layui is not defined")
		},
		Explain: func(Descriptor) string {
			return "The script depends on Layui, but Layui does not appear to be loaded.\n" +
				"Fix: make sure the Layui resources are declared."
		},
	},
	{
		ID:    "syntax_error",
		Title: "Syntax error",
		Color: "#8e0000",
		Match: func(d Descriptor) bool { return d.Name == "SyntaxError" },
		Explain: func(d Descriptor) string {
			return "The code contains a syntax error.\nDetail: " + d.Message
		},
	},
	{
		ID:    "type_error",
		Title: "Type error",
		Color: "#ff3a30",
		Match: func(d Descriptor) bool { return d.Name == "TypeError" },
		Explain: func(d Descriptor) string {
			return "A method or property was used on undefined or null.\nDetail: " + d.Message
		},
	},
	{
		ID:    "network_error",
		Title: "Network error",
		Color: "#ff2d55",
		Match: func(d Descriptor) bool {
			return d.Network || d.Status >= 400 || messageHas(d, "Failed to fetch", "NetworkError")
		},
		Explain: func(d Descriptor) string {
			detail := "The resource could not be fetched; the network or the server may be down."
			if d.Status != 0 {
				detail += fmt.Sprintf("\nStatus: HTTP %d", d.Status)
			}
			return detail + "\nFix: check the network connection and the resource URL."
		},
	},
	{
		ID:    "cors_error",
		Title: "Cross-origin (CORS) error",
		Color: "#007aff",
		Match: func(d Descriptor) bool { return d.CORS },
		Explain: func(Descriptor) string {
			return "The request was blocked by the cross-origin policy.\n" +
				"Fix: send Access-Control-Allow-Origin from the server or use a proxy."
		},
	},
}

// NoMatch is the report line used when no rule matches.
const NoMatch = "no diagnostic rule matches this error"

// Diagnose returns the findings of every matching rule, in table order.
func Diagnose(d Descriptor) []Finding {
	var out []Finding
	for _, r := range Rules {
		if r.Match(d) {
			out = append(out, Finding{Rule: r.ID, Title: r.Title, Color: r.Color, Detail: r.Explain(d)})
		}
	}
	return out
}

// Report explains err as plain text.
func Report(err error) string {
	return Format(Diagnose(Describe(err)))
}

// Format renders findings as plain text, one block per finding.
func Format(findings []Finding) string {
	if len(findings) == 0 {
		return NoMatch + "\n"
	}
	var b strings.Builder
	for i, f := range findings {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s\n", f.Rule, f.Title)
		for _, line := range strings.Split(f.Detail, "\n") {
			b.WriteString("  " + line + "\n")
		}
	}
	return b.String()
}
