package diag

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/rshare/internal/fetch"
	"github.com/roach88/rshare/internal/page"
	"github.com/roach88/rshare/internal/resource"
)

func ruleIDs(fs []Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Rule)
	}
	return out
}

func TestDiagnose_Table(t *testing.T) {
	exhausted := &fetch.LoadExhaustedError{
		Key:      resource.Key{Kind: resource.KindScript, Locator: "a.js"},
		Attempts: 4,
		Err:      &fetch.TransientFetchError{Locator: "a.js", Status: 503},
	}

	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"jquery", &page.ScriptError{Name: "ReferenceError", Message: "$ is not defined"}, []string{"jquery_missing"}},
		{"jquery long name", &page.ScriptError{Name: "ReferenceError", Message: "jQuery is not defined"}, []string{"jquery_missing"}},
		{"layui", &page.ScriptError{Name: "ReferenceError", Message: "layui is not defined"}, []string{"layui_missing"}},
		{"syntax", &page.ScriptError{Name: "SyntaxError", Message: "Unexpected token '}'"}, []string{"syntax_error"}},
		{"type", &page.ScriptError{Name: "TypeError", Message: "x is not a function"}, []string{"type_error"}},
		{"exhausted fetch", exhausted, []string{"network_error"}},
		{"cors", errors.New("Failed to fetch: blocked by CORS policy"), []string{"network_error", "cors_error"}},
		{"wrapped script error", fmt.Errorf("execute: %w", &page.ScriptError{Name: "TypeError", Message: "$ is not defined"}), []string{"jquery_missing", "type_error"}},
		{"plain", errors.New("something odd"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ruleIDs(Diagnose(Describe(tt.err)))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, Descriptor{}, Describe(nil))

	d := Describe(&fetch.TransientFetchError{Locator: "a.js", Status: 404, Err: errors.New("HTTP 404")})
	assert.Equal(t, 404, d.Status)
	assert.True(t, d.Network)
	assert.Equal(t, "Error", d.Name)

	d = Describe(&page.ScriptError{Name: "TypeError", Message: "boom", Source: "a.js"})
	assert.Equal(t, "TypeError", d.Name)
	assert.Equal(t, "boom", d.Message)
	assert.False(t, d.Network)
}

func TestRules_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range Rules {
		assert.False(t, seen[r.ID], "duplicate rule %s", r.ID)
		seen[r.ID] = true
		assert.NotEmpty(t, r.Title)
		assert.True(t, strings.HasPrefix(r.Color, "#"))
	}
}

func TestReport_Golden(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"jquery", &page.ScriptError{Name: "ReferenceError", Message: "$ is not defined"}},
		{"type", &page.ScriptError{Name: "TypeError", Message: "Cannot read properties of undefined (reading 'render')"}},
		{"exhausted", &fetch.LoadExhaustedError{
			Key:      resource.Key{Kind: resource.KindStyle, Locator: "app.css"},
			Attempts: 4,
			Err:      &fetch.TransientFetchError{Locator: "app.css", Status: 404},
		}},
		{"cors", errors.New("Failed to fetch: blocked by CORS policy")},
		{"unmatched", errors.New("something odd")},
	}

	var b strings.Builder
	for i, c := range cases {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "== %s ==\n", c.name)
		b.WriteString(Report(c.err))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "reports", []byte(b.String()))
}
