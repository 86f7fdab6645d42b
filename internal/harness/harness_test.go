package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)
			result := RunWithGolden(t, scenario)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_SharedFrameUsesParentCache(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/shared_frame.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	frame, ok := result.Context("frame.html")
	require.True(t, ok)
	assert.Equal(t, "child", frame.Role)
	assert.True(t, frame.Connected)
	assert.Equal(t, 1, result.Fetches["lib/a.js"])
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: Every assertion is wrong
config:
  retry: { delay: 1ms }
resources:
  lib/a.js: "var a = 1;"
top:
  name: index.html
  html: <resource-share type="script" src="lib/a.js"></resource-share>
assertions:
  - type: outcome
    status: fatal
  - type: fetch_count
    locator: lib/a.js
    count: 2
  - type: step_absent
    step: script RS_VM/VM_a.js
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "status released, want fatal")
	assert.Contains(t, result.Errors[1], "2 fetch(es) of lib/a.js")
	assert.Contains(t, result.Errors[2], "found at position")
}

func TestRun_BadConfigOverlay(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_config
description: Overlay violates the schema
config:
  retry: { count: -1 }
top:
  name: index.html
  html: ""
assertions:
  - type: outcome
    status: released
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRun_BadTimeout(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_timeout
description: Timeout is not a duration
timeout: soon
top:
  name: index.html
  html: ""
assertions:
  - type: outcome
    status: released
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDocument(t *testing.T) {
	doc := Document(`<script>x()</script>`)
	assert.True(t, strings.HasPrefix(doc, "<!doctype html><html><head>"))
	assert.Contains(t, doc, `<script src="ResourceShare.js"></script><script>x()</script></head>`)
}

func TestTranscript(t *testing.T) {
	r := NewResult()
	r.Contexts = append(r.Contexts, ContextTrace{
		Name: "index.html", Role: "top", Status: "released", Reason: "no declared resources",
		Steps: []string{"native ResourceShare.js", "ready  0 listener(s)"},
	})
	r.Fetches["b.js"] = 2
	r.Fetches["a.js"] = 0

	want := `scenario demo

index.html [top]
  native ResourceShare.js
  ready  0 listener(s)
  => released 0/0 (no declared resources)

fetches:
  a.js 0
  b.js 2
`
	assert.Equal(t, want, string(Transcript("demo", r)))
}
