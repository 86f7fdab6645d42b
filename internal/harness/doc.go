// Package harness runs page scenarios through real engines and checks the
// results.
//
// A scenario is a YAML file naming a top page, optional frames, the
// resources the fake network serves, and assertions over what each context
// did.
//
// # Scenario Format
//
//	name: shared_frame
//	description: "A frame gets its script from the top context's cache"
//	config:
//	  retry: { delay: 1ms }
//	resources:
//	  lib/a.js: "a()"
//	  app.js: "app()"
//	failures:
//	  lib/flaky.js: 2
//	top:
//	  name: index.html
//	  html: |
//	    <resource-share type="script" src="lib/a.js"></resource-share>
//	    <script src="app.js"></script>
//	frames:
//	  - name: frame.html
//	    html: |
//	      <resource-share type="script" src="lib/a.js"></resource-share>
//	assertions:
//	  - type: outcome
//	    context: frame.html
//	    status: released
//	  - type: fetch_count
//	    locator: lib/a.js
//	    count: 1
//
// The html of a page is wrapped in a document whose head starts with the
// ResourceShare.js bootstrap script. Locators missing from resources answer
// 404. Config is an overlay merged over the built-in defaults.
//
// # Assertion Types
//
//   - step_contains: the context's transcript has the step
//   - step_absent: the context's transcript lacks the step
//   - step_order: the steps appear in this order, not necessarily adjacent
//   - outcome: status, reason, loaded and total of the context (subset match)
//   - fetch_count: the fake network served the locator exactly count times
//   - log_contains: a log line of the context contains message
//
// # Determinism
//
// Frames start only after the top context has settled, so whether a frame
// finds a resource in the shared cache does not depend on scheduling.
// Inline source names use a fixed suffix (scenario.random, default TEST00).
package harness
