// Package resource holds the per-context resource cache and the out-of-band
// handle store used to pass large content between contexts.
//
// A cache entry is keyed by (kind, locator) and is immutable once set: the
// first successful fetch or the first authoritative answer from another
// context wins, later writes are ignored.
//
// Handles are short-lived references into a BlobStore shared by every context
// of one origin. Each context tracks the handles it minted or received in a
// HandleSet and revokes them on teardown.
package resource
