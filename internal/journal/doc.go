// Package journal records engine runs in SQLite for later inspection.
//
// A Journal is an events.Sink: every event of a run is appended to the
// events table, item transitions are folded into the items table (latest
// state wins) and the fatal payload of each context is kept once. The
// trace command reads it back.
//
// Write operations are idempotent: replaying the same event is a no-op.
// Read operations order by seq so output is deterministic.
package journal
