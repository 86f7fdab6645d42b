// Package events carries the engine's observable output: categorised log
// messages, progress counts, item state changes and the fatal-error payload.
//
// A Bus stamps every event with a logical sequence number from its Clock so
// consumers can order events without trusting wall time, mirrors log events to
// slog, and fans them out to subscribed sinks (journal, CLI printer, tests).
package events
