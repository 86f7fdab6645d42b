// Package gate defers a page's native scripts until its declared resources
// have loaded.
//
// A Gate starts armed: every script reaching the page (existing, dynamically
// inserted, or added through the insertion primitives) is captured as a Unit
// unless a bypass rule applies, and ready-event registrations in the top
// context are captured too. Release executes captured units in capture
// order, re-attaches the ready registrations and dispatches one ready event.
//
//	armed ──Hold──▶ holding ──Release──▶ released
//	  └────────────Release─────────────────▲
//
// Release is terminal and idempotent. A safety timer releases the gate if
// nothing else does; Seal cancels it after a critical error.
package gate
