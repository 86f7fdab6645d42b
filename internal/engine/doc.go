// Package engine is the coordination context of one execution context.
//
// An Engine owns everything a page needs to share resources with its
// sibling contexts: the cache and fetch coordinator, the channel endpoint
// (Server in a top context, Client in a child), the execution gate and the
// ordered resource queue. Nothing is global; a run with one top page and
// two frames builds three engines that share only a blob store, a logical
// clock and the top engine's mailbox.
//
// Lifecycle:
//
//  1. New wires the components and arms the gate.
//  2. Run installs the gate on the page, lets the parser run (native
//     scripts are diverted), starts the channel loop and the loading
//     pipeline, then blocks until Stop or ctx cancellation.
//  3. The pipeline holds the gate while declared resources load in order.
//     Completion releases it; a critical error seals it.
//  4. Close stops the engine and revokes every tracked blob handle.
//
// Settled is closed once the gate has released or the run has failed. A
// top engine keeps answering children after it settles.
package engine
