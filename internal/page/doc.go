// Package page models the host document of one execution context.
//
// A Page holds the document's script elements and resource-share markers,
// exposes the insertion primitives scripts use to add more scripts, and runs
// code through an Evaluator. An Interceptor installed on the page sees every
// script before it executes and every ready-listener registration, which is
// how the execution gate defers native scripts.
package page
