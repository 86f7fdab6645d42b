// Package fetch loads resource text for one execution context.
//
// The Coordinator is the only path by which a context obtains resource
// content. It answers from the context's cache, coalesces concurrent loads
// of the same key into one in-flight call, asks the parent context first
// when running inside a child, and otherwise fetches from the network with a
// bounded number of retries.
package fetch
