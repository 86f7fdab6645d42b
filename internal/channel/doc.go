// Package channel implements the message protocol between a top context and
// its same-origin child contexts.
//
// Each context owns a Mailbox. Messages are copied on Post, so contexts never
// share state by reference. A child runs a Client: it performs the ping/pong
// handshake, asks the parent for resources with correlated requests, and
// publishes what it fetched itself. The top context runs a Server that
// answers from its cache only.
//
// Wire format (JSON):
//
//	{"type":"request","messageId":"…","resourceType":"script","url":"a.js"}
//	{"type":"response","messageId":"…","success":true,"contentType":"direct","content":"…"}
package channel
