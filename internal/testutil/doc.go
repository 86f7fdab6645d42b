// Package testutil provides deterministic fakes shared by package tests:
// an in-memory fetcher with scripted failures, a stepping wall clock and a
// fixed random source for source names.
package testutil
