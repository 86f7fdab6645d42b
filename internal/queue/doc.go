// Package queue loads and executes a page's declared resources strictly in
// declaration order.
//
// Each Item moves pending → loaded → executed. An item whose execution
// throws ends failed-non-fatal and the queue continues. An item that cannot
// be loaded ends failed-fatal: the queue halts for good and reports a
// CriticalError exactly once.
package queue
