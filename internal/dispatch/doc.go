// Package dispatch owns the line scheduling core.
//
// Ownership boundary:
// - line splitting and per-line state
// - the pending-line queue and slot pool
// - halt policy and the process-wide termination flag
// - ordered output flushing
//
// Transports are consumed through transport.Transport; connection setup
// happens before a Dispatcher is built.
package dispatch
