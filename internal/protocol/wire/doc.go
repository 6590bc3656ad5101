// Package wire owns the pars <-> parsd message envelopes.
//
// Ownership boundary:
// - hello/hello.ack session start
// - exec/result/error request-response pairs
// - output chunks streamed ahead of a large result
// - link timeouts and tls settings
package wire
