// Package observability owns metrics and the HTTP admin surface.
//
// Ownership boundary:
// - prometheus collectors for dispatch and worker activity
// - gin middleware and /health, /ready, /metrics routes
package observability
