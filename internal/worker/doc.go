// Package worker is the parsd side of the framed protocol.
//
// A worker accepts framed TCP (optionally TLS) connections from pars.
// Every connection opens with a hello/hello.ack handshake that checks the
// shared token, then carries a strict request/response sequence of exec
// frames. Each exec runs one sub-command through the worker's shell and is
// answered by exactly one result or error frame with the same message id.
//
// Connections are served concurrently; frames on one connection are served
// in order, so a pars remote slot owns its connection exclusively.
package worker
