package dispatch

import "sync/atomic"

// Termination is the process-wide failure flag. It only moves from
// running to failure-observed.
type Termination struct {
	failed atomic.Bool
}

// Fail marks a failure and reports whether this call flipped the flag.
func (t *Termination) Fail() bool {
	return t.failed.CompareAndSwap(false, true)
}

func (t *Termination) Failed() bool {
	return t.failed.Load()
}
