package dispatch

import (
	"context"
	"sync"
)

// Queue is the FIFO of pending lines shared by every slot.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Line
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends l. It returns false once the queue is closed.
func (q *Queue) Push(l *Line) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, l)
	q.cond.Signal()
	return true
}

// Close marks end of input. Pending lines stay available to Next.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Wake re-evaluates every waiter's gate.
func (q *Queue) Wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}

// Next blocks until a line is available and gate allows taking it. It
// returns false when gate refuses, ctx is done, or the queue is closed
// and drained. gate is evaluated under the queue lock.
func (q *Queue) Next(ctx context.Context, gate func() bool) (*Line, bool) {
	stop := context.AfterFunc(ctx, q.Wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil || !gate() {
			return nil, false
		}
		if len(q.items) > 0 {
			l := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			return l, true
		}
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Drain closes the queue and removes every pending line.
func (q *Queue) Drain() []*Line {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	out := q.items
	q.items = nil
	q.cond.Broadcast()
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
