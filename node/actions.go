package node

import "sync"

// actionQueue is a FIFO of closures with many producers and one consumer.
type actionQueue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
}

// enqueue appends fn. It reports false once the queue is closed.
func (q *actionQueue) enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, fn)
	return true
}

// drain runs queued closures until the queue is empty, including closures
// enqueued while draining. run wraps each call.
func (q *actionQueue) drain(run func(fn func())) int {
	n := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			run(fn)
			n++
		}
	}
}

func (q *actionQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
}

func (q *actionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
