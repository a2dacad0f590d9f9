package viewer

import "context"

// Queue carries closures from loader goroutines to the main thread, which
// runs them at the top of the next frame.
type Queue struct {
	ch chan func()
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan func(), max(size, 1))}
}

// Post enqueues fn. It blocks while the queue is full and gives up, reporting
// false, once ctx is done.
func (q *Queue) Post(ctx context.Context, fn func()) bool {
	select {
	case q.ch <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

// Drain runs every closure queued so far and returns how many ran. Closures
// posted while draining wait for the next call.
func (q *Queue) Drain() int {
	n := len(q.ch)
	for i := 0; i < n; i++ {
		(<-q.ch)()
	}
	return n
}

// Len is the number of closures waiting.
func (q *Queue) Len() int { return len(q.ch) }
