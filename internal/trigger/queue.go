package trigger

import "sync"

// Dispatcher runs callbacks on a context chosen by the consumer.
type Dispatcher interface {
	Dispatch(fn func())
}

// SerialQueue is a Dispatcher that runs callbacks one at a time, in
// submission order, on a dedicated goroutine.
type SerialQueue struct {
	mu     sync.Mutex
	ch     chan func()
	closed bool
	done   chan struct{}
}

// NewSerialQueue starts a queue with the given buffer size.
func NewSerialQueue(buffer int) *SerialQueue {
	if buffer < 0 {
		buffer = 0
	}
	q := &SerialQueue{
		ch:   make(chan func(), buffer),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *SerialQueue) run() {
	defer close(q.done)
	for fn := range q.ch {
		fn()
	}
}

// Dispatch enqueues fn. It blocks while the buffer is full and drops fn
// after Close.
func (q *SerialQueue) Dispatch(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.ch <- fn
}

// Close runs the remaining callbacks and stops the queue.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}
