package dap

import "sync"

// jobQueue is an unbounded FIFO of jobs for the backend worker. push must
// never block: it is called from the client's read goroutine, which also
// delivers the responses the worker waits for.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{signal: make(chan struct{}, 1)}
}

// push appends job and reports false once the queue is closed.
func (q *jobQueue) push(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// ready fires when jobs may be available.
func (q *jobQueue) ready() <-chan struct{} {
	return q.signal
}

// drain removes and returns every queued job.
func (q *jobQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
