package live

import (
	"sync"

	"github.com/Ayu0607/pulse-chat/internal/chat"
)

// commit is a committed mutation's write set, stamped with its seq.
type commit struct {
	seq    int64
	op     string // mutation name, for logging
	writes []chat.Write
}

// commitQueue is a thread-safe FIFO queue of commits.
//
// The queue is unbounded so bursts of mutations never block writers on the
// re-execution loop.
//
// Thread-safety is provided for external enqueuing (e.g., HTTP handlers)
// while the Engine's Run loop dequeues.
//
// The queue stamps each commit's seq itself, inside the enqueue critical
// section, so queue position and seq order always agree even under
// concurrent producers.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type commitQueue struct {
	clock *Clock

	mu      sync.Mutex
	commits []commit
	closed  bool
	signal  chan struct{} // Signals commit availability (buffered, size 1)
}

// newCommitQueue creates an empty commit queue stamping seqs from clock.
func newCommitQueue(clock *Clock) *commitQueue {
	return &commitQueue{
		clock:   clock,
		commits: make([]commit, 0, 64), // Pre-allocate for typical workloads
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue stamps a fresh seq and adds the commit to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns the assigned seq, or false if the queue is closed (no seq is
// consumed in that case).
func (q *commitQueue) Enqueue(op string, writes []chat.Write) (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, false
	}

	seq := q.clock.Next()
	q.commits = append(q.commits, commit{seq: seq, op: op, writes: writes})

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return seq, true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (commit{}, false) if the queue is empty.
func (q *commitQueue) TryDequeue() (commit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commits) == 0 {
		return commit{}, false
	}

	c := q.commits[0]

	// Nil out the slot so the write-set slice can be collected; the
	// underlying array would otherwise retain it until reallocated.
	q.commits[0] = commit{}

	if len(q.commits) == 1 {
		// Last element - reset to empty slice with original capacity
		q.commits = q.commits[:0]
	} else {
		q.commits = q.commits[1:]
	}

	return c, true
}

// Wait returns a channel that signals when commits may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *commitQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commits)
}

// Closed reports whether Close has been called.
//
// The consumer needs this to tell a real shutdown apart from a residual
// signal token: the buffered signal can outlive the commits it announced,
// so an empty queue alone does not mean the queue is done.
func (q *commitQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more commits will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *commitQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
