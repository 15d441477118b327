package live

import "sync"

// resultBuffer is the delivery channel capacity per subscription. When a
// subscriber falls this far behind, the oldest pending result is dropped
// in favor of the newest: a newer result supersedes an older one, so the
// subscriber still converges on current state without breaking monotonic
// ordering.
const resultBuffer = 16

// Result is one delivery for a subscription: either a fresh query value
// or an error state from a failed re-execution.
type Result struct {
	// Seq is the commit seq that triggered this result; 0 for the initial
	// execution at subscribe time.
	Seq int64

	// Value is the query result. For single-record queries a missing
	// record is surfaced as a nil Value, not an error.
	Value any

	// Err is set when query execution failed. The subscription stays
	// registered and retries on the next triggering commit.
	Err error
}

// Subscription is a registered live query. Deliveries arrive on Updates()
// until Cancel() is called.
type Subscription struct {
	id    uint64
	query Query

	mu        sync.Mutex
	cancelled bool
	updates   chan Result

	unregister func(id uint64)
}

// Updates returns the delivery channel. The channel is closed by Cancel.
func (s *Subscription) Updates() <-chan Result {
	return s.updates
}

// Query returns the subscribed query descriptor.
// Useful for introspection and logging.
func (s *Subscription) Query() Query {
	return s.query
}

// Cancel stops further deliveries and releases the dependency
// registration. It does not affect other subscribers or in-flight
// mutations. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	close(s.updates)
	s.mu.Unlock()

	s.unregister(s.id)
}

// deliver pushes a result to the subscriber without ever blocking the
// commit loop. Only the commit loop calls this, so after dropping one
// pending result the buffered send below cannot block.
func (s *Subscription) deliver(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}

	select {
	case s.updates <- r:
		return
	default:
	}

	// Buffer full - drop the oldest pending result, keep the newest.
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- r:
	default:
	}
}
