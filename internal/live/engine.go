package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Ayu0607/pulse-chat/internal/chat"
	"github.com/Ayu0607/pulse-chat/internal/store"
)

// Query describes a live read: a name for logging, the static dependency
// set that decides when it re-runs, and the execution function.
//
// Descriptors are constructed by the functions in queries.go so the
// dependency vocabulary stays in one place.
type Query struct {
	Name string
	Deps []chat.Dep
	Run  func(ctx context.Context) (any, error)
}

// Engine mediates every read and propagates every committed write.
//
// Mutations go through Apply (or the typed wrappers in mutations.go):
// the mutation runs against the store, and on success its write set is
// stamped with a commit seq and enqueued. The single-writer Run loop
// re-executes every subscription whose dependencies the writes touch and
// delivers fresh results in commit order.
//
// Thread-safety model:
//   - Subscribe/Apply/Cancel: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	store *store.Store
	clock *Clock
	queue *commitQueue

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
}

// New creates an Engine over the given store.
// Call Run in its own goroutine to start delivering updates.
func New(s *store.Store) *Engine {
	clock := NewClock()
	return &Engine{
		store: s,
		clock: clock,
		queue: newCommitQueue(clock),
		subs:  make(map[uint64]*Subscription),
	}
}

// Store returns the underlying store.
// Query constructors use it; mutations should go through Apply.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Clock returns the engine's commit clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Subscribe registers the query for re-execution and then runs it once for
// the initial result (Err set if that first execution failed - the
// subscription stays registered either way and will retry on triggering
// commits). Cancel the subscription to stop deliveries.
//
// Registration happens before the initial execution, and the initial seq is
// captured inside the registration critical section. A commit that lands
// while the initial query runs therefore re-delivers through Updates(): the
// subscriber may receive one redundant result, but never misses one.
func (e *Engine) Subscribe(ctx context.Context, q Query) (Result, *Subscription) {
	sub := &Subscription{
		query:      q,
		updates:    make(chan Result, resultBuffer),
		unregister: e.remove,
	}

	e.mu.Lock()
	e.nextSub++
	sub.id = e.nextSub
	e.subs[sub.id] = sub
	seq := e.clock.Current()
	e.mu.Unlock()

	value, err := q.Run(ctx)
	if err != nil {
		slog.Warn("initial query execution failed", "query", q.Name, "error", err)
	}

	slog.Debug("subscribed", "query", q.Name, "id", sub.id, "deps", len(q.Deps))
	return Result{Seq: seq, Value: value, Err: err}, sub
}

// remove deregisters a subscription. Called from Subscription.Cancel.
func (e *Engine) remove(id uint64) {
	e.mu.Lock()
	delete(e.subs, id)
	e.mu.Unlock()
}

// SubscriberCount returns the number of registered subscriptions.
// Used for testing and diagnostics.
func (e *Engine) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Apply runs a mutation against the store and, on success, commits its
// write set for propagation. Mutations that publish no writes (pure
// no-ops like an idempotent re-mark-read) commit nothing and trigger no
// re-execution.
//
// The mutation's error is returned as-is; a failed mutation publishes
// nothing.
func (e *Engine) Apply(ctx context.Context, op string, mutate func(ctx context.Context) ([]chat.Write, error)) error {
	writes, err := mutate(ctx)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	seq, ok := e.queue.Enqueue(op, writes)
	if !ok {
		// Engine stopped: the mutation is durable, only propagation is lost.
		slog.Warn("commit after engine stop, update propagation skipped", "op", op)
		return nil
	}

	slog.Debug("commit enqueued", "op", op, "seq", seq, "writes", len(writes))
	return nil
}

// Run starts the single-writer commit loop.
// Blocks until the context is cancelled or Stop() is called.
//
// Must be called from exactly ONE goroutine: all re-execution and
// delivery happens here, which is what makes per-subscription delivery
// order match commit order.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("live engine starting")

	for {
		// Try non-blocking dequeue first
		c, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, c)
			continue
		}

		// No commit ready - wait for signal or context cancellation
		select {
		case <-ctx.Done():
			slog.Info("live engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// Signal received - loop back to TryDequeue.
			// The signal channel closes when the queue is closed,
			// which makes this case fire immediately. A residual
			// token from an already-drained enqueue also lands
			// here; only a real close ends the loop, a stale token
			// with an empty queue just re-parks.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("live engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine.
// Closes the commit queue, which causes Run() to return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// QueueLen returns the number of pending commits.
// Useful for monitoring and testing.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// process re-executes every subscription the commit's writes touch.
// Called only from the Run goroutine.
func (e *Engine) process(ctx context.Context, c commit) {
	e.mu.Lock()
	affected := make([]*Subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		if chat.Touches(sub.query.Deps, c.writes) {
			affected = append(affected, sub)
		}
	}
	e.mu.Unlock()

	for _, sub := range affected {
		value, err := sub.query.Run(ctx)
		if err != nil {
			// Deliver the error state and keep the subscription: it will
			// re-attempt on the next triggering commit.
			slog.Warn("query re-execution failed",
				"query", sub.query.Name,
				"op", c.op,
				"seq", c.seq,
				"error", err,
			)
			sub.deliver(Result{Seq: c.seq, Err: fmt.Errorf("execute %s: %w", sub.query.Name, err)})
			continue
		}
		sub.deliver(Result{Seq: c.seq, Value: value})
	}

	if len(affected) > 0 {
		slog.Debug("commit propagated", "op", c.op, "seq", c.seq, "subscriptions", len(affected))
	}
}
