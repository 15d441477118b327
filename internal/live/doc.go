// Package live implements the live query engine for the Pulse messaging
// core.
//
// Every read is really a subscription: the caller gets the current result
// and every subsequent result after any committed mutation that could
// change it. The engine makes the reactive behavior an explicit,
// auditable pub/sub dependency graph:
//
//  1. Each query descriptor declares a static set of (table, key)
//     dependencies (chat.Dep).
//  2. Each committed mutation publishes the set of (table, key) writes it
//     touched (chat.Write).
//  3. The engine intersects the two sets to decide which subscriptions to
//     re-run.
//
// Matching is conservative: an unkeyed dependency or write matches the
// whole table, so the engine may re-run more often than strictly
// necessary, but it never misses an update that changes a result.
//
// ARCHITECTURE:
//
// Single-Writer Commit Loop:
// Commits are processed in a single goroutine, in commit order. This
// ensures result deliveries for any one subscription are monotonically
// consistent with the commit order of the writes that produced them - a
// subscriber never observes an older result after a newer one.
//
// Commit Processing Flow:
//  1. Apply() runs the mutation against the store
//  2. On success the write set is stamped with a commit seq and enqueued
//  3. Run() dequeues commits one at a time
//  4. Affected subscriptions are re-executed against current state
//  5. Fresh results (or error states) are delivered per subscription
//
// Re-execution reads whatever is committed at re-run time, which is never
// older than the commit that triggered it. Query failures are delivered
// as error-state results and the subscription stays registered, retrying
// on subsequent commits.
package live
