// Package store provides SQLite-backed durable storage for the Pulse
// messaging core.
//
// Four collections are persisted:
//   - Users: directory records keyed by internal ID, unique on external ID
//   - Conversations: dyadic, unique on the canonical participant pair key
//   - Messages: append-only per conversation, plus the read-by set
//   - Typing Indicators: one row per (conversation, user), refresh-or-delete
//
// # Consistency rules
//
//   - Get-or-create of a conversation is an insert-or-select on the UNIQUE
//     pair key inside one transaction; concurrent creators for the same
//     pair collapse onto a single row.
//   - Sending a message is one transaction: parent check, message insert,
//     sender read-by seed, conversation summary patch. The summary can
//     never reference a message that was not appended.
//   - Read-by growth and typing refresh use ON CONFLICT upserts; both are
//     idempotent and report whether anything actually changed.
//   - Cascading deletion removes dependents (reads, messages, indicators)
//     before the conversation row.
//
// Every mutation returns the set of (table, key) writes it published so the
// live query engine can re-run exactly the affected subscriptions.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
