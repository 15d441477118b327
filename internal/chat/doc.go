// Package chat provides the domain types for the Pulse messaging core.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import chat; chat imports nothing internal. This keeps
// the domain model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Record IDs are opaque strings (UUIDv7 in production, fixed in tests)
//   - Timestamps are persisted as Unix milliseconds, surfaced as time.Time
//   - All JSON tags use snake_case
//   - The pub/sub vocabulary (Table, Write, Dep) is the single source of
//     truth for what a mutation touched and what a query depends on
package chat
