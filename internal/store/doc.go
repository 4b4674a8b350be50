// Package store provides persistent storage for entry passes using SQLite.
//
// # Data Models
//
//   - Participant: one imported sheet row from the paid set, keyed by row_hash.
//     Headers and Data carry the source columns verbatim and are opaque here.
//   - CheckIn: the admission ledger, at most one row per row_hash. Check-in is
//     an upsert with conflict target row_hash, so a repeat check-in overwrites
//     the timestamp instead of creating duplicates or failing.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests with real SQLite.
//
// # Error Handling
//
// ErrNotFound is returned when a participant or check-in row does not exist.
// A missing check-in row is the normal state before event day; callers treat
// it as "not yet checked in", not as a failure.
//
// All methods accept context.Context for cancellation support.
package store
