// Package store provides persistent storage for coven-context using SQLite.
//
// # Architecture
//
// SQLiteStore is the single storage gateway. It owns one writer connection,
// the schema and every transaction boundary. Higher layers (session,
// checkpoint, workitems, eventlog) never touch SQL directly.
//
// # Data Models
//
// Session state:
//
//   - Session: unit of ownership with an active/paused/completed status
//   - ContextItem: categorized key/value record, unique per (session, key)
//   - Checkpoint: immutable snapshot header
//   - CheckpointItem: frozen copy of a ContextItem at capture time
//
// Notifications:
//
//   - Event: append-only event_log row addressed by a monotonic sequence
//
// Collaborator records:
//
//   - Issue and IssueDependency: work items with typed edges (parent-child for subtasks)
//   - Plan: implementation plans per project
//   - Memory: project-scoped key/value facts
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA synchronous=NORMAL;
//	PRAGMA busy_timeout=5000;
//	PRAGMA foreign_keys=ON;
//
// Database file locations:
//
//   - Default: ~/.local/share/coven/context.db
//   - Testing: a file under t.TempDir() or :memory:
//
// Timestamps are stored as fixed-width UTC text so they sort lexically.
// Event timestamps are unix milliseconds.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: unique constraint violated
//   - ErrSessionActive: attempted to delete an active session
//   - ErrStatusConflict: status transition not valid from the current status
//
// All methods accept context.Context for cancellation support.
package store
