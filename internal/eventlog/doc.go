// Package eventlog is the notification bus shared by every coven-context client.
//
// # Overview
//
// Each committed mutation appends one row to the event_log table through
// Log.Emit (or Log.Notify, which logs and swallows failures). Readers walk the
// log with a Cursor:
//
//	batch, err := log.ReadSince(ctx, eventlog.Query{Cursor: cur})
//	cur = batch.Next
//
// Advancing to the last returned entry, rather than to wall-clock now, means
// an entry written in the same millisecond as a previous read is never skipped.
// Sequence-based cursors make that exact; timestamp-only cursors remain
// supported for clients that only track time.
//
// # Retention
//
// ReadSince and Emit prune rows older than the retention window at most once
// per sweep interval. Sweep forces a prune.
//
// Emit stamps and inserts under one lock, so timestamps never decrease in
// sequence order.
//
// # Broadcaster
//
// Emit also publishes the entry on an in-memory Broadcaster. Stream handlers
// treat a delivery as a hint to read the log now instead of waiting for the
// next poll tick. A dropped delivery costs latency, not correctness.
package eventlog
