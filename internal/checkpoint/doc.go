// Package checkpoint captures, restores, splits and exports frozen snapshots
// of a session's context items.
//
// A capture copies every item that passes a Filter into checkpoint rows in
// one transaction. Restore goes the other way one key at a time and is safe
// to repeat. Split carves new checkpoints out of an existing one without
// looking at the live session. Bundles move checkpoints between databases as
// zstd-compressed JSON lines with keyed BLAKE3 digests. PrepareCompaction
// captures a whole session and digests the items worth re-reading first.
package checkpoint
