// Package session implements the session state machine and the context item store.
//
// Sessions move active -> paused -> completed; paused and completed sessions
// can be resumed. Only a session that is not active can be deleted, and the
// delete takes its context items and checkpoints with it.
//
// Every successful mutation emits one event after the store commits. Errors
// are reported as NotFoundError, PreconditionError, InvalidArgumentError or
// StorageError; Classify converts store sentinels into that taxonomy.
package session
