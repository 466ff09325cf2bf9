// Package workitems manages the records that sit next to sessions: issues
// with typed dependency edges, implementation plans and project memory.
// None of them take part in checkpoints, but every mutation is announced on
// the event log like session and context changes are.
package workitems
