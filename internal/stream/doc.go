// Package stream fans the event log out to dashboard subscribers over
// Server-Sent Events.
//
// Every connection runs one loop that owns its ResponseWriter. The loop
// polls the log on a ticker, polls early when the broadcaster signals a new
// entry, and writes a keep-alive comment when a keep-alive interval passes
// with nothing else written. The log stays the source of truth; a dropped
// broadcast only delays delivery until the next poll.
//
// Frames look like:
//
//	id: 42
//	data: {"event":"context","key":"auth","sequence":42,"sessionId":"sess_1","timestamp":1760000000000,"type":"created"}
package stream
