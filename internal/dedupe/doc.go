// Package dedupe provides a bounded, time-limited seen-set.
//
// The CLI tail loop keys it by event sequence so frames replayed after a
// reconnect are printed once.
package dedupe
