// Package buffer implements the fixed-capacity byte ring used as each
// Session's send and receive queue.
//
// Ring is single-producer/single-consumer and holds no lock of its own —
// callers already serialize access to a Session's rings under the
// Session's own lock. All operations are O(1); short counts, not errors,
// signal exhaustion.
package buffer
