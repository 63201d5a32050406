// Package seqnum provides wraparound-safe comparisons over the 16-bit
// sequence numbers used by every channel in this engine.
package seqnum

import "github.com/lithdew/seq"

// Sequence is a channel-local, per-peer counter that wraps at 2^16.
// Ordering between two sequence numbers is only meaningful when they are
// known to be within half the number space of each other; see
// https://en.wikipedia.org/wiki/Serial_number_arithmetic.
type Sequence = uint16

// GT reports whether a is strictly after b in wraparound order.
func GT(a, b Sequence) bool { return seq.GT(a, b) }

// LT reports whether a is strictly before b in wraparound order.
func LT(a, b Sequence) bool { return seq.LT(a, b) }

// GTE reports whether a is at or after b in wraparound order.
func GTE(a, b Sequence) bool { return a == b || GT(a, b) }

// LTE reports whether a is at or before b in wraparound order.
func LTE(a, b Sequence) bool { return a == b || LT(a, b) }

// Delta returns the signed distance from b to a: positive if a is ahead
// of b, negative if behind. GT and LT do not use it; they delegate to
// github.com/lithdew/seq.
func Delta(a, b Sequence) int16 { return int16(a - b) }

// Distance returns the unsigned number of slots strictly between
// last (exclusive) and s (inclusive), i.e. how far ahead s is of last.
// Distance assumes GT(s, last); callers on the cold/adversarial path
// should check that first.
func Distance(s, last Sequence) uint16 { return s - last }
