// Package nack implements the NACK generator of spec.md §4.4: once per
// tick it scans a channel's receive window for gaps, packs them into
// 32-slot bitfield groups, and schedules redundant piggyback
// attachments onto subsequent outbound reliable packets.
//
// Open question (a) from spec.md §9 is resolved here: groups are tiled
// backward from last_received in fixed 32-wide spans, not from
// last_in_order forward. Walking back-to-front means the freshest gaps
// (closest to what the sender is currently transmitting) are packed
// into the first group, which matters when a NACK datagram is itself
// lost and retransmission pressure should favor recent loss first.
package nack

import (
	"reliant/recvwindow"
	"reliant/seqnum"
	"reliant/wire"
)

// Scan computes the set of non-empty (base, bitfield) groups covering
// (last_in_order, last_received] on w. Each group spans 32 sequences
// starting at its base, with bit i of the bitfield set when Base+i is
// still missing — the base slot is checked like every other slot, never
// assumed missing. It returns nil if the window has nothing pending
// (last_received == last_in_order).
func Scan[T any](w *recvwindow.Window[T]) []wire.NackPair {
	if !w.HasPending() {
		return nil
	}

	lastInOrder := w.LastInOrder()
	lastRecv := w.LastReceived()

	var pairs []wire.NackPair
	end := lastRecv
	for seqnum.GT(end, lastInOrder) {
		base := end - 31

		var bitfield uint32
		for i := uint16(0); i < 32; i++ {
			s := base + i
			if seqnum.GT(s, lastInOrder) && seqnum.LTE(s, lastRecv) && !w.Received(s) {
				bitfield |= 1 << i
			}
		}
		if bitfield != 0 {
			pairs = append(pairs, wire.NackPair{Base: base, Bitfield: bitfield})
		}

		end = base - 1
	}
	return pairs
}

// Queue tracks pending redundant piggyback attachments: each group
// produced by a Scan is queued for round-robin attachment onto the next
// redundancy outbound reliable packets on that channel, then dropped.
type Queue struct {
	redundancy int
	pending    []queuedPair
}

type queuedPair struct {
	pair      wire.NackPair
	remaining int
}

// NewQueue builds a redundancy queue with the configured nack_redundancy.
func NewQueue(redundancy int) *Queue { return &Queue{redundancy: redundancy} }

// Enqueue adds freshly scanned pairs for redundant piggybacking.
func (q *Queue) Enqueue(pairs []wire.NackPair) {
	for _, p := range pairs {
		if q.redundancy <= 0 {
			continue
		}
		q.pending = append(q.pending, queuedPair{pair: p, remaining: q.redundancy})
	}
}

// Next pops the next pair to piggyback, round-robin, requeuing it if it
// has redundant attachments remaining. Reports false when nothing is
// queued.
func (q *Queue) Next() (wire.NackPair, bool) {
	if len(q.pending) == 0 {
		return wire.NackPair{}, false
	}
	qp := q.pending[0]
	q.pending = q.pending[1:]
	qp.remaining--
	if qp.remaining > 0 {
		q.pending = append(q.pending, qp)
	}
	return qp.pair, true
}

// Len reports how many (pair, remaining-attachment) entries are queued.
func (q *Queue) Len() int { return len(q.pending) }
