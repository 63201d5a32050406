// Package recvwindow implements the sliding receive window described in
// spec.md §4.3: a bitset over [last_in_order+1, last_in_order+max_window]
// that tracks which sequences have arrived, delivers the contiguous
// in-order prefix (ordered channels) or delivers on arrival while still
// tracking that prefix for NACK purposes (unordered channels), and
// degrades gracefully under window overflow.
package recvwindow

import "reliant/seqnum"

type slotState[T any] struct {
	occupied bool
	seq      seqnum.Sequence
	received bool
	payload  T
}

// Window is one channel's receive-side sliding window, generic over the
// payload type it buffers (a plain message for most traffic, or a
// fragment envelope on channels carrying split messages — see package
// channel). Not safe for concurrent use — exclusively owned by its
// channel, per spec.md §5.
type Window[T any] struct {
	size        uint16
	ordered     bool
	lastInOrder seqnum.Sequence
	lastRecv    seqnum.Sequence
	haveRecv    bool
	slots       []slotState[T]
}

// New builds a Window of the given size (spec default 512) for either
// an ordered or unordered channel. The window starts anchored so that
// sequence 0 is the first deliverable sequence.
func New[T any](size uint16, ordered bool) *Window[T] {
	return &Window[T]{
		size:        size,
		ordered:     ordered,
		lastInOrder: ^seqnum.Sequence(0), // 0xFFFF: "sequence -1"
		slots:       make([]slotState[T], size),
	}
}

func (w *Window[T]) index(s seqnum.Sequence) int { return int(s) % len(w.slots) }

// LastInOrder returns the last sequence such that it and everything
// before it (mod wraparound) has been received — on unordered channels
// this tracks the contiguous-arrival prefix for NACK bookkeeping only,
// not the delivery prefix.
func (w *Window[T]) LastInOrder() seqnum.Sequence { return w.lastInOrder }

// LastReceived returns the highest sequence number seen so far.
func (w *Window[T]) LastReceived() seqnum.Sequence { return w.lastRecv }

// HasPending reports whether there is any sequence beyond LastInOrder
// that has been received, i.e. whether a NACK scan would have work to do.
func (w *Window[T]) HasPending() bool {
	return w.haveRecv && seqnum.GT(w.lastRecv, w.lastInOrder)
}

// Received reports whether sequence s is known-received: either it is
// at or before LastInOrder (delivered or permanently skipped-over), or
// its slot is currently marked received.
func (w *Window[T]) Received(s seqnum.Sequence) bool {
	if seqnum.LTE(s, w.lastInOrder) {
		return true
	}
	sl := &w.slots[w.index(s)]
	return sl.occupied && sl.seq == s && sl.received
}

// Receive processes an inbound sequence s carrying payload. It returns
// the payloads now ready for delivery (zero, one, or — for ordered
// channels recovering several buffered sequences at once — many) and
// whether this arrival forced a window-overflow advance.
//
// Duplicates (s at or before LastInOrder) are dropped: Receive returns
// (nil, false).
func (w *Window[T]) Receive(s seqnum.Sequence, payload T) (delivered []T, overflowed bool) {
	if seqnum.LTE(s, w.lastInOrder) {
		return nil, false
	}

	dist := seqnum.Distance(s, w.lastInOrder)
	if dist > w.size {
		// Window overflow: the sequences after the old last_in_order up
		// to and including s-size are permanently lost, even if some of
		// them were already buffered-but-undelivered behind an earlier
		// gap. last_in_order jumps straight to s-size; the forward
		// delivery walk below only resumes from there on, so anything
		// buffered at or below the new anchor is discarded rather than
		// flushed out incrementally — their slots are simply left to be
		// overwritten whenever a later sequence reuses the same ring
		// index.
		w.lastInOrder = s - w.size
		overflowed = true
	}

	w.slots[w.index(s)] = slotState[T]{occupied: true, seq: s, received: true, payload: payload}
	if !w.haveRecv || seqnum.GT(s, w.lastRecv) {
		w.lastRecv = s
		w.haveRecv = true
	}

	if w.ordered {
		for {
			next := w.lastInOrder + 1
			sl := &w.slots[w.index(next)]
			if !sl.occupied || sl.seq != next || !sl.received {
				break
			}
			delivered = append(delivered, sl.payload)
			*sl = slotState[T]{}
			w.lastInOrder = next
		}
		return delivered, overflowed
	}

	// Unordered: deliver this payload immediately, then advance the
	// contiguous prefix (for NACK bookkeeping only) without gating on it.
	delivered = []T{payload}
	for {
		next := w.lastInOrder + 1
		sl := &w.slots[w.index(next)]
		if !sl.occupied || sl.seq != next || !sl.received {
			break
		}
		*sl = slotState[T]{}
		w.lastInOrder = next
	}
	return delivered, overflowed
}

// Teardown clears all buffered-but-undelivered slots. Called when the
// owning channel transitions to TornDown.
func (w *Window[T]) Teardown() {
	for i := range w.slots {
		w.slots[i] = slotState[T]{}
	}
}
