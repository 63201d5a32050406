package nack

import (
	"reliant/sendbuf"
	"reliant/seqnum"
	"reliant/wire"
)

// Apply processes one inbound NACK pair against a channel's send
// buffer: every bit-set offset (including bit 0, the base sequence
// itself) is treated as still missing and queued for retransmission
// (resend count incremented); every bit-clear offset is implicitly
// acked and released. Entries absent from the buffer (already
// released, or expired) are silently skipped — spec.md §4.4.
func Apply(pair wire.NackPair, buf *sendbuf.Buffer) []sendbuf.Entry {
	var retransmit []sendbuf.Entry

	for i := uint16(0); i < 32; i++ {
		s := pair.Base + i
		missing := pair.Bitfield&(1<<i) != 0
		if missing {
			if e, ok := buf.Get(s); ok {
				retransmit = append(retransmit, *e)
				if buf.IncrementResend(s) {
					buf.Release(s)
				}
			}
			continue
		}
		buf.Release(s)
	}
	return retransmit
}

// EchoAck reports whether sequence s is implicitly acknowledged by an
// echoed last-in-order value: every sequence at or before the echoed
// value is delivered and its send-buffer entry can be released,
// independent of any NACK pair's bits. The reliable header carries no
// echo field; the engine derives the echoed value from the lowest base
// of an inbound NACK set (see engine.applyNack).
func EchoAck(s, echoedLastInOrder seqnum.Sequence) bool {
	return seqnum.LTE(s, echoedLastInOrder)
}
