package wire

import (
	"encoding/binary"

	"reliant/seqnum"
)

// NackPair is one (base_sequence, bitfield) group covering 32 slots:
// bit i (0-31) of Bitfield corresponds to sequence Base+i, set when that
// sequence is missing and clear when it has been received. Base's own
// status is carried in bit 0 like every other slot in the group — it is
// never assumed missing by construction.
type NackPair struct {
	Base     seqnum.Sequence
	Bitfield uint32
}

// zigzagEncode maps a signed delta to an unsigned value so small
// negative and small positive deltas both varint-encode compactly.
func zigzagEncode(v int32) uint32 { return uint32((v << 1) ^ (v >> 31)) }

func zigzagDecode(v uint32) int32 { return int32(v>>1) ^ -int32(v&1) }

// EncodeStandaloneNack builds a type-0x05 datagram from pairs, in
// order, all belonging to channel. NACKs are inherently per-channel (a
// sequence number only has meaning within one channel's stream), so the
// channel id is carried as the byte immediately after the type tag. The
// first pair's base is written as an absolute little-endian uint16;
// every subsequent base is a zigzag-varint delta from the previous
// pair's base. Bitfields are always plain little-endian uint32.
func EncodeStandaloneNack(channel uint8, pairs []NackPair) []byte {
	dst := make([]byte, 0, 2+len(pairs)*7)
	dst = append(dst, byte(TypeStandaloneNack), channel)

	var prevBase seqnum.Sequence
	var varintBuf [binary.MaxVarintLen64]byte
	for i, p := range pairs {
		if i == 0 {
			dst = binary.LittleEndian.AppendUint16(dst, p.Base)
		} else {
			delta := int32(int16(p.Base - prevBase))
			n := binary.PutUvarint(varintBuf[:], uint64(zigzagEncode(delta)))
			dst = append(dst, varintBuf[:n]...)
		}
		dst = binary.LittleEndian.AppendUint32(dst, p.Bitfield)
		prevBase = p.Base
	}
	return dst
}

// DecodeStandaloneNack parses a type-0x05 datagram's channel id and
// pairs (the type byte must already be stripped by the caller).
func DecodeStandaloneNack(b []byte) (channel uint8, pairs []NackPair, err error) {
	if len(b) < 1 {
		return 0, nil, ErrTruncated
	}
	channel = b[0]
	b = b[1:]

	offset := 0
	first := true
	var prevBase seqnum.Sequence

	for offset < len(b) {
		var base seqnum.Sequence
		if first {
			if offset+2 > len(b) {
				return 0, nil, ErrTruncated
			}
			base = binary.LittleEndian.Uint16(b[offset : offset+2])
			offset += 2
			first = false
		} else {
			dv, n := binary.Uvarint(b[offset:])
			if n <= 0 {
				return 0, nil, ErrTruncated
			}
			offset += n
			delta := zigzagDecode(uint32(dv))
			base = prevBase + seqnum.Sequence(int16(delta))
		}

		if offset+4 > len(b) {
			return 0, nil, ErrTruncated
		}
		bitfield := binary.LittleEndian.Uint32(b[offset : offset+4])
		offset += 4

		pairs = append(pairs, NackPair{Base: base, Bitfield: bitfield})
		prevBase = base
	}
	return channel, pairs, nil
}
