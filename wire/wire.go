// Package wire implements the binary packet codec described in the
// engine's wire protocol: fixed-layout little-endian headers for
// unreliable, reliable, NACK-embedded and fragment datagrams, plus the
// varint-encoded standalone NACK datagram.
//
// Every Decode function is defensive: a truncated or malformed buffer
// returns ErrTruncated/ErrMalformed rather than panicking. The caller
// (engine) treats any such error as "drop the packet", per spec: parse
// failures are normal packet loss, never escalated.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"reliant/seqnum"
)

// PacketType is the single leading byte that tags every datagram.
type PacketType byte

const (
	TypeUnreliable     PacketType = 0x01
	TypeReliable       PacketType = 0x02
	TypeReliableNack   PacketType = 0x03 // reliable header + piggybacked NACK pair
	TypeFragment       PacketType = 0x04
	TypeStandaloneNack PacketType = 0x05
	TypeLinkIdentity   PacketType = 0x06
	TypeUnlink         PacketType = 0x07
)

func (t PacketType) String() string {
	switch t {
	case TypeUnreliable:
		return "unreliable"
	case TypeReliable:
		return "reliable"
	case TypeReliableNack:
		return "reliable-nack"
	case TypeFragment:
		return "fragment"
	case TypeStandaloneNack:
		return "standalone-nack"
	case TypeLinkIdentity:
		return "link-identity"
	case TypeUnlink:
		return "unlink"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

var (
	// ErrTruncated is returned when a buffer is shorter than the field
	// layout it is being decoded as.
	ErrTruncated = errors.New("wire: truncated packet")
	// ErrMalformed is returned when a buffer decodes structurally but
	// the contents violate a wire-level invariant (e.g. an unknown type
	// tag where one specific tag was expected).
	ErrMalformed = errors.New("wire: malformed packet")
)

const (
	// ReliableHeaderSize is the base reliable header: type(1) channel(1) sequence(2).
	ReliableHeaderSize = 4
	// ReliableNackHeaderSize adds nack_base_sequence(2) + nack_bitfield(4).
	ReliableNackHeaderSize = ReliableHeaderSize + 6
	// FragmentHeaderSize adds group_id(2) frag_count(2) frag_index(2) to the base header.
	FragmentHeaderSize = ReliableHeaderSize + 6
	// LinkIdentityPayloadSize is id(4) + session(4), after the type byte.
	LinkIdentityPayloadSize = 8
)

// ReliableHeader is the common prefix of every reliable-family datagram.
type ReliableHeader struct {
	Type     PacketType
	Channel  uint8
	Sequence seqnum.Sequence
}

// Encode appends the 4-byte header to dst and returns the result.
func (h ReliableHeader) Encode(dst []byte) []byte {
	dst = append(dst, byte(h.Type), h.Channel)
	return binary.LittleEndian.AppendUint16(dst, h.Sequence)
}

// DecodeReliableHeader reads the 4-byte base reliable header.
func DecodeReliableHeader(b []byte) (ReliableHeader, error) {
	if len(b) < ReliableHeaderSize {
		return ReliableHeader{}, ErrTruncated
	}
	return ReliableHeader{
		Type:     PacketType(b[0]),
		Channel:  b[1],
		Sequence: binary.LittleEndian.Uint16(b[2:4]),
	}, nil
}

// ReliableNackHeader is a reliable header with one piggybacked NACK pair.
type ReliableNackHeader struct {
	ReliableHeader
	NackBase     seqnum.Sequence
	NackBitfield uint32
}

// Encode appends the 10-byte header to dst.
func (h ReliableNackHeader) Encode(dst []byte) []byte {
	dst = h.ReliableHeader.Encode(dst)
	dst = binary.LittleEndian.AppendUint16(dst, h.NackBase)
	return binary.LittleEndian.AppendUint32(dst, h.NackBitfield)
}

// DecodeReliableNackHeader reads the 10-byte reliable+NACK header.
func DecodeReliableNackHeader(b []byte) (ReliableNackHeader, error) {
	if len(b) < ReliableNackHeaderSize {
		return ReliableNackHeader{}, ErrTruncated
	}
	base, err := DecodeReliableHeader(b)
	if err != nil {
		return ReliableNackHeader{}, err
	}
	return ReliableNackHeader{
		ReliableHeader: base,
		NackBase:       binary.LittleEndian.Uint16(b[4:6]),
		NackBitfield:   binary.LittleEndian.Uint32(b[6:10]),
	}, nil
}

// FragmentHeader is a reliable header describing one fragment of a
// larger logical message.
type FragmentHeader struct {
	ReliableHeader
	GroupID   uint16
	FragCount uint16
	FragIndex uint16
}

// Encode appends the 10-byte header to dst.
func (h FragmentHeader) Encode(dst []byte) []byte {
	dst = h.ReliableHeader.Encode(dst)
	dst = binary.LittleEndian.AppendUint16(dst, h.GroupID)
	dst = binary.LittleEndian.AppendUint16(dst, h.FragCount)
	return binary.LittleEndian.AppendUint16(dst, h.FragIndex)
}

// DecodeFragmentHeader reads the 10-byte fragment header.
func DecodeFragmentHeader(b []byte) (FragmentHeader, error) {
	if len(b) < FragmentHeaderSize {
		return FragmentHeader{}, ErrTruncated
	}
	base, err := DecodeReliableHeader(b)
	if err != nil {
		return FragmentHeader{}, err
	}
	return FragmentHeader{
		ReliableHeader: base,
		GroupID:        binary.LittleEndian.Uint16(b[4:6]),
		FragCount:      binary.LittleEndian.Uint16(b[6:8]),
		FragIndex:      binary.LittleEndian.Uint16(b[8:10]),
	}, nil
}

// EncodeUnreliable prepends the 1-byte unreliable tag to payload.
func EncodeUnreliable(payload []byte) []byte {
	dst := make([]byte, 0, 1+len(payload))
	dst = append(dst, byte(TypeUnreliable))
	return append(dst, payload...)
}

// DecodeUnreliable validates and strips the unreliable tag.
func DecodeUnreliable(b []byte) ([]byte, error) {
	if len(b) < 1 {
		return nil, ErrTruncated
	}
	if PacketType(b[0]) != TypeUnreliable {
		return nil, ErrMalformed
	}
	return b[1:], nil
}

// EncodeLinkIdentity builds the link-identity control datagram.
func EncodeLinkIdentity(id, session uint32) []byte {
	dst := make([]byte, 0, 1+LinkIdentityPayloadSize)
	dst = append(dst, byte(TypeLinkIdentity))
	dst = binary.LittleEndian.AppendUint32(dst, id)
	return binary.LittleEndian.AppendUint32(dst, session)
}

// DecodeLinkIdentity parses a link-identity control datagram's payload
// (the type byte must already be stripped by the caller).
func DecodeLinkIdentity(b []byte) (id, session uint32, err error) {
	if len(b) < LinkIdentityPayloadSize {
		return 0, 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8]), nil
}

// EncodeUnlink builds the bare unlink control datagram.
func EncodeUnlink() []byte { return []byte{byte(TypeUnlink)} }
