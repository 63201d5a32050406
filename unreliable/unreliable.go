// Package unreliable implements the unreliable path of spec.md §4.9: a
// thin, stateless framing layer with no sequencing, buffering or
// retransmission. It exists mainly so callers have a single shareable
// sender handle that can be used from multiple goroutines without
// touching any per-connection reliability state.
package unreliable

import (
	"net"

	"reliant/wire"
)

// Sender wraps a raw datagram transport (anything that can write a
// whole datagram to a destination) and frames payloads for the
// unreliable path. It holds no per-peer state and is safe to share
// across goroutines as long as the underlying Transport is — it never
// touches a channel, connection table or send buffer.
type Sender struct {
	transport Transport
}

// Transport is the minimal capability unreliable.Sender needs: write
// one already-framed datagram to addr. net.PacketConn satisfies this
// directly; tests use an in-memory fake.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// New builds a Sender over transport.
func New(transport Transport) *Sender { return &Sender{transport: transport} }

// Send frames payload as an unreliable datagram and writes it to addr
// with no retry, no sequencing and no delivery guarantee whatsoever.
func (s *Sender) Send(addr net.Addr, payload []byte) error {
	_, err := s.transport.WriteTo(wire.EncodeUnreliable(payload), addr)
	return err
}

// Decode strips the unreliable framing from an inbound datagram already
// identified as type Unreliable by the caller.
func Decode(b []byte) ([]byte, error) {
	return wire.DecodeUnreliable(b)
}
