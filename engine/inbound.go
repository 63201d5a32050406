package engine

import (
	"net"

	"reliant/conntable"
	"reliant/errs"
	"reliant/seqnum"
	"reliant/unreliable"
	"reliant/wire"
)

// Receive drains one previously-processed delivery if any are queued,
// otherwise reads and processes inbound datagrams from the socket until
// one of them yields a result. It reports false only once a socket read
// fails. It never blocks beyond whatever the underlying Transport does.
func (e *Engine) Receive() (Result, bool) {
	for {
		if r, ok := e.pop(); ok {
			return r, true
		}

		n, addr, err := e.socket.ReadFrom(e.recvBuf)
		if err != nil {
			return Result{}, false
		}
		e.processDatagram(addr, append([]byte(nil), e.recvBuf[:n]...))
	}
}

// ReceiveBatch drains up to max queued deliveries, reading additional
// datagrams from the socket as needed. It mirrors spec.md §5's
// receive_into: a pool worker can allocate one slice per batch instead
// of per message.
func (e *Engine) ReceiveBatch(max int) []Result {
	out := make([]Result, 0, max)
	for len(out) < max {
		r, ok := e.Receive()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

func (e *Engine) pop() (Result, bool) {
	if len(e.pending) == 0 {
		return Result{}, false
	}
	r := e.pending[0]
	e.pending = e.pending[1:]
	return r, true
}

func (e *Engine) push(r Result) { e.pending = append(e.pending, r) }

func (e *Engine) processDatagram(addr net.Addr, b []byte) {
	if len(b) < 1 {
		e.metrics.ParseErrors.Inc()
		e.push(Result{Addr: addr, Code: errs.ParseError})
		return
	}

	switch wire.PacketType(b[0]) {
	case wire.TypeUnreliable:
		payload, err := unreliable.Decode(b)
		if err != nil {
			e.metrics.ParseErrors.Inc()
			e.push(Result{Addr: addr, Code: errs.ParseError})
			return
		}
		e.activateChannels(e.conns.GetOrCreate(addr))
		e.metrics.UnreliableReceived.Inc()
		e.push(Result{Addr: addr, Payload: payload, Code: errs.OK})

	case wire.TypeReliable:
		h, err := wire.DecodeReliableHeader(b)
		if err != nil {
			e.metrics.ParseErrors.Inc()
			return
		}
		e.deliverReliable(addr, h.Channel, h.Sequence, b[wire.ReliableHeaderSize:])

	case wire.TypeReliableNack:
		h, err := wire.DecodeReliableNackHeader(b)
		if err != nil {
			e.metrics.ParseErrors.Inc()
			return
		}
		e.applyNack(addr, h.ReliableHeader.Channel, []wire.NackPair{{Base: h.NackBase, Bitfield: h.NackBitfield}})
		e.deliverReliable(addr, h.ReliableHeader.Channel, h.Sequence, b[wire.ReliableNackHeaderSize:])

	case wire.TypeFragment:
		h, err := wire.DecodeFragmentHeader(b)
		if err != nil {
			e.metrics.ParseErrors.Inc()
			return
		}
		e.deliverFragment(addr, h, b[wire.FragmentHeaderSize:])

	case wire.TypeStandaloneNack:
		chID, pairs, err := wire.DecodeStandaloneNack(b[1:])
		if err != nil {
			e.metrics.ParseErrors.Inc()
			return
		}
		e.applyNack(addr, chID, pairs)

	case wire.TypeLinkIdentity:
		id, session, err := wire.DecodeLinkIdentity(b[1:])
		if err != nil {
			e.metrics.ParseErrors.Inc()
			return
		}
		e.handleLinkIdentity(addr, id, session)

	case wire.TypeUnlink:
		if conn, ok := e.conns.Lookup(addr); ok {
			e.conns.Remove(conn)
		}

	default:
		e.metrics.ParseErrors.Inc()
		e.push(Result{Addr: addr, Code: errs.ParseError})
	}
}

func (e *Engine) deliverReliable(addr net.Addr, channelID uint8, seq seqnum.Sequence, payload []byte) {
	conn := e.conns.GetOrCreate(addr)
	e.activateChannels(conn)
	if e.useIdentities && conn.State != conntable.Identified {
		e.push(Result{Addr: addr, Code: errs.NotIdentified})
		return
	}
	ch, err := e.getChannel(conn, channelID)
	if err != nil {
		e.push(Result{Addr: addr, Code: errs.ChannelNotConfigured})
		return
	}

	e.metrics.ReliableReceived.Inc()
	ch.OnReceiveReliable(seq, payload)
	for _, payload := range ch.DrainDelivered() {
		e.push(Result{Addr: addr, Payload: payload, Code: errs.OK})
	}
}

func (e *Engine) deliverFragment(addr net.Addr, h wire.FragmentHeader, data []byte) {
	conn := e.conns.GetOrCreate(addr)
	e.activateChannels(conn)
	ch, err := e.getChannel(conn, h.Channel)
	if err != nil {
		e.push(Result{Addr: addr, Code: errs.ChannelNotConfigured})
		return
	}

	e.metrics.ReliableReceived.Inc()
	ch.OnReceiveFragment(h, data)
	for _, payload := range ch.DrainDelivered() {
		e.metrics.FragmentsCompleted.Inc()
		e.push(Result{Addr: addr, Payload: payload, Code: errs.OK})
	}
}

// applyNack processes an inbound NACK pair set against the named
// channel's send buffer, retransmitting whatever is still live and
// releasing whatever the bitfield clears. The lowest base among the
// pairs stands in for the peer's advancing last_in_order: sequences
// strictly before it are released outright, playing the role spec.md
// §4.4 assigns to a dedicated ack-echo field that the fixed 4-byte
// reliable header has no room for.
func (e *Engine) applyNack(addr net.Addr, channelID uint8, pairs []wire.NackPair) {
	conn, ok := e.conns.Lookup(addr)
	if !ok {
		return
	}
	ch, ok := conn.Channels[channelID]
	if !ok {
		return
	}

	e.metrics.NacksReceived.Add(float64(len(pairs)))

	minBase := pairs[0].Base
	for _, pair := range pairs {
		for _, entry := range ch.ApplyNackPair(pair) {
			e.metrics.Retransmits.Inc()
			if _, err := e.socket.WriteTo(entry.Payload, addr); err != nil {
				e.log.WithError(err).WithField("addr", addr).Warn("retransmit failed")
			}
		}
		if seqnum.LT(pair.Base, minBase) {
			minBase = pair.Base
		}
	}
	ch.ApplyEchoAck(minBase - 1)
}
