// Package channel implements the per-(peer, channel id) state machine
// of spec.md §4.6: the owner of one send buffer, one receive window and
// one fragment assembler, enforcing ordered vs. unordered delivery
// semantics over that pair.
package channel

import (
	"time"

	"reliant/errs"
	"reliant/fragment"
	"reliant/nack"
	"reliant/recvwindow"
	"reliant/sendbuf"
	"reliant/seqnum"
	"reliant/wire"
)

// Mode is the static ordered/unordered property of a channel.
type Mode int

const (
	OrderedReliable Mode = iota
	UnorderedReliable
)

func (m Mode) String() string {
	if m == OrderedReliable {
		return "ordered"
	}
	return "unordered"
}

// State is the channel's lifecycle stage.
type State int

const (
	Idle State = iota
	Active
	TornDown
)

// Config bundles the per-channel tunables a Channel needs at
// construction; all fields mirror spec.md §6's configuration options.
type Config struct {
	ReceiveWindowSize uint16
	SendBufferSize    int
	SendBufferExpire  time.Duration
	FragmentExpire    time.Duration
	MaxResendCount    int
	NackRedundancy    int
	MTUPayloadBytes   int
	Now               func() time.Time
}

// windowPayload is what travels through the receive window: either a
// plain application message, or one fragment of a larger one. Fragments
// share the same sequence space and window as plain messages on their
// channel, so the window only ever needs to know about this one type.
type windowPayload struct {
	isFragment bool
	plain      []byte
	groupID    uint16
	fragCount  uint16
	fragIndex  uint16
	fragData   []byte
}

// Channel is the per-peer, per-channel-id reliability state machine.
// Not safe for concurrent use.
type Channel struct {
	ID    uint8
	Mode  Mode
	State State

	cfg Config

	sendBuf *sendbuf.Buffer
	recvWin *recvwindow.Window[windowPayload]
	frag    *fragment.Assembler
	nackQ   *nack.Queue

	nextSeq seqnum.Sequence

	pendingDeliveries [][]byte
}

// New builds an Idle channel. Call Activate once the owning connection
// reaches Connected/Identified.
func New(id uint8, mode Mode, cfg Config) *Channel {
	return &Channel{
		ID:      id,
		Mode:    mode,
		State:   Idle,
		cfg:     cfg,
		sendBuf: sendbuf.New(cfg.SendBufferSize, cfg.SendBufferExpire, cfg.MaxResendCount, cfg.Now),
		recvWin: recvwindow.New[windowPayload](cfg.ReceiveWindowSize, mode == OrderedReliable),
		frag:    fragment.NewAssembler(cfg.FragmentExpire, cfg.Now),
		nackQ:   nack.NewQueue(cfg.NackRedundancy),
	}
}

// Activate transitions Idle -> Active. A channel is Active for as long
// as its parent connection is Connected or Identified.
func (c *Channel) Activate() {
	if c.State == Idle {
		c.State = Active
	}
}

// Teardown releases all outstanding send-buffer payloads and
// undelivered window entries and transitions to TornDown.
func (c *Channel) Teardown() {
	c.sendBuf.Teardown()
	c.recvWin.Teardown()
	c.frag.Teardown()
	c.State = TornDown
}

func (c *Channel) mtu() int {
	if c.cfg.MTUPayloadBytes <= 0 {
		return 1200
	}
	return c.cfg.MTUPayloadBytes
}

// Send fragments payload if needed, assigns fresh sequence(s), stores
// each framed packet in the send buffer, and returns the raw datagrams
// ready for immediate transmission.
func (c *Channel) Send(payload []byte) ([][]byte, error) {
	if c.State != Active {
		return nil, errs.New(errs.KindPolicy, errs.NotIdentified, "channel not active", nil)
	}

	if len(payload) <= c.mtu() {
		buf, err := c.frameAndStore(wire.TypeReliable, payload)
		if err != nil {
			return nil, err
		}
		return [][]byte{buf}, nil
	}

	chunkSize := c.mtu() - wire.FragmentHeaderSize + wire.ReliableHeaderSize
	if chunkSize <= 0 {
		return nil, errs.New(errs.KindPolicy, errs.MessageTooLarge, "mtu too small for fragmentation", nil)
	}

	var chunks [][]byte
	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
	}
	if len(chunks) > 0xFFFF {
		return nil, errs.New(errs.KindPolicy, errs.MessageTooLarge, "payload exceeds maximum fragment count", nil)
	}

	groupID := c.frag.NextGroupID()
	packets := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		seq := c.allocSeq()
		fh := wire.FragmentHeader{
			ReliableHeader: wire.ReliableHeader{Type: wire.TypeFragment, Channel: c.ID, Sequence: seq},
			GroupID:        groupID,
			FragCount:      uint16(len(chunks)),
			FragIndex:      uint16(i),
		}
		buf := fh.Encode(nil)
		buf = append(buf, chunk...)

		if _, err := c.sendBuf.Insert(seq, c.ID, buf); err != nil {
			return packets, errs.New(errs.KindCapacity, errs.BufferFull, "fragment send", err)
		}
		packets = append(packets, buf)
	}
	return packets, nil
}

// frameAndStore builds one reliable (optionally NACK-piggybacked)
// packet, stores it in the send buffer, and returns its wire bytes.
func (c *Channel) frameAndStore(tag wire.PacketType, payload []byte) ([]byte, error) {
	seq := c.allocSeq()

	var buf []byte
	if pair, ok := c.nackQ.Next(); ok {
		h := wire.ReliableNackHeader{
			ReliableHeader: wire.ReliableHeader{Type: wire.TypeReliableNack, Channel: c.ID, Sequence: seq},
			NackBase:       pair.Base,
			NackBitfield:   pair.Bitfield,
		}
		buf = h.Encode(nil)
	} else {
		h := wire.ReliableHeader{Type: tag, Channel: c.ID, Sequence: seq}
		buf = h.Encode(nil)
	}
	buf = append(buf, payload...)

	if _, err := c.sendBuf.Insert(seq, c.ID, buf); err != nil {
		return nil, errs.New(errs.KindCapacity, errs.BufferFull, "reliable send", err)
	}
	return buf, nil
}

func (c *Channel) allocSeq() seqnum.Sequence {
	s := c.nextSeq
	c.nextSeq++
	return s
}

// OnReceiveReliable handles an inbound plain reliable packet (type
// Reliable or ReliableNack; the caller has already stripped and
// processed the optional NACK pair via ApplyNackPair).
func (c *Channel) OnReceiveReliable(seq seqnum.Sequence, payload []byte) {
	delivered, overflowed := c.recvWin.Receive(seq, windowPayload{plain: payload})
	if overflowed {
		c.recordOverflow()
	}
	c.deliverAll(delivered)
}

// OnReceiveFragment handles an inbound fragment packet. The fragment's
// own sequence goes through the same receive window as plain messages;
// once the window releases it (in-order for ordered channels,
// immediately for unordered), it is routed into the fragment assembler.
func (c *Channel) OnReceiveFragment(h wire.FragmentHeader, data []byte) {
	delivered, overflowed := c.recvWin.Receive(h.Sequence, windowPayload{
		isFragment: true,
		groupID:    h.GroupID,
		fragCount:  h.FragCount,
		fragIndex:  h.FragIndex,
		fragData:   data,
	})
	if overflowed {
		c.recordOverflow()
	}
	c.deliverAll(delivered)
}

func (c *Channel) deliverAll(ps []windowPayload) {
	for _, p := range ps {
		if !p.isFragment {
			c.pendingDeliveries = append(c.pendingDeliveries, p.plain)
			continue
		}
		assembled, complete, err := c.frag.AddFragment(p.groupID, p.fragCount, p.fragIndex, p.fragData)
		if err != nil {
			// frag_count mismatch: drop the newer fragment, per
			// SPEC_FULL's resolution of spec.md §9 open question (c).
			continue
		}
		if complete {
			c.pendingDeliveries = append(c.pendingDeliveries, assembled)
		}
	}
}

func (c *Channel) recordOverflow() {
	// Window overflow is observable only through absent delivery; there
	// is no dedicated event object in this package, and nothing is
	// counted or logged for it here or in the engine.
}

// DrainDelivered returns and clears every payload whose delivery policy
// is now satisfied.
func (c *Channel) DrainDelivered() [][]byte {
	out := c.pendingDeliveries
	c.pendingDeliveries = nil
	return out
}

// ApplyNackPair is exposed for the engine to feed incoming standalone/
// piggybacked NACK pairs into this channel's send buffer.
func (c *Channel) ApplyNackPair(pair wire.NackPair) []sendbuf.Entry {
	return nack.Apply(pair, c.sendBuf)
}

// ApplyEchoAck releases every send-buffer entry at or before the peer's
// echoed last-in-order sequence.
func (c *Channel) ApplyEchoAck(echoed seqnum.Sequence) {
	// The send buffer doesn't track a sorted index of live sequences, so
	// releasing by echoed prefix walks the (small, bounded) live set
	// rather than the full 16-bit space.
	for _, e := range c.sendBuf.Live() {
		if nack.EchoAck(e.Sequence, echoed) {
			c.sendBuf.Release(e.Sequence)
		}
	}
}

// ScanNacks scans this channel's receive window for gaps, queues them
// for redundant piggybacking, and returns the groups for an immediate
// standalone NACK datagram (nil if nothing is pending).
func (c *Channel) ScanNacks() []wire.NackPair {
	pairs := nack.Scan(c.recvWin)
	if len(pairs) > 0 {
		c.nackQ.Enqueue(pairs)
	}
	return pairs
}

// Tick drives send-buffer expiration. It returns the expired
// send-buffer entries for logging/metrics. NACK generation is separate:
// see ScanNacks.
func (c *Channel) Tick() []sendbuf.Entry {
	return c.sendBuf.ExpireStale()
}

// LastInOrderReceived exposes the receive window's contiguous prefix.
// It is not carried on the wire: the reliable header has no echo field.
func (c *Channel) LastInOrderReceived() seqnum.Sequence {
	return c.recvWin.LastInOrder()
}

// ExpireFragmentGroups reports and expires stale fragment groups.
func (c *Channel) ExpireFragmentGroups() []fragment.ExpiredGroup {
	return c.frag.ExpireStale()
}

// SendBufferLen reports how many entries are currently outstanding.
func (c *Channel) SendBufferLen() int { return c.sendBuf.Len() }
