// Package engine implements the tick-driven reliability engine of
// spec.md §4.8: the control surface (bind, connect, configure_channel,
// set_identity, send_reliable, send_unreliable, receive, update,
// disconnect) that composes conntable, channel, nack and unreliable
// into one exclusively-owned, single-threaded instance.
package engine

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reliant/channel"
	"reliant/config"
	"reliant/conntable"
	"reliant/errs"
	"reliant/metrics"
	"reliant/unreliable"
	"reliant/wire"
)

// Transport is the datagram socket the engine drives. net.PacketConn
// satisfies it directly; the OS socket itself is an external
// collaborator this package never constructs on its own.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	Close() error
}

// ChannelDef is one preconfigured channel id/mode pair, declared before
// Bind or Connect per spec.md §6.
type ChannelDef struct {
	ID   uint8
	Mode channel.Mode
}

// Result is one delivered item handed back from Receive: either an
// application payload, or a zero-length payload carrying only an error
// code for a rejected inbound datagram.
type Result struct {
	Addr    net.Addr
	Payload []byte
	Code    errs.Code
}

// Engine is one exclusively-owned reliability instance bound to one
// socket. Not safe for concurrent use except for UnreliableSender,
// which holds only a reference to the socket — per spec.md §5.
type Engine struct {
	ID uuid.UUID

	cfg         config.EngineConfig
	channelDefs map[uint8]channel.Mode

	conns *conntable.Table

	socket  Transport
	unrel   *unreliable.Sender
	metrics *metrics.Registry
	log     *logrus.Logger

	useIdentities bool
	allowedIdents map[conntable.Identity]struct{}

	now func() time.Time

	recvBuf []byte
	pending []Result
}

// New builds an Engine from cfg and the channels declared in defs.
// Channels 1 (ordered-reliable) and 2 (unordered-reliable) are mandatory
// and are added automatically if not present in defs.
func New(cfg config.EngineConfig, defs []ChannelDef, useIdentities bool, reg *metrics.Registry, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if reg == nil {
		reg = metrics.New(cfg.MetricsNamespace)
	}
	now := time.Now

	channelDefs := map[uint8]channel.Mode{
		1: channel.OrderedReliable,
		2: channel.UnorderedReliable,
	}
	for _, d := range defs {
		channelDefs[d.ID] = d.Mode
	}

	return &Engine{
		ID:            uuid.New(),
		cfg:           cfg,
		channelDefs:   channelDefs,
		conns:         conntable.New(cfg.IdleConnTimeout, now),
		metrics:       reg,
		log:           log,
		useIdentities: useIdentities,
		allowedIdents: make(map[conntable.Identity]struct{}),
		now:           now,
		recvBuf:       make([]byte, 65536),
	}
}

// Bind attaches the engine's socket for server-style usage. The socket
// itself (dial/listen mechanics) is supplied by the
// caller; Bind only wires it in and builds the unreliable sender.
func (e *Engine) Bind(socket Transport) {
	e.socket = socket
	e.unrel = unreliable.New(socket)
}

// Connect performs the client-side handshake described in spec.md
// §4.7: it sends an empty unreliable probe to addr (on arrival the server
// lazily creates its side of the connection; no reply is sent) and immediately
// creates a local connection in Connected state, with every
// preconfigured channel activated.
func (e *Engine) Connect(addr net.Addr) error {
	if e.socket == nil {
		return errs.New(errs.KindFatal, errs.UnknownConnection, "engine not bound", nil)
	}
	conn := e.conns.GetOrCreate(addr)
	e.activateChannels(conn)
	return e.unrel.Send(addr, nil)
}

// ConfigureChannel declares an additional channel id/mode pair. Per
// spec.md §6 this must be called before Bind/Connect brings up traffic;
// calling it afterward only affects connections created from that point
// on.
func (e *Engine) ConfigureChannel(id uint8, mode channel.Mode) {
	e.channelDefs[id] = mode
}

// UnreliableSender returns the shareable unreliable-send handle, safe
// to pass to another goroutine since it holds only the socket reference.
func (e *Engine) UnreliableSender() *unreliable.Sender { return e.unrel }

func (e *Engine) activateChannels(conn *conntable.Connection) {
	for id, mode := range e.channelDefs {
		if _, ok := conn.Channels[id]; ok {
			continue
		}
		ch := channel.New(id, mode, e.cfg.ChannelConfig(e.now))
		ch.Activate()
		conn.Channels[id] = ch
	}
}

func (e *Engine) getChannel(conn *conntable.Connection, id uint8) (*channel.Channel, error) {
	ch, ok := conn.Channels[id]
	if !ok {
		if _, declared := e.channelDefs[id]; !declared {
			return nil, errs.New(errs.KindPolicy, errs.ChannelNotConfigured, "channel not configured", nil)
		}
		ch = channel.New(id, e.channelDefs[id], e.cfg.ChannelConfig(e.now))
		ch.Activate()
		conn.Channels[id] = ch
	}
	return ch, nil
}

// SendReliable frames and transmits payload on channelID to addr. The
// connection must exist and, if identities are enabled, be Identified.
func (e *Engine) SendReliable(channelID uint8, addr net.Addr, payload []byte) error {
	conn, ok := e.conns.Lookup(addr)
	if !ok {
		return errs.New(errs.KindPolicy, errs.UnknownConnection, "send to unknown connection", nil)
	}
	if e.useIdentities && conn.State != conntable.Identified {
		return errs.New(errs.KindPolicy, errs.NotIdentified, "send before identity established", nil)
	}

	ch, err := e.getChannel(conn, channelID)
	if err != nil {
		return err
	}

	packets, err := ch.Send(payload)
	for _, pkt := range packets {
		if _, werr := e.socket.WriteTo(pkt, addr); werr != nil {
			e.log.WithError(werr).WithField("addr", addr).Warn("reliable send failed")
		} else {
			e.metrics.ReliableSent.Inc()
		}
	}
	if err != nil {
		if ee, ok := err.(*errs.EngineError); ok && ee.Code == errs.BufferFull {
			e.metrics.SendBufferFull.Inc()
		}
		return err
	}
	e.conns.Touch(conn)
	return nil
}

// SendUnreliable transmits payload on the unreliable path, bypassing
// all channel state.
func (e *Engine) SendUnreliable(addr net.Addr, payload []byte) error {
	if err := e.unrel.Send(addr, payload); err != nil {
		return err
	}
	e.metrics.UnreliableSent.Inc()
	return nil
}

// Disconnect tears down the connection at addr and notifies the peer
// with an unlink datagram.
func (e *Engine) Disconnect(addr net.Addr) error {
	conn, ok := e.conns.Lookup(addr)
	if !ok {
		return errs.New(errs.KindPolicy, errs.UnknownConnection, "disconnect unknown connection", nil)
	}
	e.conns.Remove(conn)
	_, err := e.socket.WriteTo(wire.EncodeUnlink(), addr)
	return err
}

// Update runs one tick: spec.md §4.8's per-channel expire and NACK
// sweep, followed by idle-connection teardown. It does not retransmit:
// retransmission happens in Receive, as soon as an inbound NACK arrives.
func (e *Engine) Update() {
	for _, conn := range e.conns.All() {
		for _, ch := range conn.Channels {
			for _, expired := range ch.Tick() {
				e.metrics.SendBufferEvicted.Inc()
				e.log.WithFields(logrus.Fields{
					"addr":     conn.Addr,
					"channel":  ch.ID,
					"sequence": expired.Sequence,
				}).Debug("send-buffer entry expired")
			}
			for _, expired := range ch.ExpireFragmentGroups() {
				e.metrics.FragmentsExpired.Inc()
				e.log.WithFields(logrus.Fields{
					"addr":    conn.Addr,
					"channel": ch.ID,
					"group":   expired.GroupID,
				}).Debug("fragment group expired incomplete")
			}

			e.metrics.WindowOccupancy.WithLabelValues(channelLabel(ch.ID)).Set(float64(ch.SendBufferLen()))

			pairs := ch.ScanNacks()
			if len(pairs) == 0 {
				continue
			}
			e.metrics.NacksEmitted.Add(float64(len(pairs)))
			datagram := wire.EncodeStandaloneNack(ch.ID, pairs)
			if _, err := e.socket.WriteTo(datagram, conn.Addr); err != nil {
				e.log.WithError(err).WithField("addr", conn.Addr).Warn("nack send failed")
			}
		}
	}

	for _, conn := range e.conns.ExpireIdle() {
		e.log.WithField("addr", conn.Addr).Info("connection idle timeout")
	}
	e.metrics.ActiveConnections.Set(float64(e.conns.Len()))
}

func channelLabel(id uint8) string { return strconv.Itoa(int(id)) }
