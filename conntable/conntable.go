// Package conntable implements the connection table of spec.md §4.7:
// lazy per-peer-address connection creation, identity binding with
// atomic address rebinding, and idle-connection teardown.
package conntable

import (
	"net"
	"time"

	"github.com/google/uuid"

	"reliant/channel"
)

// ConnState is a connection's lifecycle stage.
type ConnState int

const (
	Connected ConnState = iota
	Identified
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Identified:
		return "identified"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Identity is the opaque (id, session) pair spec.md §4.7 uses to bind a
// logical peer to whichever address it is currently sending from.
type Identity struct {
	ID      uint32
	Session uint32
}

// Connection is one peer's full reliability state: its address, its
// identity binding (if any), and its configured channels.
type Connection struct {
	// DiagID is a process-local, non-wire identifier for log/metric
	// correlation across reconnects and rebinds.
	DiagID uuid.UUID

	Addr     net.Addr
	Identity *Identity
	State    ConnState

	Channels map[uint8]*channel.Channel

	createdAt    time.Time
	lastActivity time.Time
}

func (c *Connection) touch(now time.Time) { c.lastActivity = now }

// Table owns every live connection, indexed both by current address and
// (once identified) by identity, so that binding a known identity from a
// new address finds the connection previously bound to it in O(1) and
// disconnects it; the new address keeps its own connection.
type Table struct {
	byAddr     map[string]*Connection
	byIdentity map[Identity]*Connection
	idleAfter  time.Duration
	now        func() time.Time
}

// New builds an empty Table with the given idle-connection timeout
// (spec default 10000ms; 0 disables idle teardown).
func New(idleAfter time.Duration, now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{
		byAddr:     make(map[string]*Connection),
		byIdentity: make(map[Identity]*Connection),
		idleAfter:  idleAfter,
		now:        now,
	}
}

// Lookup returns the connection currently bound to addr, if any.
func (t *Table) Lookup(addr net.Addr) (*Connection, bool) {
	c, ok := t.byAddr[addr.String()]
	return c, ok
}

// GetOrCreate returns the connection for addr, lazily creating one in
// state Connected if none exists yet (spec.md §4.7's lazy-creation rule:
// any inbound datagram from an unknown address starts a connection).
func (t *Table) GetOrCreate(addr net.Addr) *Connection {
	if c, ok := t.byAddr[addr.String()]; ok {
		c.touch(t.now())
		return c
	}
	now := t.now()
	c := &Connection{
		DiagID:       uuid.New(),
		Addr:         addr,
		State:        Connected,
		Channels:     make(map[uint8]*channel.Channel),
		createdAt:    now,
		lastActivity: now,
	}
	t.byAddr[addr.String()] = c
	return c
}

// Bind associates identity with conn. If identity is already bound to a
// different connection, that old connection is transitioned to
// Disconnected and its channels torn down, and its address entry is
// dropped from the table — spec.md §4.7's address-rebinding rule: the
// identity, not the address, is the durable handle to a peer.
func (t *Table) Bind(conn *Connection, identity Identity) (rebound *Connection) {
	if old, ok := t.byIdentity[identity]; ok && old != conn {
		old.State = Disconnected
		for _, ch := range old.Channels {
			ch.Teardown()
		}
		delete(t.byAddr, old.Addr.String())
		rebound = old
	}

	conn.Identity = &identity
	conn.State = Identified
	t.byIdentity[identity] = conn
	conn.touch(t.now())
	return rebound
}

// Touch records activity on conn's current address, resetting its idle
// timer.
func (t *Table) Touch(conn *Connection) { conn.touch(t.now()) }

// Remove tears down and forgets conn entirely.
func (t *Table) Remove(conn *Connection) {
	conn.State = Disconnected
	for _, ch := range conn.Channels {
		ch.Teardown()
	}
	delete(t.byAddr, conn.Addr.String())
	if conn.Identity != nil {
		delete(t.byIdentity, *conn.Identity)
	}
}

// ExpireIdle tears down and removes every connection whose last activity
// predates the configured idle timeout, returning them for logging and
// metrics.
func (t *Table) ExpireIdle() []*Connection {
	if t.idleAfter <= 0 {
		return nil
	}
	now := t.now()
	var expired []*Connection
	for _, c := range t.byAddr {
		if now.Sub(c.lastActivity) >= t.idleAfter {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		t.Remove(c)
	}
	return expired
}

// Len reports how many connections are currently tracked by address.
func (t *Table) Len() int { return len(t.byAddr) }

// All returns every tracked connection, for engine-wide tick iteration.
func (t *Table) All() []*Connection {
	out := make([]*Connection, 0, len(t.byAddr))
	for _, c := range t.byAddr {
		out = append(out, c)
	}
	return out
}
