package engine

import (
	"net"

	"github.com/sirupsen/logrus"

	"reliant/conntable"
)

// SetIdentity pre-registers an (id, session) pair as eligible to bind,
// the server-side half of spec.md §4.7's identity binding flow. The
// addr argument records which address the application expects this
// identity to arrive from first; it is informational only — the actual
// bind happens when a matching LinkIdentity control datagram arrives,
// from whatever address it arrives from.
func (e *Engine) SetIdentity(id, session uint32, addr net.Addr) {
	e.allowedIdents[conntable.Identity{ID: id, Session: session}] = struct{}{}
	e.log.WithFields(logrus.Fields{"id": id, "session": session, "addr": addr}).Debug("identity pre-registered")
}

// handleLinkIdentity processes an inbound LinkIdentity control datagram.
// The sending address gets a connection like any other inbound datagram.
// A pair not in the pre-registered set is logged and otherwise ignored,
// leaving the connection's state unchanged: identity binding is a policy
// decision owned by the application, not something an unexpected peer
// can force.
func (e *Engine) handleLinkIdentity(addr net.Addr, id, session uint32) {
	conn := e.conns.GetOrCreate(addr)
	e.activateChannels(conn)
	if !e.useIdentities {
		return
	}
	identity := conntable.Identity{ID: id, Session: session}
	if _, allowed := e.allowedIdents[identity]; !allowed {
		e.log.WithFields(logrus.Fields{"id": id, "session": session, "addr": addr}).Warn("link-identity rejected: not pre-registered")
		return
	}

	rebound := e.conns.Bind(conn, identity)
	if rebound != nil {
		e.log.WithFields(logrus.Fields{
			"id": id, "session": session,
			"old_addr": rebound.Addr, "new_addr": addr,
		}).Info("identity rebound to new address")
	}
}
