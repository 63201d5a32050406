// Package fragment implements the fragment assembler of spec.md §4.5:
// pure bookkeeping that groups fragments by group id, tracks completion,
// and expires stale groups. Fragment loss recovery is handled entirely
// by the owning channel's receive window — each fragment travels as its
// own reliable sequence — so this package never retransmits anything.
package fragment

import (
	"errors"
	"time"

	"github.com/rs/xid"
)

// ErrCountMismatch is returned when a fragment's declared frag_count
// disagrees with the count already recorded for its group. Per
// SPEC_FULL's resolution of spec.md §9 open question (c), the newer
// fragment is dropped and the existing group is left untouched.
var ErrCountMismatch = errors.New("fragment: frag_count mismatch for group")

// Group is one in-progress reassembly, keyed by the wire group id.
type Group struct {
	GroupID       uint16
	ExpectedCount uint16
	Received      map[uint16][]byte
	FirstSeenAt   time.Time

	// DiagID is a compact, creation-ordered identifier used only for log
	// and metric correlation — never transmitted on the wire, where
	// GroupID (a uint16 reused across the 65536 id space) is the only
	// identifier the protocol defines.
	DiagID xid.ID
}

// Assembler tracks all in-progress fragment groups for one channel.
// Not safe for concurrent use.
type Assembler struct {
	groups      map[uint16]*Group
	expireAfter time.Duration
	now         func() time.Time
	nextGroupID uint16
}

// NewAssembler builds an Assembler with the given group expiration
// window (spec default 5000ms).
func NewAssembler(expireAfter time.Duration, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		groups:      make(map[uint16]*Group),
		expireAfter: expireAfter,
		now:         now,
	}
}

// NextGroupID returns the next sender-side group id for this channel,
// monotonically increasing and wrapping at 2^16.
func (a *Assembler) NextGroupID() uint16 {
	id := a.nextGroupID
	a.nextGroupID++
	return id
}

// AddFragment records one arriving fragment. It returns the assembled
// payload and true once the group completes (concatenated in index
// order); the group is removed from the assembler either way once
// complete. A frag_count disagreement with an existing group drops the
// new fragment and returns ErrCountMismatch without disturbing the
// existing group.
func (a *Assembler) AddFragment(groupID, fragCount, fragIndex uint16, payload []byte) ([]byte, bool, error) {
	g, ok := a.groups[groupID]
	if !ok {
		g = &Group{
			GroupID:       groupID,
			ExpectedCount: fragCount,
			Received:      make(map[uint16][]byte, fragCount),
			FirstSeenAt:   a.now(),
			DiagID:        xid.New(),
		}
		a.groups[groupID] = g
	} else if g.ExpectedCount != fragCount {
		return nil, false, ErrCountMismatch
	}

	g.Received[fragIndex] = payload

	if uint16(len(g.Received)) < g.ExpectedCount {
		return nil, false, nil
	}

	total := 0
	for i := uint16(0); i < g.ExpectedCount; i++ {
		total += len(g.Received[i])
	}
	assembled := make([]byte, 0, total)
	for i := uint16(0); i < g.ExpectedCount; i++ {
		assembled = append(assembled, g.Received[i]...)
	}

	delete(a.groups, groupID)
	return assembled, true, nil
}

// ExpiredGroup is one group that aged out incomplete.
type ExpiredGroup struct {
	GroupID       uint16
	DiagID        xid.ID
	ReceivedCount int
	ExpectedCount uint16
}

// ExpireStale discards groups older than the configured expiration
// window and returns them for logging/metrics.
func (a *Assembler) ExpireStale() []ExpiredGroup {
	if a.expireAfter <= 0 {
		return nil
	}
	now := a.now()
	var expired []ExpiredGroup
	for id, g := range a.groups {
		if now.Sub(g.FirstSeenAt) >= a.expireAfter {
			expired = append(expired, ExpiredGroup{
				GroupID:       g.GroupID,
				DiagID:        g.DiagID,
				ReceivedCount: len(g.Received),
				ExpectedCount: g.ExpectedCount,
			})
			delete(a.groups, id)
		}
	}
	return expired
}

// Teardown discards all in-progress groups. Called when the owning
// channel transitions to TornDown.
func (a *Assembler) Teardown() {
	a.groups = make(map[uint16]*Group)
}

// Len reports how many groups are currently in progress.
func (a *Assembler) Len() int { return len(a.groups) }
