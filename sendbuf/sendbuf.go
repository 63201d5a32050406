// Package sendbuf implements the fixed-capacity send buffer described in
// spec.md §4.2: a ring of outgoing reliable messages, keyed by sequence
// mod capacity, retained for possible retransmission until they are
// implicitly acked, expire, or the owning channel tears down.
package sendbuf

import (
	"errors"
	"time"

	"reliant/seqnum"
)

// ErrBufferFull is returned by Insert when the target slot is occupied
// by an entry that is neither released nor expired.
var ErrBufferFull = errors.New("sendbuf: buffer full")

// Entry is one outstanding reliable send awaiting acknowledgement.
type Entry struct {
	Sequence    seqnum.Sequence
	Channel     uint8
	Payload     []byte
	CreatedAt   time.Time
	ResendCount int
}

type slot struct {
	entry    *Entry
	occupied bool
}

// Buffer is a fixed-capacity ring of Entry, indexed by sequence mod
// capacity. It is not safe for concurrent use; per spec.md §5 each
// channel (and therefore each Buffer) is exclusively owned by one
// engine instance.
type Buffer struct {
	slots          []slot
	expireAfter    time.Duration
	maxResendCount int // 0 = unbounded, per SPEC_FULL open-question (b)
	now            func() time.Time
}

// New builds a Buffer with the given ring capacity (spec default 1024),
// expiration window, and an optional defensive resend cap (0 disables
// it). now defaults to time.Now and is overridable for deterministic
// tests.
func New(capacity int, expireAfter time.Duration, maxResendCount int, now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		slots:          make([]slot, capacity),
		expireAfter:    expireAfter,
		maxResendCount: maxResendCount,
		now:            now,
	}
}

func (b *Buffer) index(s seqnum.Sequence) int {
	return int(s) % len(b.slots)
}

func (b *Buffer) isExpired(e *Entry) bool {
	return b.expireAfter > 0 && b.now().Sub(e.CreatedAt) >= b.expireAfter
}

// Insert stores payload under sequence on channel. If the target slot
// holds an entry that is still live (not yet released, not expired) it
// returns ErrBufferFull; a released or expired occupant is silently
// overwritten and its payload reclaimed.
func (b *Buffer) Insert(s seqnum.Sequence, channel uint8, payload []byte) (*Entry, error) {
	i := b.index(s)
	cur := &b.slots[i]
	if cur.occupied && !b.isExpired(cur.entry) {
		return nil, ErrBufferFull
	}

	e := &Entry{Sequence: s, Channel: channel, Payload: payload, CreatedAt: b.now()}
	*cur = slot{entry: e, occupied: true}
	return e, nil
}

// Get returns the entry stored for sequence s, if any and if it is
// still the current occupant of that slot (handles ring wraparound
// reuse: an old sequence's slot may now hold a newer one).
func (b *Buffer) Get(s seqnum.Sequence) (*Entry, bool) {
	i := b.index(s)
	cur := &b.slots[i]
	if !cur.occupied || cur.entry.Sequence != s {
		return nil, false
	}
	return cur.entry, true
}

// Release destroys the entry for sequence s (implicit ack), reclaiming
// its payload. Releasing an already-released or absent sequence is a
// no-op, satisfying the idempotence invariant (spec.md §8.4).
func (b *Buffer) Release(s seqnum.Sequence) {
	i := b.index(s)
	cur := &b.slots[i]
	if cur.occupied && cur.entry.Sequence == s {
		*cur = slot{}
	}
}

// IncrementResend bumps the resend counter for s and reports whether the
// defensive resend cap (if configured) has now been exceeded, in which
// case the caller should treat the entry as forcibly expired.
func (b *Buffer) IncrementResend(s seqnum.Sequence) (capExceeded bool) {
	e, ok := b.Get(s)
	if !ok {
		return false
	}
	e.ResendCount++
	return b.maxResendCount > 0 && e.ResendCount > b.maxResendCount
}

// ExpireStale releases every entry older than the configured expiration
// window (or whose resend cap was exceeded) and returns them for
// logging/metrics. Entries are released regardless of ack state, per
// spec.md §4.2.
func (b *Buffer) ExpireStale() []Entry {
	var expired []Entry
	for i := range b.slots {
		cur := &b.slots[i]
		if !cur.occupied {
			continue
		}
		exceededResends := b.maxResendCount > 0 && cur.entry.ResendCount > b.maxResendCount
		if b.isExpired(cur.entry) || exceededResends {
			expired = append(expired, *cur.entry)
			*cur = slot{}
		}
	}
	return expired
}

// Teardown releases every outstanding entry, reclaiming all payloads.
// Called when the owning channel transitions to TornDown.
func (b *Buffer) Teardown() {
	for i := range b.slots {
		b.slots[i] = slot{}
	}
}

// Len reports how many slots currently hold a live entry.
func (b *Buffer) Len() int {
	n := 0
	for i := range b.slots {
		if b.slots[i].occupied {
			n++
		}
	}
	return n
}

// Live returns every currently occupied entry, in slot order. Used by
// echo-ack processing, which needs to walk the (small, bounded) live set
// rather than the full 16-bit sequence space.
func (b *Buffer) Live() []Entry {
	var out []Entry
	for i := range b.slots {
		if b.slots[i].occupied {
			out = append(out, *b.slots[i].entry)
		}
	}
	return out
}
