package nack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliant/nack"
	"reliant/recvwindow"
	"reliant/wire"
)

func TestScanNoGapsReturnsNil(t *testing.T) {
	w := recvwindow.New[string](512, true)
	w.Receive(0, "a")
	w.Receive(1, "b")

	assert.Nil(t, nack.Scan(w))
}

func TestScanSingleGap(t *testing.T) {
	w := recvwindow.New[string](512, false) // unordered so last_in_order stalls at the gap
	for _, s := range []uint16{0, 1, 2, 3, 5, 6, 7, 8, 9, 10} {
		w.Receive(s, "x")
	}
	// last_in_order stalls at the gap (sequence 4 is missing); last_received is 10.
	pairs := nack.Scan(w)
	require.Len(t, pairs, 1)
	assert.Equal(t, []uint16{4}, missingSequences(pairs[0]))
}

func missingSequences(p wire.NackPair) []uint16 {
	var out []uint16
	for i := uint16(0); i < 32; i++ {
		if p.Bitfield&(1<<i) != 0 {
			out = append(out, p.Base+i)
		}
	}
	return out
}

func TestQueueRoundRobinRedundancy(t *testing.T) {
	q := nack.NewQueue(2)
	q.Enqueue([]wire.NackPair{{Base: 1, Bitfield: 1}, {Base: 2, Bitfield: 2}})
	require.Equal(t, 2, q.Len())

	first, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(1), first.Base)

	second, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(2), second.Base)

	// each pair gets 2 attachments total; both should reappear once more.
	third, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(1), third.Base)

	fourth, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(2), fourth.Base)

	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueueZeroRedundancyNeverEnqueues(t *testing.T) {
	q := nack.NewQueue(0)
	q.Enqueue([]wire.NackPair{{Base: 1, Bitfield: 1}})
	assert.Equal(t, 0, q.Len())
	_, ok := q.Next()
	assert.False(t, ok)
}
