package nack_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliant/nack"
	"reliant/sendbuf"
	"reliant/wire"
)

func TestApplyRetransmitsMissingAndReleasesClear(t *testing.T) {
	buf := sendbuf.New(64, time.Hour, 0, nil)
	for s := uint16(1); s <= 5; s++ {
		_, err := buf.Insert(s, 1, []byte{byte(s)})
		require.NoError(t, err)
	}

	// bit 0 (seq 1, the base itself) and bit 1 (seq 2) are missing; seq
	// 3,4,5 are clear (implicitly acked).
	pair := wire.NackPair{Base: 1, Bitfield: 0b11}
	retransmit := nack.Apply(pair, buf)

	var got []uint16
	for _, e := range retransmit {
		got = append(got, e.Sequence)
	}
	assert.ElementsMatch(t, []uint16{1, 2}, got)

	_, ok := buf.Get(3)
	assert.False(t, ok, "clear bit releases the send-buffer entry")
	_, ok = buf.Get(1)
	assert.True(t, ok, "missing base sequence stays live pending further resend")
}

func TestApplyIdempotentOnReplay(t *testing.T) {
	buf := sendbuf.New(64, time.Hour, 0, nil)
	_, err := buf.Insert(1, 1, []byte("a"))
	require.NoError(t, err)
	_, err = buf.Insert(2, 1, []byte("b"))
	require.NoError(t, err)

	pair := wire.NackPair{Base: 1, Bitfield: 0}
	nack.Apply(pair, buf) // both bits clear: releases seq 1 (base) and seq 2
	_, ok := buf.Get(1)
	require.False(t, ok)
	_, ok = buf.Get(2)
	require.False(t, ok)

	// replaying the identical pair must not resurrect either sequence.
	nack.Apply(pair, buf)
	_, ok = buf.Get(2)
	assert.False(t, ok)
}

func TestApplyMissingFromBufferIgnored(t *testing.T) {
	buf := sendbuf.New(64, time.Hour, 0, nil)
	pair := wire.NackPair{Base: 1, Bitfield: 0xFFFFFFFF}
	retransmit := nack.Apply(pair, buf)
	assert.Empty(t, retransmit)
}

func TestEchoAck(t *testing.T) {
	assert.True(t, nack.EchoAck(5, 10))
	assert.True(t, nack.EchoAck(10, 10))
	assert.False(t, nack.EchoAck(11, 10))
}
