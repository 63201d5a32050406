package wire_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliant/wire"
)

func TestStandaloneNackRoundTrip(t *testing.T) {
	pairs := []wire.NackPair{
		{Base: 100, Bitfield: 0x00000001},
		{Base: 67, Bitfield: 0xFFFF0000},
		{Base: 34, Bitfield: 0x00010000},
	}

	b := wire.EncodeStandaloneNack(1, pairs)
	assert.Equal(t, byte(wire.TypeStandaloneNack), b[0])

	channel, got, err := wire.DecodeStandaloneNack(b[1:])
	require.NoError(t, err)
	assert.Equal(t, uint8(1), channel)
	if diff := cmp.Diff(pairs, got); diff != "" {
		t.Errorf("decoded pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestStandaloneNackSinglePair(t *testing.T) {
	pairs := []wire.NackPair{{Base: 5, Bitfield: 0xABCD}}
	b := wire.EncodeStandaloneNack(2, pairs)

	channel, got, err := wire.DecodeStandaloneNack(b[1:])
	require.NoError(t, err)
	assert.Equal(t, uint8(2), channel)
	if diff := cmp.Diff(pairs, got); diff != "" {
		t.Errorf("decoded pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestStandaloneNackTruncated(t *testing.T) {
	_, _, err := wire.DecodeStandaloneNack([]byte{1, 0x01})
	assert.ErrorIs(t, err, wire.ErrTruncated)
}

func TestStandaloneNackBaseWraparound(t *testing.T) {
	// base deltas that cross the 16-bit wrap should still round-trip,
	// since the delta is carried as a signed 16-bit zigzag value.
	pairs := []wire.NackPair{
		{Base: 65530, Bitfield: 1},
		{Base: 10, Bitfield: 2},
	}
	b := wire.EncodeStandaloneNack(1, pairs)
	_, got, err := wire.DecodeStandaloneNack(b[1:])
	require.NoError(t, err)
	assert.Equal(t, pairs, got)
}
