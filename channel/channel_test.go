package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliant/channel"
	"reliant/wire"
)

func testConfig() channel.Config {
	return channel.Config{
		ReceiveWindowSize: 64,
		SendBufferSize:    64,
		SendBufferExpire:  time.Hour,
		FragmentExpire:    time.Hour,
		MaxResendCount:    0,
		NackRedundancy:    2,
		MTUPayloadBytes:   1200,
	}
}

func newActive(mode channel.Mode) *channel.Channel {
	ch := channel.New(1, mode, testConfig())
	ch.Activate()
	return ch
}

func TestSendRejectedWhenIdle(t *testing.T) {
	ch := channel.New(1, channel.OrderedReliable, testConfig())
	_, err := ch.Send([]byte("hi"))
	assert.Error(t, err)
}

func TestSendProducesOneFramedPacketUnderMTU(t *testing.T) {
	ch := newActive(channel.OrderedReliable)
	packets, err := ch.Send([]byte("hello"))
	require.NoError(t, err)
	require.Len(t, packets, 1)

	h, err := wire.DecodeReliableHeader(packets[0])
	require.NoError(t, err)
	assert.Equal(t, wire.TypeReliable, h.Type)
	assert.Equal(t, uint16(0), h.Sequence)
	assert.Equal(t, 1, ch.SendBufferLen())
}

func TestSendFragmentsOversizedPayload(t *testing.T) {
	cfg := testConfig()
	cfg.MTUPayloadBytes = 100
	ch := channel.New(1, channel.OrderedReliable, cfg)
	ch.Activate()

	payload := make([]byte, 350)
	for i := range payload {
		payload[i] = byte(i)
	}
	packets, err := ch.Send(payload)
	require.NoError(t, err)
	assert.Greater(t, len(packets), 1)

	for _, p := range packets {
		h, err := wire.DecodeFragmentHeader(p)
		require.NoError(t, err)
		assert.Equal(t, wire.TypeFragment, h.Type)
	}
}

func TestOrderedDeliveryWithReorderAndGapRecovery(t *testing.T) {
	ch := newActive(channel.OrderedReliable)

	ch.OnReceiveReliable(0, []byte("m0"))
	assert.Equal(t, [][]byte{[]byte("m0")}, ch.DrainDelivered())

	ch.OnReceiveReliable(2, []byte("m2"))
	assert.Empty(t, ch.DrainDelivered(), "sequence 1 is missing, nothing beyond it can release")

	ch.OnReceiveReliable(1, []byte("m1"))
	assert.Equal(t, [][]byte{[]byte("m1"), []byte("m2")}, ch.DrainDelivered())
}

func TestUnorderedDeliversOnArrival(t *testing.T) {
	ch := newActive(channel.UnorderedReliable)

	ch.OnReceiveReliable(5, []byte("late"))
	assert.Equal(t, [][]byte{[]byte("late")}, ch.DrainDelivered())
}

func TestFragmentReassemblyThroughChannel(t *testing.T) {
	ch := newActive(channel.OrderedReliable)

	h0 := wire.FragmentHeader{ReliableHeader: wire.ReliableHeader{Sequence: 0}, GroupID: 9, FragCount: 2, FragIndex: 0}
	h1 := wire.FragmentHeader{ReliableHeader: wire.ReliableHeader{Sequence: 1}, GroupID: 9, FragCount: 2, FragIndex: 1}

	ch.OnReceiveFragment(h1, []byte("BB"))
	assert.Empty(t, ch.DrainDelivered())

	ch.OnReceiveFragment(h0, []byte("AA"))
	assert.Equal(t, [][]byte{[]byte("AABB")}, ch.DrainDelivered())
}

func TestScanNacksAndApplyRoundTrip(t *testing.T) {
	receiver := newActive(channel.UnorderedReliable)
	receiver.OnReceiveReliable(0, []byte("a"))
	receiver.OnReceiveReliable(2, []byte("c"))
	receiver.DrainDelivered()

	pairs := receiver.ScanNacks()
	require.NotEmpty(t, pairs)

	sender := newActive(channel.OrderedReliable)
	for i := 0; i < 3; i++ {
		_, err := sender.Send([]byte("payload"))
		require.NoError(t, err)
	}

	var retransmitted int
	for _, p := range pairs {
		retransmitted += len(sender.ApplyNackPair(p))
	}
	assert.Greater(t, retransmitted, 0)
}

func TestTeardownReleasesState(t *testing.T) {
	ch := newActive(channel.OrderedReliable)
	_, err := ch.Send([]byte("x"))
	require.NoError(t, err)

	ch.Teardown()
	assert.Equal(t, channel.TornDown, ch.State)
	assert.Equal(t, 0, ch.SendBufferLen())
}
