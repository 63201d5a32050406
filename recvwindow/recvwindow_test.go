package recvwindow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reliant/recvwindow"
)

func TestOrderedInOrderDelivery(t *testing.T) {
	w := recvwindow.New[string](512, true)

	for i, s := range []string{"a", "b", "c"} {
		delivered, overflowed := w.Receive(uint16(i), s)
		assert.False(t, overflowed)
		assert.Equal(t, []string{s}, delivered)
	}
	assert.Equal(t, uint16(2), w.LastInOrder())
}

func TestOrderedHoldsGapThenReleasesOnArrival(t *testing.T) {
	w := recvwindow.New[string](512, true)

	delivered, _ := w.Receive(0, "a")
	assert.Equal(t, []string{"a"}, delivered)

	// sequence 2 arrives before 1: nothing new is deliverable yet.
	delivered, _ = w.Receive(2, "c")
	assert.Empty(t, delivered)
	assert.Equal(t, uint16(0), w.LastInOrder())

	// 1 arrives: both 1 and the buffered 2 release together, in order.
	delivered, _ = w.Receive(1, "b")
	assert.Equal(t, []string{"b", "c"}, delivered)
	assert.Equal(t, uint16(2), w.LastInOrder())
}

func TestUnorderedDeliversImmediately(t *testing.T) {
	w := recvwindow.New[string](512, false)

	delivered, _ := w.Receive(5, "late")
	assert.Equal(t, []string{"late"}, delivered)

	delivered, _ = w.Receive(1, "early")
	assert.Equal(t, []string{"early"}, delivered, "unordered delivers on arrival regardless of sequence")
}

func TestDuplicateIsDropped(t *testing.T) {
	w := recvwindow.New[string](512, true)
	w.Receive(0, "a")

	delivered, overflowed := w.Receive(0, "a-dup")
	assert.Nil(t, delivered)
	assert.False(t, overflowed)
}

func TestWindowOverflowAdvancesLastInOrder(t *testing.T) {
	w := recvwindow.New[int](512, true)

	// jump far enough ahead that the gap exceeds the window size.
	_, overflowed := w.Receive(1000, 1000)
	assert.True(t, overflowed)
	assert.Equal(t, uint16(1000-512), w.LastInOrder())
}

func TestHasPendingReflectsGap(t *testing.T) {
	w := recvwindow.New[string](512, true)
	assert.False(t, w.HasPending())

	w.Receive(0, "a")
	assert.False(t, w.HasPending())

	w.Receive(2, "c")
	assert.True(t, w.HasPending())
}

func TestReceivedQuery(t *testing.T) {
	w := recvwindow.New[string](512, true)
	w.Receive(0, "a")
	w.Receive(3, "d")

	assert.True(t, w.Received(0))
	assert.True(t, w.Received(3))
	assert.False(t, w.Received(2))
}
