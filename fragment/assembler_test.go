package fragment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliant/fragment"
)

func TestReassemblyOutOfOrder(t *testing.T) {
	a := fragment.NewAssembler(time.Hour, nil)

	order := []uint16{2, 0, 3, 1}
	parts := [][]byte{[]byte("AA"), []byte("BB"), []byte("CC"), []byte("DD")}

	var assembled []byte
	var complete bool
	for _, idx := range order {
		var err error
		assembled, complete, err = a.AddFragment(7, 4, idx, parts[idx])
		require.NoError(t, err)
	}
	require.True(t, complete)
	assert.Equal(t, []byte("AABBCCDD"), assembled)
	assert.Equal(t, 0, a.Len())
}

func TestFragCountMismatchDropsNewer(t *testing.T) {
	a := fragment.NewAssembler(time.Hour, nil)

	_, complete, err := a.AddFragment(1, 3, 0, []byte("x"))
	require.NoError(t, err)
	assert.False(t, complete)

	_, complete, err = a.AddFragment(1, 99, 1, []byte("y"))
	assert.ErrorIs(t, err, fragment.ErrCountMismatch)
	assert.False(t, complete)
	assert.Equal(t, 1, a.Len(), "existing group must be left untouched")
}

func TestExpireStaleGroups(t *testing.T) {
	start := time.Unix(0, 0)
	now := start
	a := fragment.NewAssembler(time.Second, func() time.Time { return now })

	_, _, err := a.AddFragment(1, 2, 0, []byte("x"))
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	expired := a.ExpireStale()
	require.Len(t, expired, 1)
	assert.Equal(t, uint16(1), expired[0].GroupID)
	assert.Equal(t, 0, a.Len())
}

func TestNextGroupIDIncrements(t *testing.T) {
	a := fragment.NewAssembler(time.Hour, nil)
	first := a.NextGroupID()
	second := a.NextGroupID()
	assert.Equal(t, first+1, second)
}
