package conntable_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliant/conntable"
)

func addr(s string) net.Addr {
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestGetOrCreateIsLazy(t *testing.T) {
	tbl := conntable.New(0, nil)
	c1 := tbl.GetOrCreate(addr("127.0.0.1:1000"))
	assert.Equal(t, conntable.Connected, c1.State)

	c2 := tbl.GetOrCreate(addr("127.0.0.1:1000"))
	assert.Same(t, c1, c2, "same address must return the same connection")
	assert.Equal(t, 1, tbl.Len())
}

func TestBindTransitionsToIdentified(t *testing.T) {
	tbl := conntable.New(0, nil)
	c := tbl.GetOrCreate(addr("127.0.0.1:1000"))

	rebound := tbl.Bind(c, conntable.Identity{ID: 7, Session: 99})
	assert.Nil(t, rebound)
	assert.Equal(t, conntable.Identified, c.State)
}

func TestBindRebindsAddressAndDisconnectsOld(t *testing.T) {
	tbl := conntable.New(0, nil)
	oldConn := tbl.GetOrCreate(addr("127.0.0.1:1000"))
	identity := conntable.Identity{ID: 7, Session: 99}
	tbl.Bind(oldConn, identity)

	newConn := tbl.GetOrCreate(addr("127.0.0.1:2000"))
	rebound := tbl.Bind(newConn, identity)

	require.NotNil(t, rebound)
	assert.Same(t, oldConn, rebound)
	assert.Equal(t, conntable.Disconnected, oldConn.State)
	assert.Equal(t, conntable.Identified, newConn.State)

	_, stillThere := tbl.Lookup(addr("127.0.0.1:1000"))
	assert.False(t, stillThere, "the old address must be forgotten once rebound")
}

func TestExpireIdleRemovesStaleConnections(t *testing.T) {
	start := time.Unix(0, 0)
	now := start
	tbl := conntable.New(time.Second, func() time.Time { return now })

	tbl.GetOrCreate(addr("127.0.0.1:1000"))
	now = now.Add(2 * time.Second)

	expired := tbl.ExpireIdle()
	require.Len(t, expired, 1)
	assert.Equal(t, 0, tbl.Len())
}

func TestTouchResetsIdleTimer(t *testing.T) {
	start := time.Unix(0, 0)
	now := start
	tbl := conntable.New(time.Second, func() time.Time { return now })

	c := tbl.GetOrCreate(addr("127.0.0.1:1000"))
	now = now.Add(500 * time.Millisecond)
	tbl.Touch(c)
	now = now.Add(700 * time.Millisecond)

	assert.Empty(t, tbl.ExpireIdle(), "touched within the last second, should not expire yet")
}
