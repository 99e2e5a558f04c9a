package connection

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testAddr(t *testing.T) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp6", "[::1]:9999")
	require.NoError(t, err)
	return addr
}

func TestTouchAndTimedOut(t *testing.T) {
	now := time.Now()
	c := New(1, "uuid-1", testAddr(t))
	c.Touch(now)

	require.False(t, c.TimedOut(now.Add(4*time.Second)))
	require.True(t, c.TimedOut(now.Add(6*time.Second)))

	c.Touch(now.Add(5 * time.Second))
	require.False(t, c.TimedOut(now.Add(9*time.Second)))
}

func TestAdvanceRejectsStaleAndDuplicate(t *testing.T) {
	c := New(1, "uuid-1", testAddr(t))

	require.True(t, c.Advance(1))
	require.Equal(t, uint32(1), c.ExpectedSeq())

	require.False(t, c.Advance(1), "duplicate seq must not advance")
	require.False(t, c.Advance(0), "older seq must not advance")

	require.True(t, c.Advance(5))
	require.Equal(t, uint32(5), c.ExpectedSeq())
}
