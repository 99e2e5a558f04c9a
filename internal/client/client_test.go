package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bomberdude/internal/testutil"
	"bomberdude/internal/wire"
)

func addr(t *testing.T, s string) net.Addr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp6", s)
	require.NoError(t, err)
	return a
}

func newWiredTestClient(t *testing.T) (*Client, *testutil.PacketConn) {
	t.Helper()
	lobbyConn, clientConn, err := testutil.NewPacketConnPair("[::1]:9999", "[::2]:4000")
	require.NoError(t, err)
	c := New("node-1", clientConn, addr(t, "[::1]:9999"), nil, 10*time.Second, time.Second)
	c.lobbyAddr = addr(t, "[::1]:9999")
	c.preferred = c.lobbyAddr
	c.playerUUID = "abcd"
	c.lobbyID = "efgh"
	return c, lobbyConn
}

func TestSubmitIntentQueuesUnsentKeyedByLobby(t *testing.T) {
	c, _ := newWiredTestClient(t)

	c.SubmitIntent(wire.Change{CurX: 1, CurY: 1, NextX: 2, NextY: 1})

	entries := c.cache.DrainUnsent(time.Now())
	require.Len(t, entries, 1)
	require.Equal(t, c.lobbyAddr.String(), entries[0].Dest)
	require.Equal(t, wire.Actions, entries[0].Payload.Type)
}

func TestTransmitDeliversAndMarksSentUnderLogicalKey(t *testing.T) {
	c, lobbyConn := newWiredTestClient(t)
	c.SubmitIntent(wire.Change{NextX: 3, NextY: 3})

	c.outputTick(time.Now())

	buf := make([]byte, 2048)
	n, _, err := lobbyConn.ReadFrom(buf)
	require.NoError(t, err)
	p, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.Actions, p.Type)

	// A second tick with nothing new queued must not resend (not yet retry-due).
	c.outputTick(time.Now())
	_, _, err = lobbyConn.ReadFrom(buf)
	require.Error(t, err, "nothing may be resent before the retry interval")

	// The entry sits in the sent bucket under the lobby's logical key.
	due := c.cache.RetryDue(time.Now().Add(2*time.Second), time.Second)
	require.Len(t, due, 1)
	require.Equal(t, c.lobbyAddr.String(), due[0].Dest)
}

func TestAckReleasesCacheEntryByLogicalDestKey(t *testing.T) {
	c, _ := newWiredTestClient(t)
	c.SubmitIntent(wire.Change{NextX: 1, NextY: 1})
	c.outputTick(time.Now())

	seq := c.outSeq.Load()
	c.mu.Lock()
	destKey := c.destKeyLocked()
	c.mu.Unlock()
	c.cache.Ack(destKey, seq)

	// Probe inside the 10 s cache timeout, where an unacked entry would show.
	require.Empty(t, c.cache.RetryDue(time.Now().Add(time.Second), 0))
}

func TestApplyPendingDrainsQueuedDeltasWhileInGame(t *testing.T) {
	c, _ := newWiredTestClient(t)
	c.game.ResetBare()
	c.inGame.Store(true)
	c.mu.Lock()
	c.pendingDeltas = append(c.pendingDeltas, wire.Change{NextX: 0, NextY: 0, NextTile: 9})
	c.mu.Unlock()

	c.applyPending()

	require.Equal(t, byte(9), c.game.Grid[0][0])
	c.mu.Lock()
	remaining := len(c.pendingDeltas)
	c.mu.Unlock()
	require.Zero(t, remaining)
}

func TestApplyPendingSkipsWhenNotInGame(t *testing.T) {
	c, _ := newWiredTestClient(t)
	c.game.ResetBare()
	c.mu.Lock()
	c.pendingDeltas = append(c.pendingDeltas, wire.Change{NextX: 0, NextY: 0, NextTile: 9})
	c.mu.Unlock()

	c.applyPending()

	c.mu.Lock()
	remaining := len(c.pendingDeltas)
	c.mu.Unlock()
	require.Equal(t, 1, remaining, "deltas must wait until in_game")
}

func TestComputePreferredPrefersGatewayWhenDirectlyAdjacent(t *testing.T) {
	c, _ := newWiredTestClient(t)
	gw := addr(t, "[::9]:1")
	mob := addr(t, "[::8]:1")

	// A directly adjacent gateway (zero hops) wins even against a much
	// closer mobile candidate.
	c.mu.Lock()
	c.gatewayMap["gw"] = neighbor{addr: gw, distance: 30, hops: 0}
	c.mobileMap["n"] = neighbor{addr: mob, distance: 2, hops: 1}
	got := c.computePreferredLocked()
	c.mu.Unlock()

	require.Equal(t, gw.String(), got.String())
}

func TestComputePreferredPrefersCloserMobileNeighbor(t *testing.T) {
	c, _ := newWiredTestClient(t)
	gw := addr(t, "[::9]:1")
	mob := addr(t, "[::8]:1")

	c.mu.Lock()
	c.gatewayMap["gw"] = neighbor{addr: gw, distance: 30, hops: 1}
	c.mobileMap["n"] = neighbor{addr: mob, distance: 8, hops: 2}
	got := c.computePreferredLocked()
	c.mu.Unlock()

	require.Equal(t, mob.String(), got.String(), "8*1.1=8.8 < 30")
}

func TestComputePreferredFallsBackToGatewayWhenNeighborTooFar(t *testing.T) {
	c, _ := newWiredTestClient(t)
	gw := addr(t, "[::9]:1")
	mob := addr(t, "[::8]:1")

	c.mu.Lock()
	c.gatewayMap["gw"] = neighbor{addr: gw, distance: 10, hops: 1}
	c.mobileMap["n"] = neighbor{addr: mob, distance: 9.5, hops: 2}
	got := c.computePreferredLocked()
	c.mu.Unlock()

	require.Equal(t, gw.String(), got.String(), "9.5*1.1=10.45 >= 10")
}

func TestEvictStaleLockedRemovesOldNeighbors(t *testing.T) {
	c, _ := newWiredTestClient(t)
	now := time.Now()

	c.mu.Lock()
	c.mobileMap["stale"] = neighbor{addr: addr(t, "[::8]:1"), lastSeen: now.Add(-20 * time.Second)}
	c.mobileMap["fresh"] = neighbor{addr: addr(t, "[::7]:1"), lastSeen: now}
	c.evictStaleLocked(now)
	_, staleOK := c.mobileMap["stale"]
	_, freshOK := c.mobileMap["fresh"]
	c.mu.Unlock()

	require.False(t, staleOK)
	require.True(t, freshOK)
}

func TestKaliveTickSendsToLobbyInWiredMode(t *testing.T) {
	c, lobbyConn := newWiredTestClient(t)

	c.kaliveTick(time.Now())

	buf := make([]byte, 2048)
	n, _, err := lobbyConn.ReadFrom(buf)
	require.NoError(t, err)
	p, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.Kalive, p.Type)
}

func TestForwardIfNotMineRelaysOtherPlayersTraffic(t *testing.T) {
	c, _ := newWiredTestClient(t)
	c.mobile = true
	now := time.Now()

	dest := net.ParseIP("::5")
	p := &wire.Payload{Type: wire.Actions, PlayerID: "zzzz", SeqNum: 4, TTL: 2, Destination: dest}
	require.True(t, c.forwardIfNotMine(p, now))

	entries := c.cache.DrainUnsent(now)
	require.Len(t, entries, 1)
	require.Equal(t, dest.String(), entries[0].Dest)
	require.Equal(t, byte(1), entries[0].Payload.TTL, "a carrying hop spends one TTL")

	// The original payload is untouched; the relay queued a copy.
	require.Equal(t, byte(2), p.TTL)
}

func TestForwardIfNotMineDropsExhaustedAndKeepsOwnTraffic(t *testing.T) {
	c, _ := newWiredTestClient(t)
	c.mobile = true
	now := time.Now()

	exhausted := &wire.Payload{Type: wire.Actions, PlayerID: "zzzz", TTL: 0}
	require.True(t, c.forwardIfNotMine(exhausted, now))
	require.Empty(t, c.cache.DrainUnsent(now), "expired relays are dropped, not queued")

	mine := &wire.Payload{Type: wire.Actions, PlayerID: c.playerUUID, TTL: 2}
	require.False(t, c.forwardIfNotMine(mine, now))
}

func TestHandleActionsAcksRetransmitWithoutRequeueing(t *testing.T) {
	c, lobbyConn := newWiredTestClient(t)

	p := &wire.Payload{
		Type: wire.Actions, LobbyID: "efgh", PlayerID: "abcd", SeqNum: 1, TTL: wire.InitialTTL,
		Data: wire.EncodeChanges([]wire.Change{{NextX: 1, NextY: 1, NextTile: 3}}),
	}
	c.handleActions(p, c.lobbyAddr)
	c.handleActions(p, c.lobbyAddr)

	c.mu.Lock()
	queued := len(c.pendingDeltas)
	c.mu.Unlock()
	require.Equal(t, 1, queued, "a retransmit must not re-queue its changes")

	buf := make([]byte, 2048)
	for i := 0; i < 2; i++ {
		n, _, err := lobbyConn.ReadFrom(buf)
		require.NoError(t, err)
		ack, err := wire.Decode(buf[:n])
		require.NoError(t, err)
		require.Equal(t, wire.Ack, ack.Type, "both deliveries must be acked")
		require.Equal(t, uint32(1), ack.SeqNum)
	}
}

func TestHandleActionsDropsStaleLowerSeq(t *testing.T) {
	c, _ := newWiredTestClient(t)

	newer := &wire.Payload{
		Type: wire.Actions, SeqNum: 2, TTL: wire.InitialTTL,
		Data: wire.EncodeChanges([]wire.Change{{NextX: 2, NextY: 2, NextTile: 3}}),
	}
	stale := &wire.Payload{
		Type: wire.Actions, SeqNum: 1, TTL: wire.InitialTTL,
		Data: wire.EncodeChanges([]wire.Change{{NextX: 1, NextY: 1, NextTile: 3}}),
	}

	c.handleActions(newer, c.lobbyAddr)
	c.handleActions(stale, c.lobbyAddr)

	c.mu.Lock()
	queued := len(c.pendingDeltas)
	c.mu.Unlock()
	require.Equal(t, 1, queued, "an older delta must never apply after a newer one")
}
