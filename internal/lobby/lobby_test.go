package lobby

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bomberdude/internal/gamestate"
	"bomberdude/internal/testutil"
	"bomberdude/internal/wire"
)

func addr(t *testing.T, s string) net.Addr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp6", s)
	require.NoError(t, err)
	return a
}

func newTestLobby(t *testing.T, capacity int) (*Lobby, *testutil.PacketConn) {
	t.Helper()
	memberConn, lobbyConn, err := testutil.NewPacketConnPair("[::2]:4000", "[::1]:9999")
	require.NoError(t, err)
	l := NewWithConn("lobby-1", lobbyConn, capacity, 10*time.Second, time.Second)
	return l, memberConn
}

func TestAddPlayerAssignsSequentialSlotsAndRejectsWhenFull(t *testing.T) {
	l, _ := newTestLobby(t, 2)

	id1, ok1 := l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	require.True(t, ok1)
	require.Equal(t, 1, id1)
	require.Equal(t, Waiting, l.Phase())

	id2, ok2 := l.AddPlayer("uuid-2", addr(t, "[::3]:4000"))
	require.True(t, ok2)
	require.Equal(t, 2, id2)

	// Capacity reached: beginStarting must have fired.
	require.Equal(t, Starting, l.Phase())
	require.Equal(t, 2, l.MemberCount())

	_, ok3 := l.AddPlayer("uuid-3", addr(t, "[::4]:4000"))
	require.False(t, ok3, "lobby is no longer Waiting, must reject")
}

func TestBeginStartingSeedsAuthoritativeRandomBoard(t *testing.T) {
	l, _ := newTestLobby(t, 1)

	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))

	require.Equal(t, Starting, l.Phase())
	require.NotNil(t, l.game.Boxes, "Reset (not ResetBare) must seed a box layout server-side")
	require.NotZero(t, l.startedAt)
}

func TestMemberByUUIDFindsAdmittedConnection(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	id, ok := l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	require.True(t, ok)

	l.mu.Lock()
	c := l.memberByUUID("uuid-1")
	l.mu.Unlock()

	require.NotNil(t, c)
	require.Equal(t, id, c.ID)

	l.mu.Lock()
	missing := l.memberByUUID("nope")
	l.mu.Unlock()
	require.Nil(t, missing)
}

func TestCoalesceLockedStampsIncreasingSeqAndQueuesToCache(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))

	l.mu.Lock()
	l.outNext[1] = append(l.outNext[1], wire.Change{NextX: 1, NextY: 1, NextTile: 5})
	l.mu.Unlock()

	now := time.Now()
	l.coalesceLocked(now)

	entries := l.cache.DrainUnsent(now)
	require.Len(t, entries, 1)
	require.Equal(t, wire.Actions, entries[0].Payload.Type)
	require.Equal(t, uint32(1), entries[0].Payload.SeqNum)

	l.mu.Lock()
	_, stillQueued := l.outNext[1]
	l.mu.Unlock()
	require.False(t, stillQueued, "coalesced deltas must be cleared from outNext")
}

func TestOutboundTickDeliversToMember(t *testing.T) {
	l, memberConn := newTestLobby(t, 4)
	// Wire identifiers are at most 4 bytes, like the server's short uuids.
	l.AddPlayer("uid1", addr(t, "[::2]:4000"))

	l.mu.Lock()
	l.outNext[1] = append(l.outNext[1], wire.Change{NextX: 2, NextY: 2, NextTile: 9})
	l.mu.Unlock()

	l.outboundTick(time.Now())

	buf := make([]byte, 2048)
	n, _, err := memberConn.ReadFrom(buf)
	require.NoError(t, err)
	p, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.Actions, p.Type)
	require.Equal(t, "uid1", p.PlayerID)
}

func TestHandleActionsInWaitingOnlyAcksWithoutApplying(t *testing.T) {
	l, memberConn := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))

	p := &wire.Payload{
		Type:     wire.Actions,
		LobbyID:  l.ID,
		PlayerID: "uuid-1",
		SeqNum:   1,
		TTL:      wire.InitialTTL,
		Data:     wire.EncodeChanges([]wire.Change{{NextX: 1, NextY: 1}}),
	}
	l.handleInbound(p, addr(t, "[::2]:4000"), time.Now())

	require.Empty(t, l.inbound, "Waiting phase must not enqueue intents")

	buf := make([]byte, 2048)
	n, _, err := memberConn.ReadFrom(buf)
	require.NoError(t, err)
	ack, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.Ack, ack.Type)
	require.Equal(t, uint32(1), ack.SeqNum)
}

func TestHandleActionsInGameEnqueuesIntentAndAcks(t *testing.T) {
	l, memberConn := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	l.mu.Lock()
	l.phase = InGame
	l.mu.Unlock()

	p := &wire.Payload{
		Type:     wire.Actions,
		LobbyID:  l.ID,
		PlayerID: "uuid-1",
		SeqNum:   1,
		TTL:      wire.InitialTTL,
		Data:     wire.EncodeChanges([]wire.Change{{NextX: 1, NextY: 1}}),
	}
	l.handleInbound(p, addr(t, "[::2]:4000"), time.Now())

	require.Len(t, l.inbound, 1)
	require.Equal(t, 1, l.inbound[0].PlayerID)

	buf := make([]byte, 2048)
	_, _, err := memberConn.ReadFrom(buf)
	require.NoError(t, err, "in-game ACTIONS must still be acked")
}

func TestHandleActionsStaleSeqReAcksWithoutReapplying(t *testing.T) {
	l, memberConn := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	l.mu.Lock()
	l.phase = InGame
	l.mu.Unlock()

	first := &wire.Payload{
		Type: wire.Actions, LobbyID: l.ID, PlayerID: "uuid-1", SeqNum: 5, TTL: wire.InitialTTL,
		Data: wire.EncodeChanges([]wire.Change{{NextX: 1, NextY: 1}}),
	}
	l.handleInbound(first, addr(t, "[::2]:4000"), time.Now())
	buf := make([]byte, 2048)
	memberConn.ReadFrom(buf) // drain first ack

	stale := &wire.Payload{
		Type: wire.Actions, LobbyID: l.ID, PlayerID: "uuid-1", SeqNum: 5, TTL: wire.InitialTTL,
		Data: wire.EncodeChanges([]wire.Change{{NextX: 2, NextY: 2}}),
	}
	l.handleInbound(stale, addr(t, "[::2]:4000"), time.Now())

	require.Len(t, l.inbound, 1, "duplicate/stale seq must not enqueue a second intent")

	n, _, err := memberConn.ReadFrom(buf)
	require.NoError(t, err)
	ack, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.Ack, ack.Type, "stale ACTIONS must still be re-acked")
}

func TestTickDrainsAndAppliesQueuedIntents(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	l.AddPlayer("uuid-2", addr(t, "[::3]:4000"))
	l.mu.Lock()
	l.phase = InGame
	l.game.ResetBare()
	l.game.Players[1].Pos = gamestate.IntPoint{X: 1, Y: 1}
	l.mu.Unlock()

	l.mu.Lock()
	l.inbound = append(l.inbound, gamestate.Intent{PlayerID: 1, Change: wire.Change{}})
	l.mu.Unlock()

	l.tick(time.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Empty(t, l.inbound, "tick must drain queued intents")
}

func TestTickNoopWhenNotInGame(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))

	l.mu.Lock()
	l.inbound = append(l.inbound, gamestate.Intent{PlayerID: 1, Change: wire.Change{}})
	l.mu.Unlock()

	l.tick(time.Now())

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.inbound, 1, "tick must not run outside InGame")
}

func TestCheckEndLockedEndsMatchWithOneOrZeroSurvivors(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.mu.Lock()
	l.game.ResetBare()
	for id, p := range l.game.Players {
		p.Alive = id == 1
	}
	l.phase = InGame
	l.checkEndLocked()
	phase := l.phase
	l.mu.Unlock()

	require.Equal(t, Ended, phase)
}

func TestCheckEndLockedContinuesWithMultipleSurvivors(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.mu.Lock()
	l.game.ResetBare()
	l.phase = InGame
	l.checkEndLocked()
	phase := l.phase
	l.mu.Unlock()

	require.Equal(t, InGame, phase, "all four spawn points start alive")
}

func TestKeepaliveTickPurgesTimedOutConnectionsWhileWaiting(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))

	l.keepaliveTick(time.Now().Add(time.Hour))

	require.Zero(t, l.MemberCount())
}

func TestKeepaliveTickSendsToEveryMember(t *testing.T) {
	l, memberConn := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))

	l.keepaliveTick(time.Now())

	buf := make([]byte, 2048)
	n, _, err := memberConn.ReadFrom(buf)
	require.NoError(t, err)
	p, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.Kalive, p.Type)
}

func TestReapLockedMarksDeathDuringInGame(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	id, _ := l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	l.mu.Lock()
	l.phase = InGame
	l.game.ResetBare()
	c := l.members[id]
	l.reapLocked(c, time.Now())
	p := l.game.Players[id]
	l.mu.Unlock()

	require.False(t, p.Alive)
	require.NotContains(t, l.members, id)
}

func TestPortReturnsBoundUDPPort(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	require.Equal(t, 9999, l.Port())
}

func TestTickTerminatesLobbyWhenMatchEnds(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	l.mu.Lock()
	l.phase = InGame
	l.game.ResetBare()
	for id, p := range l.game.Players {
		p.Alive = id == 1
	}
	l.mu.Unlock()

	l.tick(time.Now())

	require.Equal(t, Ended, l.Phase())
	select {
	case <-l.terminate:
	default:
		t.Fatal("an ended match must schedule its own termination")
	}
}

func TestKeepaliveTickPurgesIdleConnectionsAfterMatchEnd(t *testing.T) {
	l, _ := newTestLobby(t, 4)
	l.AddPlayer("uuid-1", addr(t, "[::2]:4000"))
	l.mu.Lock()
	l.phase = Ended
	l.mu.Unlock()

	l.keepaliveTick(time.Now().Add(time.Hour))

	require.Zero(t, l.MemberCount(), "a member that went silent after the match must still be reaped")
	select {
	case <-l.terminate:
	default:
		t.Fatal("an empty ended lobby must terminate")
	}
}
