package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

func TestSupervisorReconnectWithinGrace(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob, carol)
	h.mustSend(bob, protocol.TypeConnected, roomID, nil)
	h.out.reset(alice, bob, carol)

	h.out.setOnline(bob, false)
	h.core.Supervisor().Disconnected(bob)

	snap := h.snapshot(roomID)
	p, ok := snap.Participant(bob)
	require.True(t, ok)
	assert.Equal(t, models.PhaseDisconnectedPending, p.Phase)
	assert.Equal(t, []string{protocol.EventParticipantReconnecting}, h.out.types(alice))
	assert.Equal(t, []string{protocol.EventParticipantReconnecting}, h.out.types(carol))

	h.clock.Add(9 * time.Second)
	h.out.setOnline(bob, true)
	h.core.Supervisor().Connected(bob)

	h.clock.Add(time.Minute)

	snap = h.snapshot(roomID)
	require.Len(t, snap.Participants, 3)
	p, ok = snap.Participant(bob)
	require.True(t, ok)
	assert.Equal(t, models.PhaseConnected, p.Phase)
	assert.Equal(t, uint64(2), p.JoinSeq)

	for _, pid := range []models.ParticipantID{alice, carol} {
		assert.Equal(t, []string{
			protocol.EventParticipantReconnecting,
			protocol.EventParticipantReconnected,
		}, h.out.types(pid))
	}

	joined, ok := h.out.last(bob, protocol.EventSessionJoined)
	require.True(t, ok)
	assert.True(t, joined.Data.(protocol.SessionJoined).IsReconnect)
}

func TestSupervisorGraceExpiry(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob, carol)
	h.out.reset(alice)

	h.out.setOnline(bob, false)
	h.core.Supervisor().Disconnected(bob)
	h.clock.Add(10 * time.Second)

	require.Eventually(t, func() bool {
		snap, err := h.reg.GetSession(roomID)
		return err == nil && snap.ParticipantsCount() == 2
	}, time.Second, 5*time.Millisecond)

	left, ok := h.out.last(alice, protocol.EventParticipantLeft)
	require.True(t, ok)
	assert.Equal(t, protocol.ParticipantLeft{ParticipantID: bob, Reason: ReasonDisconnectTimeout}, left.Data)
	assert.Empty(t, h.reg.SessionsOf(bob))

	// A late reconnect finds nothing to rebind.
	h.out.reset(bob)
	h.out.setOnline(bob, true)
	h.core.Supervisor().Connected(bob)
	assert.Empty(t, h.out.ofType(bob, protocol.EventSessionJoined))

	// Joining again is a fresh join with a new sequence number.
	h.mustSend(bob, protocol.TypeJoin, roomID, nil)
	joined, ok := h.out.last(bob, protocol.EventSessionJoined)
	require.True(t, ok)
	assert.False(t, joined.Data.(protocol.SessionJoined).IsReconnect)

	assert.Equal(t, []string{
		protocol.EventParticipantReconnecting,
		protocol.EventParticipantLeft,
		protocol.EventParticipantJoined,
		protocol.EventStartNegotiation,
	}, h.out.types(alice))
	pj, ok := h.out.last(alice, protocol.EventParticipantJoined)
	require.True(t, ok)
	assert.Equal(t, bob, pj.Data.(protocol.ParticipantJoined).Participant.ID)
	assert.Equal(t, uint64(4), pj.Data.(protocol.ParticipantJoined).Participant.JoinSeq)
	assert.Len(t, h.snapshot(roomID).Participants, 3)
}

func TestSupervisorInitiatorMissesAccept(t *testing.T) {
	h := newHarness(t)
	sid := h.ringing()

	h.out.setOnline(alice, false)
	h.core.Supervisor().Disconnected(alice)
	h.out.reset(alice)

	h.mustSend(bob, protocol.TypeAccept, sid, nil)
	assert.Empty(t, h.out.all(alice))

	h.out.setOnline(alice, true)
	h.core.Supervisor().Connected(alice)

	assert.Equal(t, []string{
		protocol.EventSessionJoined,
		protocol.EventSessionState,
		protocol.EventCallAccepted,
		protocol.EventSessionState,
		protocol.EventStartNegotiation,
	}, h.out.types(alice))

	joined, ok := h.out.last(alice, protocol.EventSessionJoined)
	require.True(t, ok)
	data := joined.Data.(protocol.SessionJoined)
	assert.True(t, data.IsReconnect)
	assert.Equal(t, models.StatusConnecting, data.Session.Status)

	neg, ok := h.out.last(alice, protocol.EventStartNegotiation)
	require.True(t, ok)
	assert.Equal(t, protocol.StartNegotiation{PeerID: bob, IsOfferer: true}, neg.Data)
	snap := h.snapshot(sid)
	p, ok := snap.Participant(alice)
	require.True(t, ok)
	assert.Equal(t, models.PhaseNegotiating, p.Phase)
	assert.Len(t, h.out.ofType(bob, protocol.EventParticipantReconnected), 1)

	h.mustSend(alice, protocol.TypeConnected, sid, nil)
	h.mustSend(bob, protocol.TypeConnected, sid, nil)
	h.requireStatus(sid, models.StatusActive)
}

func TestSupervisorPendingMemberMissesRoomJoin(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob)

	h.out.setOnline(bob, false)
	h.core.Supervisor().Disconnected(bob)
	h.out.reset(bob)

	h.mustSend(carol, protocol.TypeJoin, roomID, nil)
	assert.Empty(t, h.out.all(bob))

	h.out.setOnline(bob, true)
	h.core.Supervisor().Connected(bob)

	assert.Equal(t, []string{
		protocol.EventSessionJoined,
		protocol.EventParticipantJoined,
		protocol.EventStartNegotiation,
	}, h.out.types(bob))
	pj, ok := h.out.last(bob, protocol.EventParticipantJoined)
	require.True(t, ok)
	assert.Equal(t, carol, pj.Data.(protocol.ParticipantJoined).Participant.ID)
	neg, ok := h.out.last(bob, protocol.EventStartNegotiation)
	require.True(t, ok)
	assert.Equal(t, protocol.StartNegotiation{PeerID: carol, IsOfferer: false}, neg.Data)

	// Nothing is replayed twice.
	h.out.reset(bob)
	h.core.Supervisor().Connected(bob)
	assert.Equal(t, []string{protocol.EventSessionJoined}, h.out.types(bob))
}

func TestSupervisorHeldEventsCap(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob)

	h.out.setOnline(bob, false)
	h.core.Supervisor().Disconnected(bob)
	h.out.reset(bob)
	for i := 0; i < 12; i++ {
		h.mustSend(alice, protocol.TypeChat, roomID, protocol.ChatData{Message: "hello"})
	}

	h.out.setOnline(bob, true)
	h.core.Supervisor().Connected(bob)
	assert.Len(t, h.out.ofType(bob, protocol.EventChatMessage), testPolicy().MaxQueuedSignals)
}

func TestSupervisorGraceExpiryEndsCall(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	h.out.setOnline(alice, false)
	h.core.Supervisor().Disconnected(alice)
	h.clock.Add(10 * time.Second)

	h.requireGone(sid)
	assert.Equal(t, ReasonPeerLeft, endedReason(t, h.out, bob))
}

func TestSupervisorInitiatorLostWhileRinging(t *testing.T) {
	h := newHarness(t)
	sid := h.ringing()

	h.out.setOnline(alice, false)
	h.core.Supervisor().Disconnected(alice)
	h.clock.Add(10 * time.Second)

	h.requireGone(sid)
	assert.Equal(t, ReasonCancelled, endedReason(t, h.out, bob))
}

func TestSupervisorIgnoresReplacedConnection(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob)
	h.out.reset(alice)

	// bob is still online through a newer connection.
	h.core.Supervisor().Disconnected(bob)

	snap := h.snapshot(roomID)
	p, ok := snap.Participant(bob)
	require.True(t, ok)
	assert.NotEqual(t, models.PhaseDisconnectedPending, p.Phase)
	assert.Empty(t, h.out.all(alice))
}

func TestSupervisorRepeatedDisconnect(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob)
	h.out.reset(alice)

	h.out.setOnline(bob, false)
	h.core.Supervisor().Disconnected(bob)
	h.clock.Add(5 * time.Second)
	h.core.Supervisor().Disconnected(bob)

	assert.Len(t, h.out.ofType(alice, protocol.EventParticipantReconnecting), 1)

	// The grace period still counts from the first loss.
	h.clock.Add(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(h.reg.SessionsOf(bob)) == 0
	}, time.Second, 5*time.Millisecond)
}
