package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

func TestRegistryCreateSession(t *testing.T) {
	h := newHarness(t)

	sid, err := h.reg.CreateSession(models.KindCall, alice)
	require.NoError(t, err)
	assert.Len(t, string(sid), sessionIDLength)

	snap := h.snapshot(sid)
	assert.Equal(t, models.StatusIdle, snap.Status)
	assert.Equal(t, alice, snap.HostID)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, models.RoleInitiator, snap.Participants[0].Role)
	assert.Equal(t, models.PhaseJoined, snap.Participants[0].Phase)
	assert.Equal(t, []models.SessionID{sid}, h.reg.SessionsOf(alice))

	rid, err := h.reg.CreateSession(models.KindRoom, bob)
	require.NoError(t, err)
	assert.NotEqual(t, sid, rid)
	assert.Equal(t, models.StatusForming, h.snapshot(rid).Status)

	_, err = h.reg.CreateSession(models.KindRoom, "")
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestRegistryParticipants(t *testing.T) {
	h := newHarness(t)
	sid, err := h.reg.CreateSession(models.KindCall, alice)
	require.NoError(t, err)

	require.NoError(t, h.reg.AddParticipant(sid, bob, models.RoleJoiner))
	require.ErrorIs(t, h.reg.AddParticipant(sid, bob, models.RoleJoiner), ErrAlreadyMember)
	require.ErrorIs(t, h.reg.AddParticipant("missing", bob, models.RoleJoiner), ErrNotFound)
	assert.Equal(t, []models.SessionID{sid}, h.reg.SessionsOf(bob))

	require.ErrorIs(t, h.reg.RemoveParticipant(sid, carol), ErrNotAMember)
	require.NoError(t, h.reg.RemoveParticipant(sid, bob))

	// A call with a single member left ends.
	h.requireGone(sid)
	assert.Empty(t, h.reg.SessionsOf(alice))
	assert.Empty(t, h.reg.SessionsOf(bob))
	assert.True(t, h.reg.Ended(sid))
	_, err = h.reg.GetSession(sid)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryMembershipIndex(t *testing.T) {
	h := newHarness(t)
	h.room("a", alice, bob)
	h.room("b", alice)
	h.room("c", bob)

	assert.Equal(t, []models.SessionID{"a", "b"}, h.reg.SessionsOf(alice))
	assert.Equal(t, []models.SessionID{"a", "c"}, h.reg.SessionsOf(bob))

	h.mustSend(alice, protocol.TypeLeave, "a", nil)
	assert.Equal(t, []models.SessionID{"b"}, h.reg.SessionsOf(alice))

	// Index and membership agree for every live session.
	for _, snap := range h.reg.List("", 0) {
		for _, p := range snap.Participants {
			assert.Contains(t, h.reg.SessionsOf(p.ID), snap.ID)
		}
	}
}

func TestRegistryList(t *testing.T) {
	h := newHarness(t)
	h.room("r1", alice)
	h.clock.Add(time.Second)
	h.ringing()
	h.clock.Add(time.Second)
	h.room("r2", carol)

	rooms := h.reg.List(models.KindRoom, 0)
	require.Len(t, rooms, 2)
	assert.Equal(t, models.SessionID("r1"), rooms[0].ID)
	assert.Equal(t, models.SessionID("r2"), rooms[1].ID)

	assert.Len(t, h.reg.List("", 0), 3)
	assert.Len(t, h.reg.List("", 1), 1)
	assert.Equal(t, 3, h.reg.Len())
}

func TestRegistryIdleReap(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice)

	h.clock.Add(20 * time.Minute)
	require.NoError(t, h.reg.Touch(roomID))

	h.clock.Add(15 * time.Minute)
	a, err := h.reg.lookup(roomID)
	require.NoError(t, err)
	require.NoError(t, a.call(func(s *sessionState) error {
		s.expireIdle()
		return nil
	}))
	h.requireStatus(roomID, models.StatusForming)

	h.clock.Add(15 * time.Minute)
	h.requireGone(roomID)
	assert.Equal(t, ReasonIdle, endedReason(t, h.out, alice))
}

func TestRegistryIdleKeepsLiveCall(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	h.clock.Add(31 * time.Minute)
	a, err := h.reg.lookup(sid)
	require.NoError(t, err)
	require.NoError(t, a.call(func(s *sessionState) error {
		s.expireIdle()
		return nil
	}))
	h.requireStatus(sid, models.StatusActive)
	assert.Empty(t, h.out.ofType(alice, protocol.EventSessionEnded))
	assert.Empty(t, h.out.ofType(bob, protocol.EventSessionEnded))

	// An unreachable member makes the call idle again.
	h.out.setOnline(bob, false)
	h.clock.Add(31 * time.Minute)
	h.requireGone(sid)
	assert.Equal(t, ReasonIdle, endedReason(t, h.out, alice))
}

func TestRegistryPingKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob)

	h.clock.Add(20 * time.Minute)
	h.mustSend(bob, protocol.TypePing, "", nil)
	h.clock.Add(15 * time.Minute)

	a, err := h.reg.lookup(roomID)
	require.NoError(t, err)
	require.NoError(t, a.call(func(s *sessionState) error {
		s.expireIdle()
		return nil
	}))
	h.requireStatus(roomID, models.StatusForming)
	assert.Empty(t, h.errorCodes(bob))

	h.core.Supervisor().Heartbeat(alice)
	assert.WithinDuration(t, h.clock.Now(), h.snapshot(roomID).LastActivityAt, 0)
}

func TestRegistrySweep(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice)
	h.mustSend(alice, protocol.TypeLeave, roomID, nil)
	require.True(t, h.reg.Ended(roomID))

	h.clock.Add(4 * time.Minute)
	h.reg.Sweep()
	assert.True(t, h.reg.Ended(roomID))

	h.clock.Add(time.Minute)
	h.reg.Sweep()
	assert.False(t, h.reg.Ended(roomID))
}

func TestRegistryPanicEndsOnlyThatSession(t *testing.T) {
	h := newHarness(t)
	h.room("broken", alice, bob)
	h.room("healthy", carol, dave)

	a, err := h.reg.lookup("broken")
	require.NoError(t, err)
	err = a.call(func(s *sessionState) error {
		panic("boom")
	})
	require.ErrorIs(t, err, ErrInternal)

	h.requireGone("broken")
	assert.Equal(t, ReasonInternalError, endedReason(t, h.out, alice))
	assert.Equal(t, ReasonInternalError, endedReason(t, h.out, bob))
	assert.Empty(t, h.reg.SessionsOf(alice))

	assert.Len(t, h.snapshot("healthy").Participants, 2)
	h.mustSend(carol, protocol.TypeChat, "healthy", protocol.ChatData{Message: "still here"})
}

func TestRegistryClose(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob)
	sid := h.activeCall()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.reg.Close(ctx))

	assert.Zero(t, h.reg.Len())
	assert.True(t, h.reg.Ended(sid))
	for _, pid := range []models.ParticipantID{alice, bob} {
		assert.Equal(t, ReasonShutdown, endedReason(t, h.out, pid))
	}

	err := h.send(carol, protocol.TypeJoin, "late", nil)
	require.Error(t, err)
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestRegistryRun(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice)
	h.mustSend(alice, protocol.TypeLeave, roomID, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.reg.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.clock.Add(time.Minute)
		return !h.reg.Ended(roomID)
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRegistryAudit(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()
	h.mustSend(alice, protocol.TypeEnd, sid, nil)
	h.requireGone(sid)

	assert.Len(t, h.recorder.ofType(models.AuditSessionCreated), 1)
	assert.Len(t, h.recorder.ofType(models.AuditParticipantJoin), 2)
	ended := h.recorder.ofType(models.AuditSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, ReasonEnded, ended[0].Reason)
	assert.Equal(t, sid, ended[0].SessionID)
}

func TestErrorTaxonomy(t *testing.T) {
	err := errorf(CodeForbidden, "only the host may do that")
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, CodeNotAMember, CodeOf(ErrNotAMember))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}
