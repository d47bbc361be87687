package session

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

func candidate(i int) protocol.SignalData {
	return protocol.SignalData{
		To: bob,
		Payload: protocol.SignalPayload{
			Kind: protocol.SignalICECandidate,
			Data: json.RawMessage(fmt.Sprintf(`{"candidate":"c%d","sdpMLineIndex":0}`, i)),
		},
	}
}

func receivedCandidates(out *fakeOutbox, to models.ParticipantID) []string {
	var got []string
	for _, ev := range out.ofType(to, protocol.EventSignal) {
		got = append(got, string(ev.Data.(protocol.Signal).Payload.Data))
	}
	return got
}

func expectedCandidates(from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, string(candidate(i).Payload.Data))
	}
	return out
}

func TestRelayPreservesOrder(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	for i := 0; i < 50; i++ {
		h.mustSend(alice, protocol.TypeSignal, sid, candidate(i))
	}
	assert.Equal(t, expectedCandidates(0, 50), receivedCandidates(h.out, bob))

	sig, ok := h.out.last(bob, protocol.EventSignal)
	require.True(t, ok)
	assert.Equal(t, alice, sig.Data.(protocol.Signal).FromID)
	assert.Empty(t, h.out.ofType(alice, protocol.EventSignal))
}

func TestRelayOpaquePayload(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	raw := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n"}`)
	h.mustSend(alice, protocol.TypeSignal, sid, protocol.SignalData{
		To:      bob,
		Payload: protocol.SignalPayload{Kind: protocol.SignalOffer, Data: raw},
	})

	sig, ok := h.out.last(bob, protocol.EventSignal)
	require.True(t, ok)
	payload := sig.Data.(protocol.Signal).Payload
	assert.Equal(t, protocol.SignalOffer, payload.Kind)
	assert.JSONEq(t, string(raw), string(payload.Data))
}

func TestRelayRejects(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	offer := protocol.SignalPayload{Kind: protocol.SignalOffer}
	require.ErrorIs(t, h.send(carol, protocol.TypeSignal, sid, protocol.SignalData{To: bob, Payload: offer}), ErrNotAMember)
	require.ErrorIs(t, h.send(alice, protocol.TypeSignal, sid, protocol.SignalData{To: carol, Payload: offer}), ErrNotAMember)
	require.ErrorIs(t, h.send(alice, protocol.TypeSignal, sid, protocol.SignalData{To: alice, Payload: offer}), ErrBadRequest)
	require.ErrorIs(t, h.send(alice, protocol.TypeSignal, sid, protocol.SignalData{
		To:      bob,
		Payload: protocol.SignalPayload{Kind: "renegotiate"},
	}), ErrBadRequest)

	assert.Empty(t, h.out.ofType(bob, protocol.EventSignal))
	h.requireStatus(sid, models.StatusActive)
}

func TestRelayBroadcastInRoom(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob, carol)

	h.mustSend(bob, protocol.TypeSignal, roomID, protocol.SignalData{
		Payload: protocol.SignalPayload{Kind: protocol.SignalOffer, Data: json.RawMessage(`{}`)},
	})

	assert.Len(t, h.out.ofType(alice, protocol.EventSignal), 1)
	assert.Len(t, h.out.ofType(carol, protocol.EventSignal), 1)
	assert.Empty(t, h.out.ofType(bob, protocol.EventSignal))
}

func TestRelayQueuesWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	h.out.setOnline(bob, false)
	h.core.Supervisor().Disconnected(bob)

	for i := 0; i < 5; i++ {
		h.mustSend(alice, protocol.TypeSignal, sid, candidate(i))
	}
	assert.Empty(t, receivedCandidates(h.out, bob))

	h.out.setOnline(bob, true)
	h.core.Supervisor().Connected(bob)
	h.mustSend(alice, protocol.TypeSignal, sid, candidate(5))

	assert.Equal(t, expectedCandidates(0, 6), receivedCandidates(h.out, bob))
}

func TestRelayQueueAfterFailedDelivery(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	// bob's channel refuses deliveries but the supervisor has not been told yet.
	h.out.setOnline(bob, false)
	h.mustSend(alice, protocol.TypeSignal, sid, candidate(0))
	h.out.setOnline(bob, true)
	// A queued pair keeps later signals behind the earlier one.
	h.mustSend(alice, protocol.TypeSignal, sid, candidate(1))
	assert.Empty(t, receivedCandidates(h.out, bob))

	h.core.Supervisor().Connected(bob)
	assert.Equal(t, expectedCandidates(0, 2), receivedCandidates(h.out, bob))
}

func TestRelayQueueCap(t *testing.T) {
	h := newHarness(t)
	sid := h.activeCall()

	h.out.setOnline(bob, false)
	h.core.Supervisor().Disconnected(bob)
	for i := 0; i < 12; i++ {
		h.mustSend(alice, protocol.TypeSignal, sid, candidate(i))
	}

	h.out.setOnline(bob, true)
	h.core.Supervisor().Connected(bob)
	assert.Equal(t, expectedCandidates(0, testPolicy().MaxQueuedSignals), receivedCandidates(h.out, bob))
}

func TestRelayDropsQueuesOfLeaver(t *testing.T) {
	h := newHarness(t)
	h.room(roomID, alice, bob, carol)

	h.out.setOnline(carol, false)
	h.core.Supervisor().Disconnected(carol)
	h.mustSend(alice, protocol.TypeSignal, roomID, protocol.SignalData{
		To:      carol,
		Payload: protocol.SignalPayload{Kind: protocol.SignalOffer},
	})

	a, err := h.reg.lookup(roomID)
	require.NoError(t, err)
	queued := func() int {
		var n int
		require.NoError(t, a.call(func(s *sessionState) error {
			n = len(s.queues)
			return nil
		}))
		return n
	}
	assert.Equal(t, 1, queued())

	h.mustSend(alice, protocol.TypeLeave, roomID, nil)
	assert.Equal(t, 0, queued())
}
