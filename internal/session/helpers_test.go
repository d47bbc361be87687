package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

const (
	alice = models.ParticipantID("alice")
	bob   = models.ParticipantID("bob")
	carol = models.ParticipantID("carol")
	dave  = models.ParticipantID("dave")
)

type fakeOutbox struct {
	mu      sync.Mutex
	offline map[models.ParticipantID]bool
	events  map[models.ParticipantID][]protocol.Event
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{
		offline: make(map[models.ParticipantID]bool),
		events:  make(map[models.ParticipantID][]protocol.Event),
	}
}

func (o *fakeOutbox) Deliver(to models.ParticipantID, ev protocol.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.offline[to] {
		return false
	}
	o.events[to] = append(o.events[to], ev)
	return true
}

func (o *fakeOutbox) Online(id models.ParticipantID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.offline[id]
}

func (o *fakeOutbox) setOnline(id models.ParticipantID, online bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline[id] = !online
}

func (o *fakeOutbox) all(id models.ParticipantID) []protocol.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Event(nil), o.events[id]...)
}

func (o *fakeOutbox) reset(ids ...models.ParticipantID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		delete(o.events, id)
	}
}

func (o *fakeOutbox) types(id models.ParticipantID) []string {
	var out []string
	for _, ev := range o.all(id) {
		out = append(out, ev.Type)
	}
	return out
}

func (o *fakeOutbox) ofType(id models.ParticipantID, evType string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range o.all(id) {
		if ev.Type == evType {
			out = append(out, ev)
		}
	}
	return out
}

func (o *fakeOutbox) last(id models.ParticipantID, evType string) (protocol.Event, bool) {
	evs := o.ofType(id, evType)
	if len(evs) == 0 {
		return protocol.Event{}, false
	}
	return evs[len(evs)-1], true
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []models.ParticipantID
}

func (n *fakeNotifier) NotifyIncomingCall(to, _ models.ParticipantID, _ models.SessionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, to)
}

func (n *fakeNotifier) notified() []models.ParticipantID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.ParticipantID(nil), n.calls...)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *fakeRecorder) Record(ev models.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRecorder) ofType(t models.AuditType) []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	clock    *clock.Mock
	out      *fakeOutbox
	notifier *fakeNotifier
	recorder *fakeRecorder
	core     *Core
	reg      *Registry
}

func testPolicy() Policy {
	return Policy{
		RingTimeout:      30 * time.Second,
		GracePeriod:      10 * time.Second,
		IdleTimeout:      30 * time.Minute,
		GCInterval:       time.Minute,
		TombstoneTTL:     5 * time.Minute,
		MaxQueuedSignals: 8,
		InboxSize:        16,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    clock.NewMock(),
		out:      newFakeOutbox(),
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
	}
	h.core = New(h.out, testPolicy(),
		WithClock(h.clock),
		WithNotifier(h.notifier),
		WithRecorder(h.recorder),
		WithLogger(zerolog.Nop()),
	)
	h.reg = h.core.Registry()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.reg.Close(ctx)
	})
	return h
}

func (h *harness) send(from models.ParticipantID, msgType string, sid models.SessionID, data any) error {
	return h.core.Handle(from, protocol.NewMessage(msgType, sid, data))
}

func (h *harness) mustSend(from models.ParticipantID, msgType string, sid models.SessionID, data any) {
	h.t.Helper()
	require.NoError(h.t, h.send(from, msgType, sid, data))
}

// ringing starts a call from alice to bob and returns its id.
func (h *harness) ringing() models.SessionID {
	h.t.Helper()
	h.mustSend(alice, protocol.TypeInitiate, "", protocol.InitiateData{TargetID: bob})
	ev, ok := h.out.last(alice, protocol.EventSessionCreated)
	require.True(h.t, ok)
	return ev.SessionID
}

// activeCall returns a call between alice and bob in the active status.
func (h *harness) activeCall() models.SessionID {
	h.t.Helper()
	sid := h.ringing()
	h.mustSend(bob, protocol.TypeAccept, sid, nil)
	h.mustSend(alice, protocol.TypeConnected, sid, nil)
	h.mustSend(bob, protocol.TypeConnected, sid, nil)
	h.requireStatus(sid, models.StatusActive)
	return sid
}

func (h *harness) room(sid models.SessionID, members ...models.ParticipantID) {
	h.t.Helper()
	for _, pid := range members {
		h.mustSend(pid, protocol.TypeJoin, sid, nil)
	}
}

func (h *harness) snapshot(sid models.SessionID) models.Session {
	h.t.Helper()
	snap, err := h.reg.GetSession(sid)
	require.NoError(h.t, err)
	return snap
}

func (h *harness) requireStatus(sid models.SessionID, want models.Status) {
	h.t.Helper()
	require.Equal(h.t, want, h.snapshot(sid).Status)
}

func (h *harness) requireGone(sid models.SessionID) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		_, err := h.reg.GetSession(sid)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func (h *harness) errorCodes(id models.ParticipantID) []string {
	var out []string
	for _, ev := range h.out.ofType(id, protocol.EventError) {
		out = append(out, ev.Data.(protocol.Error).Code)
	}
	return out
}

func endedReason(t *testing.T, out *fakeOutbox, id models.ParticipantID) string {
	t.Helper()
	ev, ok := out.last(id, protocol.EventSessionEnded)
	require.True(t, ok, "no session-ended for %s", id)
	return ev.Data.(protocol.SessionEnded).Reason
}
