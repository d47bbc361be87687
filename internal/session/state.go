package session

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
	"github.com/rs/zerolog"

	"github.com/tariel-x/callrelay/internal/metrics"
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

type member struct {
	models.ParticipantState
	// resumePhase is restored when a disconnected member comes back.
	resumePhase models.Phase
	graceTimer  *clock.Timer
	graceGen    uint64
	// held keeps session events that could not reach the member, in order,
	// until its transport is rebound.
	held deque.Deque[protocol.Event]
}

type pairKey struct {
	from models.ParticipantID
	to   models.ParticipantID
}

// sessionState is owned by the session actor goroutine; nothing else reads
// or writes it.
type sessionState struct {
	reg    *Registry
	actor  *actor
	logger zerolog.Logger

	id        models.SessionID
	kind      models.Kind
	status    models.Status
	hostID    models.ParticipantID
	target    models.ParticipantID
	members   map[models.ParticipantID]*member
	order     []models.ParticipantID
	joinSeq   uint64
	createdAt time.Time
	activity  time.Time

	queues map[pairKey]*deque.Deque[protocol.Event]

	ringTimer *clock.Timer
	ringGen   uint64
	idleTimer *clock.Timer
	idleGen   uint64

	closed bool
}

func newSessionState(reg *Registry, a *actor, id models.SessionID, kind models.Kind) *sessionState {
	now := reg.clock.Now()
	s := &sessionState{
		reg:   reg,
		actor: a,
		logger: reg.logger.With().
			Str("session_id", string(id)).
			Str("kind", string(kind)).
			Logger(),
		id:        id,
		kind:      kind,
		status:    models.StatusIdle,
		members:   make(map[models.ParticipantID]*member),
		createdAt: now,
		activity:  now,
		queues:    make(map[pairKey]*deque.Deque[protocol.Event]),
	}
	if kind == models.KindRoom {
		s.status = models.StatusForming
	}
	a.state = s
	s.armIdle()
	return s
}

func (s *sessionState) now() time.Time {
	return s.reg.clock.Now()
}

func (s *sessionState) member(pid models.ParticipantID) *member {
	return s.members[pid]
}

func (s *sessionState) requireMember(pid models.ParticipantID) (*member, error) {
	m := s.members[pid]
	if m == nil {
		return nil, ErrNotAMember
	}
	return m, nil
}

// snapshot copies the state. Participants come out in join order.
func (s *sessionState) snapshot() models.Session {
	out := models.Session{
		ID:             s.id,
		Kind:           s.kind,
		Status:         s.status,
		HostID:         s.hostID,
		Target:         s.target,
		Participants:   make([]models.ParticipantState, 0, len(s.order)),
		CreatedAt:      s.createdAt,
		LastActivityAt: s.activity,
	}
	for _, pid := range s.order {
		out.Participants = append(out.Participants, s.members[pid].ParticipantState)
	}
	return out
}

// touch records activity. The idle timer notices it when it fires.
func (s *sessionState) touch() {
	s.activity = s.now()
}

// send delivers an event. Events for a member that is disconnected, or that
// already has events held, are held for replay on rebind.
func (s *sessionState) send(to models.ParticipantID, evType string, data any) bool {
	ev := protocol.Event{Type: evType, SessionID: s.id, Data: data}
	m := s.members[to]
	if m == nil {
		return s.reg.out.Deliver(to, ev)
	}
	if m.held.Len() == 0 && m.Phase != models.PhaseDisconnectedPending && s.reg.out.Deliver(to, ev) {
		return true
	}
	s.hold(m, ev)
	return false
}

func (s *sessionState) hold(m *member, ev protocol.Event) {
	if m.held.Len() >= s.reg.policy.MaxQueuedSignals {
		metrics.EventsDropped.Inc()
		s.logger.Warn().
			Str("participant_id", string(m.ID)).
			Str("event", ev.Type).
			Msg("held events full, event dropped")
		return
	}
	m.held.PushBack(ev)
}

// replay delivers held events in order, stopping at the first refusal.
func (s *sessionState) replay(m *member) {
	for m.held.Len() > 0 {
		if !s.reg.out.Deliver(m.ID, m.held.Front()) {
			return
		}
		m.held.PopFront()
	}
}

// broadcast sends to every member except the given one, in join order.
func (s *sessionState) broadcast(except models.ParticipantID, evType string, data any) {
	for _, pid := range s.order {
		if pid == except {
			continue
		}
		s.send(pid, evType, data)
	}
}

func (s *sessionState) record(t models.AuditType, pid models.ParticipantID, reason string) {
	s.reg.recorder.Record(models.AuditEvent{
		Type:          t,
		SessionID:     s.id,
		Kind:          s.kind,
		Status:        s.status,
		ParticipantID: pid,
		Reason:        reason,
		At:            s.now(),
	})
}

func (s *sessionState) setStatus(st models.Status) {
	if s.status == st {
		return
	}
	s.logger.Debug().Str("from", string(s.status)).Str("to", string(st)).Msg("status changed")
	s.status = st
	s.record(models.AuditStatusChanged, "", "")
	s.broadcast("", protocol.EventSessionState, protocol.SessionState{Status: st})
}

func (s *sessionState) addMember(pid models.ParticipantID, role models.Role, media models.MediaFlags) *member {
	s.joinSeq++
	m := &member{ParticipantState: models.ParticipantState{
		ID:       pid,
		Role:     role,
		Media:    media,
		Phase:    models.PhaseJoined,
		JoinedAt: s.now(),
		JoinSeq:  s.joinSeq,
	}}
	s.members[pid] = m
	s.order = append(s.order, pid)
	s.reg.members.add(pid, s.id)
	s.record(models.AuditParticipantJoin, pid, "")
	s.logger.Info().Str("participant_id", string(pid)).Str("role", string(role)).Msg("participant joined")
	return m
}

func (s *sessionState) removeMember(pid models.ParticipantID, reason string) {
	m := s.members[pid]
	if m == nil {
		return
	}
	s.stopGrace(m)
	m.Phase = models.PhaseLeft
	delete(s.members, pid)
	for i, id := range s.order {
		if id == pid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dropQueues(pid)
	s.reg.members.remove(pid, s.id)
	s.record(models.AuditParticipantLeave, pid, reason)
	s.logger.Info().Str("participant_id", string(pid)).Str("reason", reason).Msg("participant left")
}

// leave is the single removal path shared by explicit leave, grace expiry
// and registry removal.
func (s *sessionState) leave(pid models.ParticipantID, reason string) error {
	if _, err := s.requireMember(pid); err != nil {
		return err
	}
	if s.kind == models.KindCall && s.status == models.StatusRinging && pid == s.hostID {
		s.finish(models.StatusEnded, ReasonCancelled)
		return nil
	}
	s.removeMember(pid, reason)
	s.broadcast(pid, protocol.EventParticipantLeft, protocol.ParticipantLeft{ParticipantID: pid, Reason: reason})

	switch s.kind {
	case models.KindCall:
		if len(s.members) < 2 {
			s.finish(models.StatusEnded, ReasonPeerLeft)
			return nil
		}
	case models.KindRoom:
		if len(s.members) == 0 {
			s.finish(models.StatusEnded, ReasonEmpty)
			return nil
		}
		if pid == s.hostID {
			s.migrateHost()
		}
	}
	s.touch()
	return nil
}

// finish moves the session to a terminal status, tells everyone involved and
// hands the session back to the registry for reaping.
func (s *sessionState) finish(st models.Status, reason string) {
	if s.closed {
		return
	}
	s.stopTimers()
	s.status = st
	ended := protocol.Event{Type: protocol.EventSessionEnded, SessionID: s.id, Data: protocol.SessionEnded{Reason: reason}}
	// Nothing is replayed once the session is gone, so this goes out directly.
	for _, pid := range s.order {
		s.reg.out.Deliver(pid, ended)
	}
	if s.target != "" && s.reg.invites.has(s.target, s.id) {
		s.reg.out.Deliver(s.target, ended)
	}
	s.record(models.AuditSessionEnded, "", reason)
	metrics.SessionsEnded.WithLabelValues(string(s.kind), reason).Inc()
	s.logger.Info().Str("status", string(st)).Str("reason", reason).Msg("session ended")
	s.closed = true
	s.reg.reap(s)
}

// abort force-ends the session after a panic. It never panics itself.
func (s *sessionState) abort() {
	defer func() {
		if r := recover(); r != nil {
			s.closed = true
			s.reg.reap(s)
		}
	}()
	s.finish(models.StatusEnded, ReasonInternalError)
}

func (s *sessionState) stopTimers() {
	s.stopRing()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleGen++
	for _, m := range s.members {
		s.stopGrace(m)
	}
}

// after schedules fn on the actor. A timer that fires after being stopped
// still posts, so every callback checks its generation first.
func (s *sessionState) after(d time.Duration, fn func(st *sessionState)) *clock.Timer {
	a := s.actor
	return s.reg.clock.AfterFunc(d, func() {
		a.post(func(st *sessionState) error {
			fn(st)
			return nil
		})
	})
}

func (s *sessionState) armRing() {
	s.stopRing()
	gen := s.ringGen
	s.ringTimer = s.after(s.reg.policy.RingTimeout, func(st *sessionState) {
		if st.ringGen != gen || st.status != models.StatusRinging {
			return
		}
		st.logger.Info().Msg("ring timeout")
		st.finish(models.StatusEnded, ReasonTimeout)
	})
}

func (s *sessionState) stopRing() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.ringGen++
}

func (s *sessionState) armIdle() {
	s.armIdleAfter(s.reg.policy.IdleTimeout)
}

func (s *sessionState) armIdleAfter(d time.Duration) {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleGen++
	gen := s.idleGen
	s.idleTimer = s.after(d, func(st *sessionState) {
		if st.idleGen != gen {
			return
		}
		st.expireIdle()
	})
}

// expireIdle ends the session if nothing happened for the idle timeout and
// re-arms the timer for the remainder otherwise. A session whose members are
// all connected and reachable is live even when no messages pass.
func (s *sessionState) expireIdle() {
	if s.closed {
		return
	}
	if s.live() {
		s.touch()
	}
	idle := s.now().Sub(s.activity)
	if idle < s.reg.policy.IdleTimeout {
		s.armIdleAfter(s.reg.policy.IdleTimeout - idle)
		return
	}
	s.logger.Info().Time("last_activity", s.activity).Msg("idle session reaped")
	s.finish(models.StatusEnded, ReasonIdle)
}

func (s *sessionState) live() bool {
	if len(s.members) == 0 {
		return false
	}
	for _, m := range s.members {
		if m.Phase != models.PhaseConnected || !s.reg.out.Online(m.ID) {
			return false
		}
	}
	return true
}

func (s *sessionState) stopGrace(m *member) {
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.graceGen++
}
