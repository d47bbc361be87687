package session

import (
	"github.com/tariel-x/callrelay/internal/metrics"
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

// Supervisor turns transport up/down events into session membership
// decisions. A lost transport is not a leave until the grace period runs out.
type Supervisor struct {
	reg *Registry
}

func NewSupervisor(reg *Registry) *Supervisor {
	return &Supervisor{reg: reg}
}

// Connected is called when pid gets a live transport. Every session it is
// in rebinds it and flushes buffered signals; ringing calls addressed to it
// ring again.
func (sv *Supervisor) Connected(pid models.ParticipantID) {
	for _, sid := range sv.reg.members.sessions(pid) {
		sv.dispatch(sid, func(s *sessionState) error {
			s.rebind(pid)
			return nil
		})
	}
	for _, sid := range sv.reg.invites.sessions(pid) {
		sv.dispatch(sid, func(s *sessionState) error {
			if s.target == pid {
				s.invite()
			}
			return nil
		})
	}
}

// Disconnected is called when the transport of pid goes away.
func (sv *Supervisor) Disconnected(pid models.ParticipantID) {
	for _, sid := range sv.reg.members.sessions(pid) {
		sv.dispatch(sid, func(s *sessionState) error {
			s.transportLost(pid)
			return nil
		})
	}
}

// Heartbeat records transport liveness of pid in every session it is in, so
// a call whose media flows peer to peer is not taken for idle.
func (sv *Supervisor) Heartbeat(pid models.ParticipantID) {
	for _, sid := range sv.reg.members.sessions(pid) {
		sv.dispatch(sid, func(s *sessionState) error {
			if s.member(pid) != nil {
				s.touch()
			}
			return nil
		})
	}
}

func (sv *Supervisor) dispatch(sid models.SessionID, fn opFunc) {
	a, err := sv.reg.lookup(sid)
	if err != nil {
		return
	}
	_ = a.call(fn)
}

func (s *sessionState) transportLost(pid models.ParticipantID) {
	m := s.member(pid)
	if m == nil || m.Phase == models.PhaseDisconnectedPending {
		return
	}
	// A replacement connection may already be up.
	if s.reg.out.Online(pid) {
		return
	}
	m.resumePhase = m.Phase
	m.Phase = models.PhaseDisconnectedPending
	s.logger.Info().Str("participant_id", string(pid)).Msg("participant disconnected, grace period started")
	s.broadcast(pid, protocol.EventParticipantReconnecting, protocol.ParticipantPresence{ParticipantID: pid})

	s.stopGrace(m)
	gen := m.graceGen
	m.graceTimer = s.after(s.reg.policy.GracePeriod, func(st *sessionState) {
		cur := st.member(pid)
		if cur == nil || cur.graceGen != gen || cur.Phase != models.PhaseDisconnectedPending {
			return
		}
		metrics.Reconnects.WithLabelValues("expired").Inc()
		st.logger.Info().Str("participant_id", string(pid)).Msg("grace period expired")
		_ = st.leave(pid, ReasonDisconnectTimeout)
	})
}

// rebind reattaches pid to its existing state after a reconnect. Peers only
// see the reconnected notice, never a leave and join. The member gets a fresh
// snapshot, then the events it missed, then the buffered signals.
func (s *sessionState) rebind(pid models.ParticipantID) {
	m := s.member(pid)
	if m == nil {
		return
	}
	if m.Phase == models.PhaseDisconnectedPending {
		s.stopGrace(m)
		m.Phase = m.resumePhase
		metrics.Reconnects.WithLabelValues("resumed").Inc()
		s.logger.Info().Str("participant_id", string(pid)).Msg("participant reconnected")
		s.broadcast(pid, protocol.EventParticipantReconnected, protocol.ParticipantPresence{ParticipantID: pid})
	}
	// The snapshot goes ahead of anything held.
	s.reg.out.Deliver(pid, s.snapshotEvent(pid, true))
	s.replay(m)
	s.flush(pid)
	s.touch()
}
