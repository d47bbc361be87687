package session

import (
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

// ring moves a fresh call from idle to ringing and invites target.
func (s *sessionState) ring(initiator, target models.ParticipantID) error {
	if s.kind != models.KindCall || s.status != models.StatusIdle {
		return errorf(CodeBadRequest, "session %s cannot ring", s.id)
	}
	s.target = target
	s.reg.invites.add(target, s.id)
	s.send(initiator, protocol.EventSessionCreated, protocol.SessionCreated{Kind: s.kind, TargetID: target})
	s.setStatus(models.StatusRinging)
	s.invite()
	s.armRing()
	s.touch()
	return nil
}

// invite (re)sends incoming-call to the target, falling back to a push
// notification when it has no live channel.
func (s *sessionState) invite() {
	if s.status != models.StatusRinging {
		return
	}
	if !s.send(s.target, protocol.EventIncomingCall, protocol.IncomingCall{FromID: s.hostID}) {
		s.logger.Debug().Str("participant_id", string(s.target)).Msg("call target offline")
		s.reg.notifier.NotifyIncomingCall(s.target, s.hostID, s.id)
	}
}

func (s *sessionState) accept(from models.ParticipantID, media models.MediaFlags) error {
	if s.kind != models.KindCall || s.status != models.StatusRinging || from != s.target {
		return errorf(CodeNotFound, "no ringing call %s for %s", s.id, from)
	}
	s.stopRing()
	s.reg.invites.remove(s.target, s.id)
	s.addMember(from, models.RoleJoiner, media)
	s.setStatus(models.StatusAccepted)
	s.send(s.hostID, protocol.EventCallAccepted, protocol.CallAccepted{ByID: from})

	s.setStatus(models.StatusConnecting)
	s.negotiate(s.members[s.hostID], s.members[from])
	s.touch()
	return nil
}

func (s *sessionState) decline(from models.ParticipantID) error {
	if s.kind != models.KindCall || s.status != models.StatusRinging || from != s.target {
		return errorf(CodeNotFound, "no ringing call %s for %s", s.id, from)
	}
	s.send(s.hostID, protocol.EventCallDeclined, protocol.CallDeclined{ByID: from})
	s.finish(models.StatusEnded, ReasonDeclined)
	return nil
}

func (s *sessionState) cancel(from models.ParticipantID) error {
	if s.kind != models.KindCall || s.status != models.StatusRinging {
		return errorf(CodeNotFound, "no ringing call %s", s.id)
	}
	if from != s.hostID {
		return ErrForbidden
	}
	s.finish(models.StatusEnded, ReasonCancelled)
	return nil
}

// negotiate tells both sides of a pair to start WebRTC negotiation and who
// sends the offer.
func (s *sessionState) negotiate(a, b *member) {
	aOffers := IsOfferer(s.kind, a.JoinSeq, b.JoinSeq)
	s.send(a.ID, protocol.EventStartNegotiation, protocol.StartNegotiation{PeerID: b.ID, IsOfferer: aOffers})
	s.send(b.ID, protocol.EventStartNegotiation, protocol.StartNegotiation{PeerID: a.ID, IsOfferer: !aOffers})
	for _, m := range []*member{a, b} {
		switch {
		case m.Phase == models.PhaseJoined:
			m.Phase = models.PhaseNegotiating
		case m.Phase == models.PhaseDisconnectedPending && m.resumePhase == models.PhaseJoined:
			m.resumePhase = models.PhaseNegotiating
		}
	}
}

// connected records a successful peer connection report.
func (s *sessionState) connected(from models.ParticipantID) error {
	m, err := s.requireMember(from)
	if err != nil {
		return err
	}
	switch s.kind {
	case models.KindCall:
		switch s.status {
		case models.StatusConnecting, models.StatusActive:
		default:
			return errorf(CodeNotFound, "call %s is not negotiating", s.id)
		}
		m.Phase = models.PhaseConnected
		if s.status == models.StatusConnecting && s.allConnected() {
			s.setStatus(models.StatusActive)
		}
	case models.KindRoom:
		m.Phase = models.PhaseConnected
		if s.status == models.StatusForming && len(s.members) >= 2 {
			s.setStatus(models.StatusActive)
		}
	}
	s.touch()
	return nil
}

func (s *sessionState) allConnected() bool {
	if len(s.members) < 2 {
		return false
	}
	for _, m := range s.members {
		if m.Phase != models.PhaseConnected {
			return false
		}
	}
	return true
}

// failed handles a negotiation failure report. A call fails as a whole; in
// a room only the affected peer is told.
func (s *sessionState) failed(from, peer models.ParticipantID, reason string) error {
	if reason == "" {
		reason = ErrNegotiationFailed.Message
	}
	notice := protocol.Error{Code: string(CodeNegotiationFailed), Message: reason}

	if s.kind == models.KindCall {
		invited := s.status == models.StatusRinging && from == s.target
		if s.member(from) == nil && !invited {
			return ErrNotAMember
		}
		s.logger.Warn().Str("participant_id", string(from)).Str("reason", reason).Msg("call negotiation failed")
		for _, pid := range s.order {
			if pid != from {
				s.send(pid, protocol.EventError, notice)
			}
		}
		s.finish(models.StatusFailed, ReasonNegotiationFailed)
		return nil
	}

	if _, err := s.requireMember(from); err != nil {
		return err
	}
	if peer != "" {
		if s.member(peer) == nil {
			return ErrNotAMember
		}
		s.send(peer, protocol.EventError, notice)
	} else {
		s.broadcast(from, protocol.EventError, notice)
	}
	s.touch()
	return nil
}

// end terminates the session. Any call member may end a call; a room can
// only be ended by its host.
func (s *sessionState) end(from models.ParticipantID) error {
	if _, err := s.requireMember(from); err != nil {
		return err
	}
	if s.kind == models.KindRoom {
		if from != s.hostID {
			return ErrForbidden
		}
		s.finish(models.StatusEnded, ReasonHostEnded)
		return nil
	}
	if s.status == models.StatusRinging {
		s.finish(models.StatusEnded, ReasonCancelled)
		return nil
	}
	s.finish(models.StatusEnded, ReasonEnded)
	return nil
}
