package session

import (
	"strings"

	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

// join admits from into a room. The first participant of a new room becomes
// its host. A repeated join only re-sends the snapshot.
func (s *sessionState) join(from models.ParticipantID, media models.MediaFlags) error {
	if s.kind != models.KindRoom {
		return errorf(CodeBadRequest, "session %s is not a room", s.id)
	}
	if s.member(from) != nil {
		s.sendSnapshot(from, false)
		return ErrAlreadyMember
	}

	first := len(s.members) == 0
	newcomer := s.addMember(from, defaultRole(s.kind, first), media)
	if first {
		s.hostID = from
	}
	s.sendSnapshot(from, false)
	s.broadcast(from, protocol.EventParticipantJoined, protocol.ParticipantJoined{Participant: newcomer.ParticipantState})

	for _, pid := range s.order {
		if pid == from {
			continue
		}
		s.negotiate(newcomer, s.members[pid])
	}
	s.touch()
	return nil
}

func (s *sessionState) sendSnapshot(to models.ParticipantID, reconnect bool) {
	ev := s.snapshotEvent(to, reconnect)
	s.send(to, ev.Type, ev.Data)
}

func (s *sessionState) snapshotEvent(to models.ParticipantID, reconnect bool) protocol.Event {
	return protocol.Event{
		Type:      protocol.EventSessionJoined,
		SessionID: s.id,
		Data: protocol.SessionJoined{
			Session:     s.snapshot(),
			IsHost:      to == s.hostID,
			IsReconnect: reconnect,
		},
	}
}

func (s *sessionState) migrateHost() {
	if len(s.order) == 0 {
		return
	}
	next := s.members[s.order[0]]
	next.Role = models.RoleHost
	s.hostID = next.ID
	s.logger.Info().Str("participant_id", string(next.ID)).Msg("host changed")
	s.broadcast("", protocol.EventHostChanged, protocol.HostChanged{HostID: next.ID})
}

func (s *sessionState) toggleMedia(from models.ParticipantID, mt models.MediaType, enabled bool) error {
	m, err := s.requireMember(from)
	if err != nil {
		return err
	}
	if !mt.Valid() {
		return errorf(CodeBadRequest, "unknown media type %q", mt)
	}
	m.Media.Set(mt, enabled)
	s.broadcast(from, protocol.EventMediaChanged, protocol.MediaChanged{
		ParticipantID: from,
		MediaType:     mt,
		Enabled:       enabled,
	})
	s.touch()
	return nil
}

func (s *sessionState) ready(from models.ParticipantID) error {
	m, err := s.requireMember(from)
	if err != nil {
		return err
	}
	m.IsReady = true
	all := true
	for _, other := range s.members {
		if !other.IsReady {
			all = false
			break
		}
	}
	s.broadcast(from, protocol.EventParticipantReady, protocol.ParticipantReady{ParticipantID: from, AllReady: all})
	s.touch()
	return nil
}

func (s *sessionState) hostControl(from models.ParticipantID, action protocol.HostAction) error {
	if _, err := s.requireMember(from); err != nil {
		return err
	}
	if from != s.hostID {
		return ErrForbidden
	}
	if s.kind == models.KindCall {
		if action != protocol.HostActionEnd {
			return errorf(CodeBadRequest, "host action %q is not available in calls", action)
		}
		return s.end(from)
	}

	switch action {
	case protocol.HostActionStart:
		if s.status == models.StatusForming {
			s.setStatus(models.StatusActive)
		}
	case protocol.HostActionEnd:
		s.finish(models.StatusEnded, ReasonHostEnded)
		return nil
	case protocol.HostActionRecord:
	default:
		return errorf(CodeBadRequest, "unknown host action %q", action)
	}
	s.broadcast("", protocol.EventHostAction, protocol.HostActionNotice{Action: action, ByID: from})
	s.touch()
	return nil
}

func (s *sessionState) chat(from models.ParticipantID, message string) error {
	if _, err := s.requireMember(from); err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		return errorf(CodeBadRequest, "empty chat message")
	}
	s.broadcast("", protocol.EventChatMessage, protocol.ChatMessage{
		FromID:  from,
		Message: message,
		SentAt:  s.now(),
	})
	s.touch()
	return nil
}
