package models

import "time"

type SessionID string

type ParticipantID string

// Kind tells a 1:1 call apart from a multi-party room.
// Keep values stable because they are part of the public API.
type Kind string

const (
	KindCall Kind = "call"
	KindRoom Kind = "room"
)

// Status is the lifecycle state of a session. Calls use
// idle..active/ended/failed, rooms use forming/active/ended.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRinging    Status = "ringing"
	StatusAccepted   Status = "accepted"
	StatusConnecting Status = "connecting"
	StatusForming    Status = "forming"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleHost      Role = "host"
	RoleJoiner    Role = "joiner"
)

// Phase is the per-participant connection phase.
type Phase string

const (
	PhaseJoined              Phase = "joined"
	PhaseNegotiating         Phase = "negotiating"
	PhaseConnected           Phase = "connected"
	PhaseDisconnectedPending Phase = "disconnected-pending"
	PhaseLeft                Phase = "left"
)

type MediaType string

const (
	MediaVideo  MediaType = "video"
	MediaAudio  MediaType = "audio"
	MediaScreen MediaType = "screen"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaVideo, MediaAudio, MediaScreen:
		return true
	}
	return false
}

type MediaFlags struct {
	Video  bool `json:"video"`
	Audio  bool `json:"audio"`
	Screen bool `json:"screen"`
}

// Set updates a single flag and reports whether it changed.
func (f *MediaFlags) Set(m MediaType, enabled bool) bool {
	var p *bool
	switch m {
	case MediaVideo:
		p = &f.Video
	case MediaAudio:
		p = &f.Audio
	case MediaScreen:
		p = &f.Screen
	default:
		return false
	}
	changed := *p != enabled
	*p = enabled
	return changed
}

type ParticipantState struct {
	ID       ParticipantID `json:"participant_id"`
	Role     Role          `json:"role"`
	Media    MediaFlags    `json:"media"`
	IsReady  bool          `json:"is_ready"`
	Phase    Phase         `json:"phase"`
	JoinedAt time.Time     `json:"joined_at"`
	// JoinSeq is the join order inside the session, starting at 1.
	JoinSeq uint64 `json:"join_seq"`
}

// Session is a point-in-time copy of a session. Participants are in join order.
type Session struct {
	ID             SessionID          `json:"session_id"`
	Kind           Kind               `json:"kind"`
	Status         Status             `json:"status"`
	HostID         ParticipantID      `json:"host_id"`
	Target         ParticipantID      `json:"target_id,omitempty"`
	Participants   []ParticipantState `json:"participants"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
}

func (s *Session) Participant(id ParticipantID) (ParticipantState, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return ParticipantState{}, false
}

func (s *Session) ParticipantsCount() int {
	return len(s.Participants)
}
