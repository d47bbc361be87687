package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tariel-x/callrelay/internal/models"
)

// Server -> client event types.
const (
	EventSessionCreated          = "session-created"
	EventIncomingCall            = "incoming-call"
	EventCallAccepted            = "call-accepted"
	EventCallDeclined            = "call-declined"
	EventStartNegotiation        = "start-negotiation"
	EventSignal                  = "signal"
	EventSessionJoined           = "session-joined"
	EventSessionState            = "session-state"
	EventParticipantJoined       = "participant-joined"
	EventParticipantLeft         = "participant-left"
	EventParticipantReady        = "participant-ready"
	EventParticipantReconnecting = "participant-reconnecting"
	EventParticipantReconnected  = "participant-reconnected"
	EventMediaChanged            = "media-changed"
	EventHostChanged             = "host-changed"
	EventHostAction              = "host-action"
	EventChatMessage             = "chat-message"
	EventSessionEnded            = "session-ended"
	EventError                   = "error"
)

// Event is an outbound notification before encoding.
type Event struct {
	Type      string
	SessionID models.SessionID
	Data      any
}

// Encode renders an event as a wire envelope. HTML characters are left
// unescaped so SDP and chat text keep their bytes.
func Encode(ev Event) ([]byte, error) {
	env := Envelope{Type: ev.Type, SessionID: ev.SessionID}
	if ev.Data != nil {
		data, err := marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", ev.Type, err)
		}
		env.Data = data
	}
	return marshal(env)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type SessionCreated struct {
	Kind     models.Kind          `json:"kind"`
	TargetID models.ParticipantID `json:"target_id,omitempty"`
}

type IncomingCall struct {
	FromID models.ParticipantID `json:"from_id"`
}

type CallAccepted struct {
	ByID models.ParticipantID `json:"by_id"`
}

type CallDeclined struct {
	ByID models.ParticipantID `json:"by_id"`
}

type StartNegotiation struct {
	PeerID    models.ParticipantID `json:"peer_id"`
	IsOfferer bool                 `json:"is_offerer"`
}

type Signal struct {
	FromID  models.ParticipantID `json:"from_id"`
	Payload SignalPayload        `json:"payload"`
}

type SessionJoined struct {
	Session     models.Session `json:"session"`
	IsHost      bool           `json:"is_host"`
	IsReconnect bool           `json:"is_reconnect"`
}

type SessionState struct {
	Status models.Status `json:"status"`
}

type ParticipantJoined struct {
	Participant models.ParticipantState `json:"participant"`
}

type ParticipantLeft struct {
	ParticipantID models.ParticipantID `json:"participant_id"`
	Reason        string               `json:"reason,omitempty"`
}

type ParticipantReady struct {
	ParticipantID models.ParticipantID `json:"participant_id"`
	AllReady      bool                 `json:"all_ready"`
}

// ParticipantPresence backs the reconnecting and reconnected events.
type ParticipantPresence struct {
	ParticipantID models.ParticipantID `json:"participant_id"`
}

type MediaChanged struct {
	ParticipantID models.ParticipantID `json:"participant_id"`
	MediaType     models.MediaType     `json:"media_type"`
	Enabled       bool                 `json:"enabled"`
}

type HostChanged struct {
	HostID models.ParticipantID `json:"host_id"`
}

type HostActionNotice struct {
	Action HostAction           `json:"action"`
	ByID   models.ParticipantID `json:"by_id"`
}

type ChatMessage struct {
	FromID  models.ParticipantID `json:"from_id"`
	Message string               `json:"message"`
	SentAt  time.Time            `json:"sent_at"`
}

type SessionEnded struct {
	Reason string `json:"reason"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
