// Package protocol defines the JSON vocabulary spoken over a client's
// WebSocket. Signaling payloads are carried as raw JSON and never decoded.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tariel-x/callrelay/internal/models"
)

// Client -> server message types.
const (
	TypeInitiate    = "initiate"
	TypeAccept      = "accept"
	TypeDecline     = "decline"
	TypeCancel      = "cancel"
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeToggleMedia = "toggle-media"
	TypeReady       = "ready"
	TypeSignal      = "signal"
	TypeHostControl = "host-control"
	TypeEnd         = "end"
	TypeConnected   = "connected"
	TypeFailed      = "failed"
	TypeChat        = "chat"
	TypePing        = "ping"
)

var ErrEmptyType = errors.New("message type is required")

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type      string           `json:"type"`
	SessionID models.SessionID `json:"session_id,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
}

// Decode parses one inbound frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	return env, nil
}

// Bind decodes the data section into v. Missing data leaves v untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", e.Type, err)
	}
	return nil
}

// NewMessage builds an envelope with data marshaled in place.
func NewMessage(msgType string, sessionID models.SessionID, data any) Envelope {
	env := Envelope{Type: msgType, SessionID: sessionID}
	if data != nil {
		env.Data = mustMarshal(data)
	}
	return env
}

type InitiateData struct {
	TargetID models.ParticipantID `json:"target_id"`
	Media    *MediaPreferences    `json:"media,omitempty"`
}

type MediaPreferences struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

type JoinData struct {
	Media *MediaPreferences `json:"media,omitempty"`
}

// Flags turns optional preferences into media flags. Audio on, video off
// when nothing was sent.
func (p *MediaPreferences) Flags() models.MediaFlags {
	if p == nil {
		return models.MediaFlags{Audio: true}
	}
	return models.MediaFlags{Video: p.Video, Audio: p.Audio}
}

type ToggleMediaData struct {
	MediaType models.MediaType `json:"media_type"`
	Enabled   bool             `json:"enabled"`
}

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// SignalPayload is relayed as is; only Kind is looked at. The encoder may
// drop insignificant whitespace from Data but never escapes or reorders it.
type SignalPayload struct {
	Kind SignalKind      `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

type SignalData struct {
	To      models.ParticipantID `json:"to,omitempty"`
	Payload SignalPayload        `json:"payload"`
}

type HostAction string

const (
	HostActionStart  HostAction = "start"
	HostActionEnd    HostAction = "end"
	HostActionRecord HostAction = "record"
)

type HostControlData struct {
	Action HostAction `json:"action"`
}

// PeerData is used by connected and failed reports.
type PeerData struct {
	PeerID models.ParticipantID `json:"peer_id,omitempty"`
	Reason string               `json:"reason,omitempty"`
}

type ChatData struct {
	Message string `json:"message"`
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
