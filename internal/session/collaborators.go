package session

import (
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
)

// Outbox delivers events to a participant's transport channel. Deliver must
// not block; it reports false when the participant has no live channel or
// the channel refused the event.
type Outbox interface {
	Deliver(to models.ParticipantID, ev protocol.Event) bool
	Online(id models.ParticipantID) bool
}

// Recorder receives audit events. Implementations must not block the caller.
type Recorder interface {
	Record(ev models.AuditEvent)
}

// Notifier is told about incoming calls whose target has no live channel.
// Implementations must not block the caller.
type Notifier interface {
	NotifyIncomingCall(to, from models.ParticipantID, sessionID models.SessionID)
}

type nopRecorder struct{}

func (nopRecorder) Record(models.AuditEvent) {}

type nopNotifier struct{}

func (nopNotifier) NotifyIncomingCall(models.ParticipantID, models.ParticipantID, models.SessionID) {}
