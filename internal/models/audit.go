package models

import "time"

type AuditType string

const (
	AuditSessionCreated   AuditType = "session-created"
	AuditStatusChanged    AuditType = "status-changed"
	AuditParticipantJoin  AuditType = "participant-joined"
	AuditParticipantLeave AuditType = "participant-left"
	AuditSessionEnded     AuditType = "session-ended"
)

// AuditEvent is handed to the persistence collaborator. It never carries
// signaling payloads.
type AuditEvent struct {
	Type          AuditType
	SessionID     SessionID
	Kind          Kind
	Status        Status
	ParticipantID ParticipantID
	Reason        string
	At            time.Time
}
