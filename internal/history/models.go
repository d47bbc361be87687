package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionRecord is one row per session id; a reused room id overwrites it.
type SessionRecord struct {
	ID        string     `gorm:"type:varchar(64);primaryKey" json:"session_id"`
	Kind      string     `gorm:"type:varchar(16);not null" json:"kind"`
	Status    string     `gorm:"type:varchar(16);not null" json:"status"`
	EndReason string     `gorm:"type:varchar(32)" json:"end_reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SessionEvent is an audit trail entry. Signaling payloads are never stored.
type SessionEvent struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Seq           uint64    `gorm:"not null;index" json:"-"`
	SessionID     string    `gorm:"type:varchar(64);not null;index" json:"session_id"`
	Type          string    `gorm:"type:varchar(32);not null" json:"type"`
	Status        string    `gorm:"type:varchar(16)" json:"status,omitempty"`
	ParticipantID string    `gorm:"type:varchar(128)" json:"participant_id,omitempty"`
	Reason        string    `gorm:"type:varchar(64)" json:"reason,omitempty"`
	At            time.Time `gorm:"index" json:"at"`
}

func (e *SessionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

type PushSubscription struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ParticipantID string    `gorm:"type:varchar(128);not null;index" json:"participant_id"`
	Endpoint      string    `gorm:"type:text;not null" json:"endpoint"`
	P256DH        string    `gorm:"type:text;not null" json:"p256dh"`
	Auth          string    `gorm:"type:text;not null" json:"auth"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
