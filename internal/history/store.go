// Package history persists the session audit trail and push subscriptions.
package history

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tariel-x/callrelay/internal/models"
)

var ErrNotFound = errors.New("record not found")

func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&SessionRecord{},
		&SessionEvent{},
		&PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

type Store struct {
	db  *gorm.DB
	seq atomic.Uint64
}

func NewStore(db *gorm.DB) *Store {
	s := &Store{db: db}
	var last SessionEvent
	if err := db.Order("seq desc").Limit(1).Find(&last).Error; err == nil {
		s.seq.Store(last.Seq)
	}
	return s
}

// Apply stores one audit event and keeps the session row in step with it.
func (s *Store) Apply(ev models.AuditEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row := SessionEvent{
			Seq:           s.seq.Add(1),
			SessionID:     string(ev.SessionID),
			Type:          string(ev.Type),
			Status:        string(ev.Status),
			ParticipantID: string(ev.ParticipantID),
			Reason:        ev.Reason,
			At:            ev.At,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		switch ev.Type {
		case models.AuditSessionCreated:
			rec := SessionRecord{
				ID:        string(ev.SessionID),
				Kind:      string(ev.Kind),
				Status:    string(ev.Status),
				CreatedAt: ev.At,
				UpdatedAt: ev.At,
			}
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
		case models.AuditStatusChanged:
			return tx.Model(&SessionRecord{}).
				Where("id = ?", string(ev.SessionID)).
				Updates(map[string]any{"status": string(ev.Status), "updated_at": ev.At}).Error
		case models.AuditSessionEnded:
			return tx.Model(&SessionRecord{}).
				Where("id = ?", string(ev.SessionID)).
				Updates(map[string]any{
					"status":     string(ev.Status),
					"end_reason": ev.Reason,
					"ended_at":   ev.At,
					"updated_at": ev.At,
				}).Error
		}
		return nil
	})
}

func (s *Store) Session(sid models.SessionID) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.Where("id = ?", string(sid)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// Events returns the audit trail of a session in recording order.
func (s *Store) Events(sid models.SessionID, limit int) ([]SessionEvent, error) {
	var events []SessionEvent
	q := s.db.Where("session_id = ?", string(sid)).Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// Prune removes ended sessions and their events older than the cutoff.
func (s *Store) Prune(before time.Time) (int64, error) {
	var ids []string
	if err := s.db.Model(&SessionRecord{}).
		Where("ended_at IS NOT NULL AND ended_at < ?", before).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&SessionEvent{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&SessionRecord{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// SaveSubscription keeps only the latest subscription of a participant.
func (s *Store) SaveSubscription(sub *PushSubscription) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("participant_id = ?", sub.ParticipantID).Delete(&PushSubscription{}).Error; err != nil {
			return err
		}
		return tx.Create(sub).Error
	})
}

func (s *Store) DeleteSubscription(pid models.ParticipantID, endpoint string) error {
	res := s.db.Where("participant_id = ? AND endpoint = ?", string(pid), endpoint).Delete(&PushSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSubscriptionByID(id string) error {
	return s.db.Where("id = ?", id).Delete(&PushSubscription{}).Error
}

func (s *Store) Subscriptions(pid models.ParticipantID) ([]PushSubscription, error) {
	var subs []PushSubscription
	if err := s.db.Where("participant_id = ?", string(pid)).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
