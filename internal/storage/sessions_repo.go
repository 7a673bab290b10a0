package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionRepo struct{ db *gorm.DB }

func (r *SessionRepo) Create(ctx context.Context, s *Session) error {
	return translateErr(r.db.WithContext(ctx).Create(s).Error)
}

func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &s, nil
}

func (r *SessionRepo) Update(ctx context.Context, s *Session) error {
	return translateErr(r.db.WithContext(ctx).Save(s).Error)
}

func (r *SessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return translateErr(r.db.WithContext(ctx).Delete(&Session{}, "id = ?", id).Error)
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&sessions).Error; err != nil {
		return nil, translateErr(err)
	}
	return sessions, nil
}

// GetOrCreate idempotently fetches the user's newest session of the
// given kind, creating a QR-pending one if none exists.
func (r *SessionRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, kind SessionKind) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		Order("created_at DESC").
		First(&s).Error
	if err == nil {
		return &s, nil
	}
	s = Session{UserID: userID, Kind: kind, Status: SessionStatusQRPending}
	if err := r.Create(ctx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateStatus transitions a session's status, setting ConnectedAt the
// first time status reaches CONNECTED and DisconnectedAt on disconnect.
func (r *SessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status SessionStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.First(&s, "id = ?", id).Error; err != nil {
			return err
		}
		now := time.Now()
		s.Status = status
		switch status {
		case SessionStatusConnected:
			if s.ConnectedAt == nil {
				s.ConnectedAt = &now
			}
		case SessionStatusDisconnected:
			s.DisconnectedAt = &now
		}
		return tx.Save(&s).Error
	})
}
