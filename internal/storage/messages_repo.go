package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MessageRepo struct{ db *gorm.DB }

// Store persists a single message. Messages are append-only; only
// DeliveryStatus changes after insert.
func (r *MessageRepo) Store(ctx context.Context, m *Message) error {
	return translateErr(r.db.WithContext(ctx).Create(m).Error)
}

// Recent returns the last n messages for a user, oldest first, matching
// the ordering the agent's context builder expects.
func (r *MessageRepo) Recent(ctx context.Context, userID uuid.UUID, n int) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, translateErr(err)
	}
	reverse(msgs)
	return msgs, nil
}

// List returns a page of a user's messages, newest first, backing
// `GET /api/v1/messages?limit&offset`.
func (r *MessageRepo) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return msgs, nil
}

// Search performs a case-insensitive substring match over message content,
// newest first, bounded by limit. LOWER(...) LIKE instead of Postgres
// ILIKE so the same query also runs against the sqlite test store.
func (r *MessageRepo) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(content) LIKE LOWER(?)", userID, "%"+query+"%").
		Order("timestamp DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return msgs, nil
}

// InRange returns every message for a user between from and to
// (inclusive), oldest first.
func (r *MessageRepo) InRange(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ? AND timestamp <= ?", userID, from, to).
		Order("timestamp ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return msgs, nil
}

// Stats summarizes a user's message history.
type Stats struct {
	Total     int64      `json:"total"`
	Incoming  int64      `json:"incoming"`
	Outgoing  int64      `json:"outgoing"`
	FirstAt   *time.Time `json:"first_at,omitempty"`
	LastAt    *time.Time `json:"last_at,omitempty"`
	AvgPerDay float64    `json:"avg_per_day"`
}

func (r *MessageRepo) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	var s Stats
	db := r.db.WithContext(ctx).Model(&Message{}).Where("user_id = ?", userID)

	if err := db.Count(&s.Total).Error; err != nil {
		return nil, translateErr(err)
	}
	if s.Total == 0 {
		return &s, nil
	}
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("user_id = ? AND direction = ?", userID, DirectionIncoming).
		Count(&s.Incoming).Error; err != nil {
		return nil, translateErr(err)
	}
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("user_id = ? AND direction = ?", userID, DirectionOutgoing).
		Count(&s.Outgoing).Error; err != nil {
		return nil, translateErr(err)
	}

	var first, last Message
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp ASC").First(&first).Error; err == nil {
		s.FirstAt = &first.Timestamp
	}
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp DESC").First(&last).Error; err == nil {
		s.LastAt = &last.Timestamp
	}
	if s.FirstAt != nil && s.LastAt != nil {
		days := s.LastAt.Sub(*s.FirstAt).Hours() / 24
		if days < 1 {
			days = 1
		}
		s.AvgPerDay = float64(s.Total) / days
	}
	return &s, nil
}

// SetDeliveryStatus updates the delivery status of the message carrying the
// given external_id. A missing external_id is not an error: the bridge may
// report status for a message this process never saw (e.g. after a restart
// skipped the original send record), so this logs and returns nil rather
// than surfacing a not-found failure to the caller.
func (r *MessageRepo) SetDeliveryStatus(ctx context.Context, externalID string, status DeliveryStatus) error {
	res := r.db.WithContext(ctx).
		Model(&Message{}).
		Where("external_id = ?", externalID).
		Update("delivery_status", status)
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		log.Info().Str("external_id", externalID).Str("status", string(status)).
			Msg("storage: delivery status update for unknown external_id, ignoring")
	}
	return nil
}

// SetDeliveryStatusWithError is SetDeliveryStatus plus recording the
// bridge's failure reason in MediaMetadata, for the `message.failed`
// webhook path.
func (r *MessageRepo) SetDeliveryStatusWithError(ctx context.Context, externalID string, status DeliveryStatus, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&Message{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"delivery_status": status,
			"media_metadata":  datatypes.JSON(`{"error":` + strconv.Quote(reason) + `}`),
		})
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		log.Info().Str("external_id", externalID).Str("status", string(status)).
			Msg("storage: delivery status update for unknown external_id, ignoring")
	}
	return nil
}

// AttachExternalID records the bridge's id against the most recent
// externalID-less OUTGOING message matching recipientJID+content, so a
// later message.sent/message.failed webhook can correlate by external_id.
// Attach-only: it never rewrites a row that already carries an id. A miss
// is not an error; the reply may have been sent by a path that doesn't
// track delivery, like an auth-code send with no matching stored message.
func (r *MessageRepo) AttachExternalID(ctx context.Context, recipientJID, content, externalID string) error {
	sub := r.db.Model(&Message{}).
		Select("id").
		Where("recipient_jid = ? AND content = ? AND direction = ? AND external_id IS NULL", recipientJID, content, DirectionOutgoing).
		Order("created_at DESC").
		Limit(1)
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id IN (?)", sub).
		Update("external_id", externalID)
	if res.Error != nil {
		return translateErr(res.Error)
	}
	return nil
}

// FindUnansweredIncoming returns INCOMING TEXT messages older than cutoff
// that have no later OUTGOING/SYSTEM reply for the same user, oldest
// first. Used by the supervisor's startup reconciliation pass to replay
// messages whose agent run was lost to a crash.
func (r *MessageRepo) FindUnansweredIncoming(ctx context.Context, cutoff time.Time) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("direction = ? AND kind = ? AND timestamp < ?", DirectionIncoming, MessageKindText, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM messages o WHERE o.user_id = messages.user_id "+
			"AND o.direction IN (?, ?) AND o.timestamp > messages.timestamp)",
			DirectionOutgoing, DirectionSystem).
		Order("timestamp ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return msgs, nil
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
