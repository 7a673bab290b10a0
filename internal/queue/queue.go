package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// Queue manages outbound message queue operations.
type Queue struct {
	db  *gorm.DB
	cfg RetryConfig
}

func New(db *gorm.DB, cfg RetryConfig) *Queue {
	return &Queue{db: db, cfg: cfg}
}

// Enqueue adds a new send to the queue.
func (q *Queue) Enqueue(ctx context.Context, toNumber, content string, fromNumber, mediaURL *string, priority int) (*OutboundMessage, error) {
	maxRetries := q.cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultRetryConfig().MaxRetries
	}
	m := &OutboundMessage{
		ToNumber:      toNumber,
		Content:       content,
		FromNumber:    fromNumber,
		MediaURL:      mediaURL,
		Priority:      priority,
		Status:        StatusPending,
		MaxRetries:    maxRetries,
		NextAttemptAt: time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "enqueue outbound message", err)
	}
	return m, nil
}

// Dequeue atomically claims the next eligible item: highest priority
// first, FIFO within a priority class, skipping anything not yet due for
// its next attempt.
func (q *Queue) Dequeue(ctx context.Context) (*OutboundMessage, error) {
	var m OutboundMessage
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("status = ? AND next_attempt_at <= ?", StatusPending, time.Now()).
			Order("priority DESC, created_at ASC").
			Limit(1).
			First(&m).Error
		if err != nil {
			return err
		}
		now := time.Now()
		res := tx.Model(&OutboundMessage{}).
			Where("id = ? AND status = ?", m.ID, StatusPending).
			Updates(map[string]interface{}{
				"status":                StatusProcessing,
				"processing_started_at": now,
				"attempts":              gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another worker claimed the row first.
			return gorm.ErrRecordNotFound
		}
		m.Status = StatusProcessing
		m.ProcessingStartedAt = &now
		m.Attempts++
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apierrors.Wrap(apierrors.KindInternal, "dequeue outbound message", err)
	}
	return &m, nil
}

// MarkSent deletes the item; a successful send leaves no row behind.
// Every enqueued item therefore ends either deleted here or parked in
// DEAD_LETTER.
func (q *Queue) MarkSent(ctx context.Context, id uuid.UUID) error {
	if err := q.db.WithContext(ctx).Delete(&OutboundMessage{}, "id = ?", id).Error; err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "mark sent", err)
	}
	return nil
}

// MarkFailed records a send failure. If attempts remain, it reschedules
// the same row in place for NextAttemptAt = now + baseDelay*attempts;
// otherwise it moves the item to DEAD_LETTER.
func (q *Queue) MarkFailed(ctx context.Context, id uuid.UUID, sendErr error) error {
	var m OutboundMessage
	if err := q.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "find outbound message", err)
	}

	m.LastError = sendErr.Error()
	baseDelay := q.cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultRetryConfig().RetryBaseDelay
	}

	if m.Attempts < m.MaxRetries {
		delay := time.Duration(m.Attempts) * baseDelay
		next := time.Now().Add(delay)
		m.Status = StatusPending
		m.NextAttemptAt = next
		m.ProcessingStartedAt = nil
	} else {
		m.Status = StatusDeadLetter
		m.ProcessingStartedAt = nil
	}

	if err := q.db.WithContext(ctx).Save(&m).Error; err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "save failed outbound message", err)
	}
	return nil
}

// RecoverStuck moves PROCESSING items whose age exceeds the configured
// visibility timeout back to PENDING, covering a worker that died
// mid-send.
func (q *Queue) RecoverStuck(ctx context.Context) (int64, error) {
	timeout := q.cfg.VisibilityTimeout
	if timeout == 0 {
		timeout = DefaultRetryConfig().VisibilityTimeout
	}
	cutoff := time.Now().Add(-timeout)

	res := q.db.WithContext(ctx).Model(&OutboundMessage{}).
		Where("status = ? AND processing_started_at < ?", StatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":                StatusPending,
			"next_attempt_at":       time.Now(),
			"processing_started_at": nil,
		})
	if res.Error != nil {
		return 0, apierrors.Wrap(apierrors.KindInternal, "recover stuck outbound messages", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats reports current queue depth by status.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	db := q.db.WithContext(ctx).Model(&OutboundMessage{})
	if err := db.Where("status = ?", StatusPending).Count(&s.Queued).Error; err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "count queued", err)
	}
	if err := q.db.WithContext(ctx).Model(&OutboundMessage{}).Where("status = ?", StatusProcessing).Count(&s.Processing).Error; err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "count processing", err)
	}
	if err := q.db.WithContext(ctx).Model(&OutboundMessage{}).Where("status = ?", StatusDeadLetter).Count(&s.Dead).Error; err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "count dead", err)
	}
	return &s, nil
}

// ClearDead permanently deletes every dead-letter item.
func (q *Queue) ClearDead(ctx context.Context) (int64, error) {
	res := q.db.WithContext(ctx).Where("status = ?", StatusDeadLetter).Delete(&OutboundMessage{})
	if res.Error != nil {
		return 0, apierrors.Wrap(apierrors.KindInternal, "clear dead letters", res.Error)
	}
	return res.RowsAffected, nil
}

// RequeueDead resets every dead-letter item to PENDING with a fresh
// attempt budget.
func (q *Queue) RequeueDead(ctx context.Context) (int64, error) {
	res := q.db.WithContext(ctx).Model(&OutboundMessage{}).
		Where("status = ?", StatusDeadLetter).
		Updates(map[string]interface{}{
			"status":          StatusPending,
			"attempts":        0,
			"next_attempt_at": time.Now(),
			"last_error":      "",
		})
	if res.Error != nil {
		return 0, apierrors.Wrap(apierrors.KindInternal, "requeue dead letters", res.Error)
	}
	return res.RowsAffected, nil
}
