// Package queue is the durable, priority-ordered outbound send queue:
// Postgres-backed rows claimed by polling workers, linear-backoff retry,
// a dead-letter state for items that exhaust their attempts, and a
// visibility-timeout sweep that reclaims work lost to a crashed worker.
package queue

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the outbound item's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// OutboundMessage is the durable unit of work: one WhatsApp send.
type OutboundMessage struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ToNumber string    `gorm:"type:varchar(32);not null;index" json:"to_number"`
	Content  string    `gorm:"type:text;not null" json:"content"`

	FromNumber *string `gorm:"type:varchar(32)" json:"from_number,omitempty"`
	MediaURL   *string `gorm:"type:text" json:"media_url,omitempty"`

	// Priority orders items within the queue; higher runs first, FIFO
	// within a priority class via created_at.
	Priority int `gorm:"not null;default:0;index" json:"priority"`

	Status     Status `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Attempts   int    `gorm:"not null;default:0" json:"attempts"`
	MaxRetries int    `gorm:"not null;default:3" json:"max_retries"`

	// NextAttemptAt gates when a PENDING/retrying item becomes eligible
	// for Dequeue again; it carries the backoff delay without blocking a
	// worker goroutine in a time.Sleep.
	NextAttemptAt time.Time `gorm:"index" json:"next_attempt_at"`

	// ProcessingStartedAt is set when a worker dequeues the item and
	// cleared when the item goes back to PENDING or to DEAD_LETTER (a
	// successful send deletes the row); the recovery sweep uses it to find
	// items stuck past the visibility timeout.
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`

	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OutboundMessage) TableName() string { return "outbound_messages" }

func (m *OutboundMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Stats summarizes queue depth by status.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// RetryConfig holds the retry parameters.
type RetryConfig struct {
	MaxRetries        int
	RetryBaseDelay    time.Duration
	VisibilityTimeout time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		RetryBaseDelay:    5 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
	}
}
