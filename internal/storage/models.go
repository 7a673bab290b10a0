// Package storage is the relational store for Users, Sessions, Messages,
// AuthCodes, and LLMConfigs: gorm models with UUID primary keys assigned
// in BeforeCreate hooks, index declarations via struct tags, and FK
// constraints with ON DELETE CASCADE, plus one typed repository per
// entity and a transactional view for multi-write operations.
package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionKind distinguishes the single service-number MAIN session from
// per-user USER sessions.
type SessionKind string

const (
	SessionKindMain SessionKind = "MAIN"
	SessionKindUser SessionKind = "USER"
)

// SessionStatus is the Session lifecycle state.
type SessionStatus string

const (
	SessionStatusQRPending    SessionStatus = "QR_PENDING"
	SessionStatusConnected    SessionStatus = "CONNECTED"
	SessionStatusDisconnected SessionStatus = "DISCONNECTED"
	SessionStatusError        SessionStatus = "ERROR"
)

// MessageKind is the media kind of a Message.
type MessageKind string

const (
	MessageKindText     MessageKind = "TEXT"
	MessageKindImage    MessageKind = "IMAGE"
	MessageKindAudio    MessageKind = "AUDIO"
	MessageKindVideo    MessageKind = "VIDEO"
	MessageKindDocument MessageKind = "DOCUMENT"
)

// MessageDirection distinguishes inbound user messages, outbound agent/
// system replies, and synthetic system events.
type MessageDirection string

const (
	DirectionIncoming MessageDirection = "INCOMING"
	DirectionOutgoing MessageDirection = "OUTGOING"
	DirectionSystem   MessageDirection = "SYSTEM"
)

// DeliveryStatus tracks the bridge's confirmation of an outbound send.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusRead      DeliveryStatus = "READ"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// LLMProviderType enumerates the pluggable LLM providers.
type LLMProviderType string

const (
	LLMProviderOpenAI    LLMProviderType = "OPENAI"
	LLMProviderAnthropic LLMProviderType = "ANTHROPIC"
	LLMProviderGoogle    LLMProviderType = "GOOGLE"
	LLMProviderOllama    LLMProviderType = "OLLAMA"
	LLMProviderCustom    LLMProviderType = "CUSTOM"
)

// User is the root entity; deleting one cascades to Sessions, Messages,
// AuthCodes, and LLMConfigs.
type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	PhoneNumber  string         `gorm:"type:varchar(32);uniqueIndex;not null" json:"phone_number"`
	FirstName    *string        `gorm:"type:varchar(100)" json:"first_name,omitempty"`
	LastName     *string        `gorm:"type:varchar(100)" json:"last_name,omitempty"`
	IsActive     bool           `gorm:"not null;default:true" json:"is_active"`
	IsAdmin      bool           `gorm:"not null;default:false" json:"is_admin"`
	PasswordHash *string        `gorm:"type:varchar(100)" json:"-"`
	Metadata     datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Session is a WhatsApp bridge session owned by a user (or the service's
// own MAIN session, whose UserID may reference a synthetic system user).
type Session struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind           SessionKind    `gorm:"type:varchar(10);not null" json:"kind"`
	Status         SessionStatus  `gorm:"type:varchar(20);not null;default:'QR_PENDING'" json:"status"`
	ConnectedAt    *time.Time     `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time     `json:"disconnected_at,omitempty"`
	Metadata       datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Session) TableName() string { return "sessions" }

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Message is append-only except for DeliveryStatus updates. ReplyToID
// forms an intra-user DAG via a self foreign key.
type Message struct {
	ID             int64            `gorm:"primary_key;autoIncrement" json:"id"`
	SessionID      uuid.UUID        `gorm:"type:uuid;not null;index" json:"session_id"`
	UserID         uuid.UUID        `gorm:"type:uuid;not null;index:idx_message_user_ts,priority:1" json:"user_id"`
	SenderJID      string           `gorm:"type:varchar(64);index" json:"sender_jid"`
	RecipientJID   string           `gorm:"type:varchar(64)" json:"recipient_jid"`
	Timestamp      time.Time        `gorm:"not null;index:idx_message_user_ts,priority:2,sort:desc" json:"timestamp"`
	Kind           MessageKind      `gorm:"type:varchar(10);not null" json:"kind"`
	Direction      MessageDirection `gorm:"type:varchar(10);not null" json:"direction"`
	Content        *string          `gorm:"type:text" json:"content,omitempty"`
	Caption        *string          `gorm:"type:text" json:"caption,omitempty"`
	ReplyToID      *int64           `gorm:"index" json:"reply_to_id,omitempty"`
	MediaMetadata  datatypes.JSON   `gorm:"type:jsonb" json:"media_metadata,omitempty"`
	DeliveryStatus *DeliveryStatus  `gorm:"type:varchar(10)" json:"delivery_status,omitempty"`
	ExternalID     *string          `gorm:"type:varchar(128);uniqueIndex:idx_message_external_id" json:"external_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`

	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string { return "messages" }

// AuthCode is a one-time, short-lived phone-login code.
type AuthCode struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index:idx_authcode_user_expiry,priority:1" json:"user_id"`
	Code      string    `gorm:"type:varchar(6);not null" json:"-"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	ExpiresAt time.Time `gorm:"not null;index:idx_authcode_user_expiry,priority:2" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`

	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (AuthCode) TableName() string { return "auth_codes" }

func (a *AuthCode) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Valid reports whether the code may still be redeemed.
func (a *AuthCode) Valid(now time.Time) bool {
	return !a.Used && now.Before(a.ExpiresAt)
}

// LLMConfig holds a user's provider credentials and model settings. The
// schema allows one stored config per (user, provider); "at most one
// active config per user" is enforced by LLMConfigRepo.Activate, not the
// schema.
type LLMConfig struct {
	ID              uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	UserID          uuid.UUID       `gorm:"type:uuid;not null;index:idx_llmconfig_user_active,priority:1" json:"user_id"`
	Provider        LLMProviderType `gorm:"type:varchar(20);not null" json:"provider"`
	APIKeyEncrypted []byte          `gorm:"type:bytea;not null" json:"-"`
	ModelSettings   datatypes.JSON  `gorm:"type:jsonb" json:"model_settings"`
	IsActive        bool            `gorm:"not null;default:false;index:idx_llmconfig_user_active,priority:2" json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (LLMConfig) TableName() string { return "llm_configs" }

func (c *LLMConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ModelSettings is the typed projection of LLMConfig.ModelSettings's
// recognized keys. Unknown keys in the stored JSON round-trip but are
// ignored by consumers.
type ModelSettings struct {
	Model              string  `json:"model,omitempty"`
	Temperature        float64 `json:"temperature,omitempty"`
	MaxTokens          int     `json:"max_tokens,omitempty"`
	SystemPrompt       string  `json:"system_prompt,omitempty"`
	BaseURL            string  `json:"base_url,omitempty"`
	MaxContextMessages int     `json:"max_context_messages,omitempty"`
}

// AllModels lists every gorm-managed model, used by migration/AutoMigrate
// tooling and by tests that need a full schema.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Session{},
		&Message{},
		&AuthCode{},
		&LLMConfig{},
	}
}
