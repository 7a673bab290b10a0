// Package webhook is the single signed HTTP endpoint the bridge process
// calls to deliver inbound messages, delivery receipts, and
// connection-status changes: HMAC-SHA256 signature verification over the
// raw body, a tagged event envelope, and store-before-dispatch ordering
// so agent work never races the committed row.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapa-app/zapa/internal/apierrors"
	"github.com/zapa-app/zapa/internal/bridge"
	"github.com/zapa-app/zapa/internal/storage"
)

// EventType is the tagged envelope's discriminator.
type EventType string

const (
	EventMessageReceived  EventType = "message.received"
	EventMessageSent      EventType = "message.sent"
	EventMessageFailed    EventType = "message.failed"
	EventConnectionStatus EventType = "connection.status"
)

// Envelope is the wire shape of every webhook delivery: {event_type,
// timestamp, data}. Data is decoded per event_type by the matching handler.
type Envelope struct {
	EventType EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type messageReceivedData struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	MessageID string    `json:"message_id"`
	Kind      string    `json:"kind"`
	Ts        time.Time `json:"ts"`
}

type deliveryData struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

type connectionStatusData struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// AgentDispatcher hands a freshly stored TEXT message off to the agent
// asynchronously, so the webhook handler never blocks an HTTP response
// on an LLM round trip.
type AgentDispatcher func(ctx context.Context, userID uuid.UUID, phoneNumber string, msg *storage.Message)

// Handler implements the single /webhooks/whatsapp endpoint.
type Handler struct {
	store    *storage.Store
	secret   string
	dispatch AgentDispatcher
}

func New(store *storage.Store, secret string, dispatch AgentDispatcher) *Handler {
	return &Handler{store: store, secret: secret, dispatch: dispatch}
}

// Receive is the fiber handler for POST /webhooks/whatsapp.
func (h *Handler) Receive(c *fiber.Ctx) error {
	body := c.Body()

	if h.secret != "" {
		if !validSignature(h.secret, body, c.Get("X-Signature")) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
		}
	} else {
		log.Warn().Msg("webhook: no secret configured, skipping signature validation")
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}

	ctx := c.Context()

	switch env.EventType {
	case EventMessageReceived:
		if err := h.handleMessageReceived(ctx, env); err != nil {
			log.Error().Err(err).Msg("webhook: failed to process message.received")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "processing failed"})
		}
	case EventMessageSent:
		h.handleDelivery(ctx, env, storage.DeliveryStatusSent)
	case EventMessageFailed:
		h.handleDelivery(ctx, env, storage.DeliveryStatusFailed)
	case EventConnectionStatus:
		h.handleConnectionStatus(ctx, env)
	default:
		log.Warn().Str("event_type", string(env.EventType)).Msg("webhook: unknown event_type, ignoring")
	}

	return c.JSON(fiber.Map{"ok": true})
}

// handleMessageReceived routes message.received: upsert user, store the
// message inside one transaction, dispatch the agent only for TEXT, and
// treat a duplicate external_id as a no-op (idempotency on
// data.message_id).
func (h *Handler) handleMessageReceived(ctx context.Context, env Envelope) error {
	var data messageReceivedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}

	kind := storage.MessageKind(data.Kind)
	if kind == "" {
		kind = storage.MessageKindText
	}
	if kind == storage.MessageKindText && data.Text == "" {
		return apierrors.New(apierrors.KindValidation, "TEXT message with empty content")
	}
	ts := data.Ts
	if ts.IsZero() {
		ts = env.Timestamp
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	var userID uuid.UUID
	var phoneNumber string
	var stored *storage.Message
	duplicate := false

	err := h.store.WithTx(ctx, func(tx *storage.Tx) error {
		user, err := tx.Users.GetOrCreateByPhone(ctx, data.From)
		if err != nil {
			return err
		}
		userID = user.ID
		phoneNumber = user.PhoneNumber

		session, err := tx.Sessions.GetOrCreate(ctx, user.ID, storage.SessionKindUser)
		if err != nil {
			return err
		}

		msg := &storage.Message{
			SessionID:  session.ID,
			UserID:     user.ID,
			SenderJID:  bridge.NormalizeJID(data.From),
			Timestamp:  ts,
			Kind:       kind,
			Direction:  storage.DirectionIncoming,
			Content:    nonEmpty(data.Text),
			ExternalID: nonEmpty(data.MessageID),
		}
		if err := tx.Messages.Store(ctx, msg); err != nil {
			if apierrors.Is(err, apierrors.KindConflict) {
				duplicate = true
				return nil
			}
			return err
		}
		stored = msg
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate {
		log.Info().Str("message_id", data.MessageID).Msg("webhook: duplicate message.received, ignoring")
		return nil
	}
	if kind != storage.MessageKindText {
		return nil
	}
	if h.dispatch != nil && stored != nil {
		go h.dispatch(context.Background(), userID, phoneNumber, stored)
	}
	return nil
}

// handleDelivery implements the message.sent/message.failed routing: look
// up by external_id and update delivery_status; an unknown external_id is a
// logged no-op, never a failure surfaced to the bridge.
func (h *Handler) handleDelivery(ctx context.Context, env Envelope, status storage.DeliveryStatus) {
	var data deliveryData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		log.Warn().Err(err).Msg("webhook: malformed delivery payload")
		return
	}
	if data.MessageID == "" {
		return
	}

	var err error
	if status == storage.DeliveryStatusFailed && data.Error != "" {
		err = h.store.Messages().SetDeliveryStatusWithError(ctx, data.MessageID, status, data.Error)
	} else {
		err = h.store.Messages().SetDeliveryStatus(ctx, data.MessageID, status)
	}
	if err != nil {
		log.Error().Err(err).Str("message_id", data.MessageID).Msg("webhook: failed to update delivery status")
	}
}

// handleConnectionStatus updates a Session's status. The bridge is expected
// to echo back the session id this process handed it in configure_webhook/
// create_session, so session_id round-trips as our Session.ID.
func (h *Handler) handleConnectionStatus(ctx context.Context, env Envelope) {
	var data connectionStatusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		log.Warn().Err(err).Msg("webhook: malformed connection.status payload")
		return
	}
	sessionID, err := uuid.Parse(data.SessionID)
	if err != nil {
		log.Warn().Str("session_id", data.SessionID).Msg("webhook: connection.status with non-uuid session_id, ignoring")
		return
	}
	status := storage.SessionStatus(data.Status)
	if err := h.store.Sessions().UpdateStatus(ctx, sessionID, status); err != nil {
		log.Error().Err(err).Str("session_id", data.SessionID).Msg("webhook: failed to update session status")
	}
}

// validSignature verifies X-Signature: sha256=<hex> over the raw body,
// comparing in constant time.
func validSignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
