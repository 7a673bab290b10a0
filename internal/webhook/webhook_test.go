package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zapa-app/zapa/internal/storage"
)

func newRequest(t *testing.T, path string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func newTestApp(t *testing.T, secret string) (*fiber.App, *storage.Store, chan *storage.Message) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := storage.NewWithDB(db)
	require.NoError(t, store.AutoMigrate())

	dispatched := make(chan *storage.Message, 4)
	h := New(store, secret, func(ctx context.Context, userID uuid.UUID, phoneNumber string, msg *storage.Message) {
		dispatched <- msg
	})

	app := fiber.New()
	app.Post("/webhooks/whatsapp", h.Receive)
	return app, store, dispatched
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	app, _, _ := newTestApp(t, "s3cr3t")
	body := []byte(`{"event_type":"message.received","data":{}}`)

	req := newRequest(t, "/webhooks/whatsapp", body)
	req.Header.Set("X-Signature", "sha256=deadbeef")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestReceiveAcceptsValidSignatureAndStoresMessage(t *testing.T) {
	secret := "s3cr3t"
	app, store, dispatched := newTestApp(t, secret)

	body, err := json.Marshal(Envelope{
		EventType: EventMessageReceived,
		Data:      mustJSON(t, messageReceivedData{From: "+15551234567", Text: "hello", MessageID: "W1"}),
	})
	require.NoError(t, err)

	req := newRequest(t, "/webhooks/whatsapp", body)
	req.Header.Set("X-Signature", sign(secret, body))

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	user, err := store.Users().GetByPhone(context.Background(), "+15551234567")
	require.NoError(t, err)

	msgs, err := store.Messages().Recent(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", *msgs[0].Content)

	select {
	case msg := <-dispatched:
		require.Equal(t, "hello", *msg.Content)
	case <-time.After(time.Second):
		t.Fatal("expected agent dispatch for TEXT message")
	}
}

func TestReceiveDuplicateMessageIDIsNoop(t *testing.T) {
	secret := ""
	app, store, dispatched := newTestApp(t, secret)

	body, err := json.Marshal(Envelope{
		EventType: EventMessageReceived,
		Data:      mustJSON(t, messageReceivedData{From: "+15559998888", Text: "hi", MessageID: "DUP1"}),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := newRequest(t, "/webhooks/whatsapp", body)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	<-dispatched // first delivery dispatches

	user, err := store.Users().GetByPhone(context.Background(), "+15559998888")
	require.NoError(t, err)
	msgs, err := store.Messages().Recent(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestReceiveNonTextMessageDoesNotDispatchAgent(t *testing.T) {
	app, store, dispatched := newTestApp(t, "")

	body, err := json.Marshal(Envelope{
		EventType: EventMessageReceived,
		Data:      mustJSON(t, messageReceivedData{From: "+15557776666", Text: "", MessageID: "IMG1", Kind: "IMAGE"}),
	})
	require.NoError(t, err)

	req := newRequest(t, "/webhooks/whatsapp", body)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	user, err := store.Users().GetByPhone(context.Background(), "+15557776666")
	require.NoError(t, err)
	msgs, err := store.Messages().Recent(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	select {
	case <-dispatched:
		t.Fatal("non-TEXT message must not dispatch the agent")
	default:
	}
}

func TestReceiveEmptyTextContentRejected(t *testing.T) {
	app, _, dispatched := newTestApp(t, "")

	body, err := json.Marshal(Envelope{
		EventType: EventMessageReceived,
		Data:      mustJSON(t, messageReceivedData{From: "+15553331111", Text: "", MessageID: "E1"}),
	})
	require.NoError(t, err)

	resp, err := app.Test(newRequest(t, "/webhooks/whatsapp", body))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	select {
	case <-dispatched:
		t.Fatal("rejected message must not dispatch the agent")
	default:
	}
}

func TestReceiveMalformedBodyReturnsBadRequest(t *testing.T) {
	app, _, _ := newTestApp(t, "")
	req := newRequest(t, "/webhooks/whatsapp", []byte("not json"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
