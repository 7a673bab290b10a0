package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zapa-app/zapa/internal/llm"
	"github.com/zapa-app/zapa/internal/storage"
	"github.com/zapa-app/zapa/internal/vault"
)

// fakeProvider is a scripted llm.Provider: each call returns the next
// queued response, letting a test assert the tool loop drives exactly
// the turns it expects.
type fakeProvider struct {
	responses []llm.Response
	calls     int
}

func (f *fakeProvider) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool, settings llm.Settings) (llm.Response, error) {
	if f.calls >= len(f.responses) {
		return llm.Response{Content: "out of scripted responses"}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := storage.NewWithDB(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New([]byte("01234567890123456789012345678901"))
	require.NoError(t, err)
	return v
}

func seedUserWithConfig(t *testing.T, store *storage.Store, v *vault.Vault) *storage.User {
	t.Helper()
	ctx := context.Background()

	user := &storage.User{PhoneNumber: "+15550001111"}
	require.NoError(t, store.Users().Create(ctx, user))

	sealed, err := v.Encrypt([]byte("sk-test-key"))
	require.NoError(t, err)

	// BaseURL points at a closed local port so provider calls fail fast
	// instead of reaching out to a real endpoint.
	settings, err := json.Marshal(storage.ModelSettings{
		Model:              "gpt-4o-mini",
		MaxContextMessages: 20,
		BaseURL:            "http://127.0.0.1:1/v1",
	})
	require.NoError(t, err)

	cfg := &storage.LLMConfig{
		UserID:          user.ID,
		Provider:        storage.LLMProviderOpenAI,
		APIKeyEncrypted: sealed,
		ModelSettings:   settings,
		IsActive:        true,
	}
	require.NoError(t, store.LLMConfigs().Create(ctx, cfg))
	return user
}

func TestHandleIncomingPersistsReplyWithoutToolCalls(t *testing.T) {
	store := newTestStore(t)
	v := newTestVault(t)
	user := seedUserWithConfig(t, store, v)

	var sent []string
	engine := New(store, v, func(ctx context.Context, toNumber, content string, priority int) error {
		sent = append(sent, content)
		return nil
	})

	sessionID := uuid.New()
	incoming := &storage.Message{
		SessionID:    sessionID,
		UserID:       user.ID,
		SenderJID:    "15550001111@s.whatsapp.net",
		RecipientJID: "15550009999@s.whatsapp.net",
		Kind:         storage.MessageKindText,
		Direction:    storage.DirectionIncoming,
	}
	content := "hello there"
	incoming.Content = &content
	require.NoError(t, store.Messages().Store(context.Background(), incoming))

	err := engine.HandleIncoming(context.Background(), user.ID, user.PhoneNumber, incoming)
	require.NoError(t, err)
	require.Len(t, sent, 1)
}

func TestHandleIncomingFailsGracefullyWithoutConfig(t *testing.T) {
	store := newTestStore(t)
	v := newTestVault(t)
	ctx := context.Background()

	user := &storage.User{PhoneNumber: "+15550002222"}
	require.NoError(t, store.Users().Create(ctx, user))

	var sent []string
	engine := New(store, v, func(ctx context.Context, toNumber, content string, priority int) error {
		sent = append(sent, content)
		return nil
	})

	msgContent := "anyone there?"
	incoming := &storage.Message{
		UserID:    user.ID,
		Kind:      storage.MessageKindText,
		Direction: storage.DirectionIncoming,
		Content:   &msgContent,
	}
	require.NoError(t, store.Messages().Store(ctx, incoming))

	err := engine.HandleIncoming(ctx, user.ID, user.PhoneNumber, incoming)
	require.NoError(t, err)
	require.Equal(t, []string{"Your assistant isn't configured yet."}, sent)

	msgs, err := store.Messages().Recent(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, storage.DirectionSystem, msgs[1].Direction)
	require.Equal(t, storage.DeliveryStatusFailed, *msgs[1].DeliveryStatus)
}

func TestToolLoopStopsAfterFinalContent(t *testing.T) {
	store := newTestStore(t)
	engine := New(store, newTestVault(t), nil)

	provider := &fakeProvider{responses: []llm.Response{
		{Content: "", ToolCalls: []llm.ToolCall{{ID: "1", Name: ToolGetConversationStats, Arguments: "{}"}}},
		{Content: "Here are your stats."},
	}}

	user := &storage.User{PhoneNumber: "+15550003333"}
	require.NoError(t, store.Users().Create(context.Background(), user))

	reply, err := engine.toolLoop(context.Background(), provider, toolSet(), []llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleUser, Content: "how many messages have we exchanged?"},
	}, llm.Settings{}, user.ID)

	require.NoError(t, err)
	require.Equal(t, "Here are your stats.", reply)
	require.Equal(t, 2, provider.calls)
}

func TestToolLoopExhaustsBudget(t *testing.T) {
	store := newTestStore(t)
	engine := New(store, newTestVault(t), nil)

	responses := make([]llm.Response, 0, maxToolRounds)
	for i := 0; i < maxToolRounds; i++ {
		responses = append(responses, llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "x", Name: ToolGetRecentMessages, Arguments: "{}"}},
		})
	}
	provider := &fakeProvider{responses: responses}

	user := &storage.User{PhoneNumber: "+15550004444"}
	require.NoError(t, store.Users().Create(context.Background(), user))

	reply, err := engine.toolLoop(context.Background(), provider, toolSet(), []llm.Message{
		{Role: llm.RoleUser, Content: "keep calling tools forever"},
	}, llm.Settings{}, user.ID)

	require.NoError(t, err)
	require.Equal(t, "I wasn't able to finish that request within my tool-call budget.", reply)
	require.Equal(t, maxToolRounds, provider.calls)
}
