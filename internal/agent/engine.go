// Package agent is the per-user orchestrator: it loads the user's LLM
// policy, builds conversation context, drives the tool-calling loop
// against the provider, and persists the reply before enqueueing its
// delivery.
package agent

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapa-app/zapa/internal/apierrors"
	"github.com/zapa-app/zapa/internal/llm"
	"github.com/zapa-app/zapa/internal/storage"
	"github.com/zapa-app/zapa/internal/vault"
)

// defaultMaxContextMessages is how much history one agent turn sees
// unless the user's model settings override it.
const defaultMaxContextMessages = 20

// maxToolRounds bounds the outer tool-call loop per user message.
const maxToolRounds = 4

// toolLoopBudget is the wall-clock bound on one agent turn, on top of
// the round count.
const toolLoopBudget = 60 * time.Second

const defaultSystemPrompt = "You are a helpful personal assistant communicating over WhatsApp. Be concise."

// Sender enqueues the final reply for delivery. The supervisor wires it
// to the outbound queue, so this package has no queue dependency.
type Sender func(ctx context.Context, toNumber, content string, priority int) error

// Engine drives the per-message pipeline.
type Engine struct {
	store *storage.Store
	vault *vault.Vault
	send  Sender

	mu       sync.Mutex
	lastSeen map[uuid.UUID]time.Time
}

func New(store *storage.Store, v *vault.Vault, send Sender) *Engine {
	return &Engine{
		store:    store,
		vault:    v,
		send:     send,
		lastSeen: make(map[uuid.UUID]time.Time),
	}
}

// debounced reports a burst of near-simultaneous webhook deliveries for
// the same user that would otherwise run as independent agent turns.
func (e *Engine) debounced(userID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastSeen[userID]
	now := time.Now()
	e.lastSeen[userID] = now
	return ok && now.Sub(last) < 500*time.Millisecond
}

// HandleIncoming runs the full pipeline for one inbound TEXT message
// from a known user. msg is the already-stored incoming row; the webhook
// intake commits it before dispatching here.
func (e *Engine) HandleIncoming(ctx context.Context, userID uuid.UUID, phoneNumber string, msg *storage.Message) error {
	if e.debounced(userID) {
		log.Warn().Str("user_id", userID.String()).Msg("agent: debounced rapid repeat message")
	}

	cfg, err := e.store.LLMConfigs().GetActive(ctx, userID)
	if err != nil {
		return e.failSystem(ctx, userID, phoneNumber, msg, noConfigReply, true)
	}

	provider, settings, contextSize, err := e.buildProvider(cfg)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("agent: failed to build llm provider")
		if apierrors.Is(err, apierrors.KindCrypto) {
			// Never retried, never sent: the stored key is unusable until
			// the user replaces it.
			return e.failSystem(ctx, userID, phoneNumber, msg, credentialsReply, false)
		}
		return e.failSystem(ctx, userID, phoneNumber, msg, noConfigReply, true)
	}

	history, err := e.store.Messages().Recent(ctx, userID, contextSize)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "load recent messages", err)
	}

	messages := buildContext(settings, history, msg)
	tools := toolSet()

	reply, err := e.toolLoop(ctx, provider, tools, messages, settings, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("agent: tool loop failed")
		if apierrors.Is(err, apierrors.KindProviderAuth) {
			return e.failSystem(ctx, userID, phoneNumber, msg, credentialsReply, false)
		}
		return e.failSystem(ctx, userID, phoneNumber, msg, "Sorry, I'm unable to respond right now. Please try again in a moment.", true)
	}

	now := time.Now()
	outgoing := &storage.Message{
		SessionID:    msg.SessionID,
		UserID:       userID,
		SenderJID:    msg.RecipientJID,
		RecipientJID: msg.SenderJID,
		Timestamp:    now,
		Kind:         storage.MessageKindText,
		Direction:    storage.DirectionOutgoing,
		Content:      &reply,
	}
	// Persist the reply before enqueueing the send. The startup
	// reconciliation pass replays only incoming messages that have no later
	// reply, so a reply stored here whose send was never enqueued is not
	// re-sent.
	if err := e.store.Messages().Store(ctx, outgoing); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "persist agent reply", err)
	}

	if err := e.send(ctx, phoneNumber, reply, 0); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "enqueue agent reply", err)
	}
	return nil
}

const (
	noConfigReply    = "Your assistant isn't configured yet."
	credentialsReply = "Your AI provider rejected the stored API key. Please update it in the dashboard."
)

// failSystem persists a canned SYSTEM message with status FAILED for
// this turn and, when deliver is set, enqueues it as an outbound send so
// the user actually sees it.
func (e *Engine) failSystem(ctx context.Context, userID uuid.UUID, phoneNumber string, incoming *storage.Message, content string, deliver bool) error {
	failed := storage.DeliveryStatusFailed
	m := &storage.Message{
		UserID:         userID,
		Timestamp:      time.Now(),
		Kind:           storage.MessageKindText,
		Direction:      storage.DirectionSystem,
		Content:        &content,
		DeliveryStatus: &failed,
	}
	if incoming != nil {
		m.SessionID = incoming.SessionID
		m.SenderJID = incoming.RecipientJID
		m.RecipientJID = incoming.SenderJID
	}
	if err := e.store.Messages().Store(ctx, m); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "persist system failure message", err)
	}
	if deliver {
		if err := e.send(ctx, phoneNumber, content, 0); err != nil {
			return apierrors.Wrap(apierrors.KindInternal, "enqueue system failure message", err)
		}
	}
	return nil
}

func (e *Engine) buildProvider(cfg *storage.LLMConfig) (llm.Provider, llm.Settings, int, error) {
	plaintext, err := e.vault.Decrypt(cfg.APIKeyEncrypted)
	if err != nil {
		return nil, llm.Settings{}, 0, apierrors.Wrap(apierrors.KindCrypto, "decrypt llm api key", err)
	}

	var ms storage.ModelSettings
	if len(cfg.ModelSettings) > 0 {
		_ = json.Unmarshal(cfg.ModelSettings, &ms)
	}

	provider, err := llm.New(llm.Config{
		Type:    llm.ProviderType(cfg.Provider),
		APIKey:  string(plaintext),
		BaseURL: ms.BaseURL,
	})
	if err != nil {
		return nil, llm.Settings{}, 0, err
	}

	settings := llm.Settings{
		Model:        ms.Model,
		Temperature:  ms.Temperature,
		MaxTokens:    ms.MaxTokens,
		SystemPrompt: ms.SystemPrompt,
		BaseURL:      ms.BaseURL,
	}
	if settings.SystemPrompt == "" {
		settings.SystemPrompt = defaultSystemPrompt
	}
	if settings.MaxTokens == 0 {
		settings.MaxTokens = 1024
	}

	contextSize := ms.MaxContextMessages
	if contextSize == 0 {
		contextSize = defaultMaxContextMessages
	}
	return provider, settings, contextSize, nil
}

func buildContext(settings llm.Settings, history []storage.Message, current *storage.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: settings.SystemPrompt})
	for _, h := range history {
		role := llm.RoleUser
		if h.Direction == storage.DirectionOutgoing {
			role = llm.RoleAssistant
		}
		content := ""
		if h.Content != nil {
			content = *h.Content
		}
		messages = append(messages, llm.Message{Role: role, Content: content})
	}
	currentContent := ""
	if current.Content != nil {
		currentContent = *current.Content
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: currentContent})
	return messages
}

// toolLoop drives repeated provider calls interleaved with tool
// execution until final content arrives or a budget runs out.
func (e *Engine) toolLoop(ctx context.Context, provider llm.Provider, tools []llm.Tool, messages []llm.Message, settings llm.Settings, userID uuid.UUID) (string, error) {
	deps := toolDeps{store: e.store, userID: userID, provider: provider, settings: settings}

	ctx, cancel := context.WithTimeout(ctx, toolLoopBudget)
	defer cancel()

	for round := 0; round < maxToolRounds; round++ {
		resp, err := chatWithRetry(ctx, provider, messages, tools, settings)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := executeTool(ctx, deps, call)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	return "I wasn't able to finish that request within my tool-call budget.", nil
}

// chatWithRetry applies the provider retry policy to one LLM call:
// rate-limited responses get up to two jittered retries, auth and
// invalid-request errors are never retried, and any other transient
// failure gets exactly one more attempt.
func chatWithRetry(ctx context.Context, provider llm.Provider, messages []llm.Message, tools []llm.Tool, settings llm.Settings) (llm.Response, error) {
	resp, err := provider.ChatWithTools(ctx, messages, tools, settings)
	if err == nil {
		return resp, nil
	}

	switch apierrors.KindOf(err) {
	case apierrors.KindProviderAuth, apierrors.KindProviderInvalid:
		return llm.Response{}, err
	case apierrors.KindProviderRateLimited:
		for attempt := 0; attempt < 2 && err != nil; attempt++ {
			jitter := time.Duration(500+rand.Intn(1500)) * time.Millisecond
			select {
			case <-ctx.Done():
				return llm.Response{}, err
			case <-time.After(jitter):
			}
			resp, err = provider.ChatWithTools(ctx, messages, tools, settings)
		}
		return resp, err
	default:
		return provider.ChatWithTools(ctx, messages, tools, settings)
	}
}
