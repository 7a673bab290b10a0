// Package llm is a provider-agnostic chat-with-tools client. Each
// provider maps the neutral Message/Tool/Response shapes onto its own
// wire format; selection is a runtime factory switch. The adapter is
// stateless and never loops on tool calls; that is the agent
// orchestrator's job.
package llm

import (
	"context"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// Role mirrors the provider-neutral chat roles every provider maps its own
// wire format to.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested invocation of one of the tools offered in
// the request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON, unparsed; the caller owns decoding
}

// Message is one turn of the conversation sent to or received from a
// provider. ToolCallID is set on RoleTool messages to correlate the result
// with the ToolCall that produced it.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Tool describes a callable function in JSON-schema form, passed to the
// provider so the model may request it. Parameters follows the JSON Schema
// object shape go-openai and the Anthropic Messages API both expect.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Response is a single model turn: either a final Content answer, or one or
// more ToolCalls the caller must execute and feed back as RoleTool messages.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Settings carries the per-user model configuration decrypted from
// storage.LLMConfig.
type Settings struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	BaseURL      string
}

// Provider is implemented by each backing LLM service. A single call may
// return either a final answer or tool calls; the agent orchestrator drives
// the loop.
type Provider interface {
	ChatWithTools(ctx context.Context, messages []Message, tools []Tool, settings Settings) (Response, error)
	Name() string
}

// ProviderType selects which Provider implementation New builds, mirroring
// storage.LLMProviderType.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "OPENAI"
	ProviderAnthropic ProviderType = "ANTHROPIC"
	ProviderGoogle    ProviderType = "GOOGLE"
	ProviderOllama    ProviderType = "OLLAMA"
	ProviderCustom    ProviderType = "CUSTOM"
)

// Config carries the decrypted API key and endpoint override needed to
// construct a Provider.
type Config struct {
	Type    ProviderType
	APIKey  string
	BaseURL string
}

// New is the provider factory.
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, apierrors.New(apierrors.KindValidation, "openai api key is required")
		}
		return newOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, apierrors.New(apierrors.KindValidation, "anthropic api key is required")
		}
		return newAnthropicProvider(cfg.APIKey), nil
	case ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, apierrors.New(apierrors.KindValidation, "google api key is required")
		}
		return newGoogleProvider(cfg.APIKey), nil
	case ProviderOllama:
		// Ollama exposes an OpenAI-compatible endpoint, so it reuses the
		// OpenAI transport with a configurable base URL.
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return newOpenAIProvider("ollama", baseURL), nil
	case ProviderCustom:
		if cfg.BaseURL == "" {
			return nil, apierrors.New(apierrors.KindValidation, "custom provider requires a base_url")
		}
		return newOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, apierrors.New(apierrors.KindValidation, "unknown llm provider type: "+string(cfg.Type))
	}
}
