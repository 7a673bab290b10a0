package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// openaiProvider backs both OPENAI and any OpenAI-compatible endpoint
// (OLLAMA, CUSTOM) through go-openai's configurable BaseURL.
type openaiProvider struct {
	client *openai.Client
}

func newOpenAIProvider(apiKey, baseURL string) *openaiProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openaiProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) ChatWithTools(ctx context.Context, messages []Message, tools []Tool, settings Settings) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       settings.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(settings.Temperature),
		MaxTokens:   settings.MaxTokens,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, apierrors.New(apierrors.KindProviderInvalid, "openai: no choices in response")
	}

	choice := resp.Choices[0]
	out := Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

// classifyOpenAIError maps go-openai's *openai.APIError onto the
// apierrors provider taxonomy by HTTP status.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apierrors.Wrap(apierrors.KindProviderAuth, "openai auth error", err)
		case http.StatusTooManyRequests:
			return apierrors.Wrap(apierrors.KindProviderRateLimited, "openai rate limited", err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return apierrors.Wrap(apierrors.KindProviderInvalid, "openai invalid request", err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return apierrors.Wrap(apierrors.KindProviderTimeout, "openai timeout", err)
		default:
			return apierrors.Wrap(apierrors.KindProviderUnavailable, "openai unavailable", err)
		}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierrors.Wrap(apierrors.KindProviderTimeout, "openai timeout", err)
	}
	return apierrors.Wrap(apierrors.KindProviderUnavailable, "openai unavailable", err)
}
