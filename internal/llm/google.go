package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// googleProvider issues raw REST calls to the generativelanguage API's
// v1beta generateContent endpoint; v1beta rather than v1 because only it
// carries the functionCall/functionResponse parts tool calling needs.
type googleProvider struct {
	apiKey string
	client *http.Client
}

func newGoogleProvider(apiKey string) *googleProvider {
	return &googleProvider{apiKey: apiKey, client: &http.Client{Timeout: 60 * time.Second}}
}

func (p *googleProvider) Name() string { return "google" }

type googlePart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *googleFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *googleFunctionResp `json:"functionResponse,omitempty"`
}

type googleFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type googleFunctionResp struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type googleTool struct {
	FunctionDeclarations []googleFunctionDeclaration `json:"functionDeclarations"`
}

type googleRequest struct {
	Contents          []googleContent        `json:"contents"`
	Tools             []googleTool           `json:"tools,omitempty"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig"`
}

type googleGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *googleProvider) ChatWithTools(ctx context.Context, messages []Message, tools []Tool, settings Settings) (Response, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		settings.Model, p.apiKey)

	req := googleRequest{
		GenerationConfig: googleGenerationConfig{
			Temperature:     settings.Temperature,
			MaxOutputTokens: settings.MaxTokens,
		},
	}
	if settings.SystemPrompt != "" {
		req.SystemInstruction = &googleContent{Parts: []googlePart{{Text: settings.SystemPrompt}}}
	}
	if len(tools) > 0 {
		decls := make([]googleFunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, googleFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		req.Tools = []googleTool{{FunctionDeclarations: decls}}
	}
	req.Contents = toGoogleContents(messages)

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, apierrors.Wrap(apierrors.KindInternal, "marshal google request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, apierrors.Wrap(apierrors.KindInternal, "build google request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, apierrors.Wrap(apierrors.KindProviderUnavailable, "google request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Response{}, classifyGoogleError(resp.StatusCode, respBody)
	}

	var gr googleResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return Response{}, apierrors.Wrap(apierrors.KindProviderInvalid, "decode google response", err)
	}
	if len(gr.Candidates) == 0 {
		return Response{}, apierrors.New(apierrors.KindProviderInvalid, "google: no candidates in response")
	}

	cand := gr.Candidates[0]
	out := Response{FinishReason: cand.FinishReason}
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	return out, nil
}

func toGoogleContents(messages []Message) []googleContent {
	out := make([]googleContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleTool:
			var respMap map[string]interface{}
			_ = json.Unmarshal([]byte(m.Content), &respMap)
			out = append(out, googleContent{
				Role:  "function",
				Parts: []googlePart{{FunctionResponse: &googleFunctionResp{Name: m.Name, Response: respMap}}},
			})
		case RoleAssistant:
			parts := []googlePart{}
			if m.Content != "" {
				parts = append(parts, googlePart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]interface{}
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
				parts = append(parts, googlePart{FunctionCall: &googleFunctionCall{Name: tc.Name, Args: args}})
			}
			out = append(out, googleContent{Role: "model", Parts: parts})
		default:
			out = append(out, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}
	return out
}

func classifyGoogleError(status int, body []byte) error {
	msg := fmt.Sprintf("google returned %d: %s", status, string(body))
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apierrors.New(apierrors.KindProviderAuth, msg)
	case http.StatusTooManyRequests:
		return apierrors.New(apierrors.KindProviderRateLimited, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apierrors.New(apierrors.KindProviderInvalid, msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return apierrors.New(apierrors.KindProviderTimeout, msg)
	default:
		return apierrors.New(apierrors.KindProviderUnavailable, msg)
	}
}
