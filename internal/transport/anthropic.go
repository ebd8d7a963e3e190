package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/conduit/internal/classify"
	"github.com/af-corp/conduit/internal/config"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropicClient(cfg config.ProviderConfig, client *http.Client) *AnthropicClient {
	return &AnthropicClient{cfg: cfg, client: client}
}

func (a *AnthropicClient) Name() string { return "anthropic" }

func (a *AnthropicClient) Do(ctx context.Context, req *Request) (*Response, error) {
	// Anthropic requires max_tokens
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	var messages []anthropicMessage
	system := req.System
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body := anthropicRequestBody{
		Model:       req.Model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	if a.cfg.APIVersion != "" {
		httpReq.Header.Set("anthropic-version", a.cfg.APIVersion)
	}
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAnthropicError(resp.StatusCode, raw)
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(raw, &antResp); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}

	var content string
	for _, block := range antResp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}

	return &Response{
		Model:        antResp.Model,
		Provider:     "anthropic",
		Content:      content,
		FinishReason: mapStopReason(antResp.StopReason),
		Usage: Usage{
			PromptTokens:     antResp.Usage.InputTokens,
			CompletionTokens: antResp.Usage.OutputTokens,
			TotalTokens:      antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
	}, nil
}

// ListModels fetches the provider model catalog.
func (a *AnthropicClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	if a.cfg.APIVersion != "" {
		httpReq.Header.Set("anthropic-version", a.cfg.APIVersion)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic models request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAnthropicError(resp.StatusCode, raw)
	}

	var catalog struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic models response: %w", err)
	}

	models := make([]ModelInfo, 0, len(catalog.Data))
	for _, m := range catalog.Data {
		models = append(models, ModelInfo{ID: m.ID, OwnedBy: "anthropic"})
	}
	return models, nil
}

// parseAnthropicError converts an error response body into the tagged error
// model. Anthropic nests its error one level deep:
// {"type":"error","error":{"type":"...","message":"..."}}
func parseAnthropicError(statusCode int, raw []byte) *APIError {
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	data := classify.ErrorData{StatusCode: statusCode}
	if err := json.Unmarshal(raw, &body); err == nil {
		data.Code = body.Error.Type
		data.Detail = body.Error.Message
		data.Message = body.Message
	}
	if data.Message == "" && data.Detail == "" {
		data.Message = string(raw)
	}
	return &APIError{Data: data}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stop        []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
