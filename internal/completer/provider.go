package completer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider adapts an OpenAI-chat-completions-shaped HTTP API into the
// Completer contract, following the request/response plumbing of the
// corpus's ai.OpenAIClient (bearer auth, JSON body, single POST).
type HTTPProvider struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewHTTPProvider builds a provider with a sane request timeout, mirroring
// ai.NewOpenAIClient's 30s default.
func NewHTTPProvider(name, apiKey, baseURL, model string) *HTTPProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPProvider{
		Name:    name,
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   model,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *HTTPProvider) IsAvailable() bool {
	return p.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends req to the provider. System-role messages in req.Messages
// are dropped: SystemPrompt is the sole system channel.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if !p.IsAvailable() {
		return Response{}, &Error{Provider: p.Name, Code: "no_credentials", Retryable: false, Message: "provider not configured"}
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range sanitizeMessages(req.Messages) {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body := chatRequest{
		Model:       p.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, &Error{Provider: p.Name, Code: "marshal_error", Retryable: false, Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return Response{}, &Error{Provider: p.Name, Code: "request_build_failed", Retryable: false, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, &Error{Provider: p.Name, Code: "network_error", Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Provider: p.Name, Code: "read_body_failed", Retryable: true, Cause: err}
	}

	if resp.StatusCode >= 400 {
		retryable := ClassifyHTTPStatus(resp.StatusCode)
		return Response{}, &Error{
			Provider:  p.Name,
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Retryable: retryable,
			Message:   fmt.Sprintf("%s returned %d: %s", p.Name, resp.StatusCode, truncate(string(raw), 500)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, &Error{Provider: p.Name, Code: "invalid_shape", Retryable: false, Cause: err}
	}
	if parsed.Error != nil {
		return Response{}, &Error{Provider: p.Name, Code: parsed.Error.Code, Retryable: false, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &Error{Provider: p.Name, Code: "empty_choices", Retryable: false, Message: "provider returned no choices"}
	}

	return Response{
		Content:    parsed.Choices[0].Message.Content,
		StopReason: parsed.Choices[0].FinishReason,
		Model:      parsed.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

var _ Completer = (*HTTPProvider)(nil)
