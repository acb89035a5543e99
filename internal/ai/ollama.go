package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// OllamaProvider calls a local Ollama daemon with streaming disabled.
type OllamaProvider struct {
	Model  string
	client *resty.Client
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{Model: model, client: newRESTClient(baseURL)}
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	reqBody := ollamaChatReq{Model: p.Model}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, ollamaMsg{Role: m.Role, Content: m.Content})
	}

	res, err := p.client.R().
		SetContext(ctx).
		SetBody(reqBody).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	if !res.IsSuccess() {
		return "", statusError("ollama", res)
	}

	var decoded ollamaChatResp
	if err := json.Unmarshal(res.Body(), &decoded); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("ollama: %s", decoded.Error)
	}
	if decoded.Message.Content == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return decoded.Message.Content, nil
}
