package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// OpenRouterProvider speaks the OpenAI-compatible chat completions API of OpenRouter.
type OpenRouterProvider struct {
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	client  *resty.Client
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterChatReq struct {
	Model    string          `json:"model"`
	Messages []openRouterMsg `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message openRouterMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		client:  newRESTClient(baseURL),
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", errors.New("openrouter: model is required")
	}

	reqBody := openRouterChatReq{Model: model}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, openRouterMsg{Role: m.Role, Content: m.Content})
	}

	req := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.APIKey).
		SetBody(reqBody)
	if p.SiteURL != "" {
		req.SetHeader("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.SetHeader("X-Title", p.AppName)
	}

	res, err := req.Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	if !res.IsSuccess() {
		return "", statusError("openrouter", res)
	}

	var decoded openRouterChatResp
	if err := json.Unmarshal(res.Body(), &decoded); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", fmt.Errorf("openrouter: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openrouter: %w", ErrEmptyResponse)
	}
	return decoded.Choices[0].Message.Content, nil
}
