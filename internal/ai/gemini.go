package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// GeminiProvider talks to the generateContent endpoint of the Gemini API.
type GeminiProvider struct {
	APIKey string
	Model  string
	client *resty.Client
}

func NewGeminiProvider(baseURL, apiKey, model string) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		APIKey: apiKey,
		Model:  model,
		client: newRESTClient(baseURL),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiReq struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResp struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("gemini: api key is required")
	}

	var reqBody geminiReq
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case RoleAssistant:
			reqBody.Contents = append(reqBody.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			reqBody.Contents = append(reqBody.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	res, err := p.client.R().
		SetContext(ctx).
		SetHeader("X-goog-api-key", p.APIKey).
		SetBody(reqBody).
		Post(fmt.Sprintf("/models/%s:generateContent", p.Model))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if !res.IsSuccess() {
		return "", statusError("gemini", res)
	}

	var decoded geminiResp
	if err := json.Unmarshal(res.Body(), &decoded); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", fmt.Errorf("gemini: %s", decoded.Error.Message)
	}
	if len(decoded.Candidates) == 0 {
		return "", fmt.Errorf("gemini: no candidates: %w", ErrEmptyResponse)
	}

	var b strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini: candidate has no text: %w", ErrEmptyResponse)
	}
	return b.String(), nil
}
