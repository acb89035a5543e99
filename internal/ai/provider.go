package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role    string
	Content string
}

// Provider is the generation boundary. Implementations do not retry.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ErrEmptyResponse is returned when the service answered 2xx but carried no generated text.
var ErrEmptyResponse = errors.New("empty response")

// StatusError is a non-2xx answer from a generation service.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func newRESTClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
}

func statusError(provider string, res *resty.Response) error {
	body := strings.TrimSpace(res.String())
	if len(body) > 4*1024 {
		body = body[:4*1024]
	}
	return &StatusError{Provider: provider, StatusCode: res.StatusCode(), Body: body}
}
