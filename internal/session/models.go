package session

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const DefaultTitle = "Untitled Session"

type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is the generated component: markup (JSX) and its stylesheet.
type Artifact struct {
	Markup string `json:"markup"`
	Style  string `json:"style"`
}

func (a Artifact) IsEmpty() bool { return a.Markup == "" && a.Style == "" }

type Session struct {
	ID         string         `json:"id"`
	OwnerID    uint64         `json:"owner_id"`
	Title      string         `json:"title"`
	Transcript []ChatMessage  `json:"transcript"`
	Artifact   Artifact       `json:"artifact"`
	UIState    map[string]any `json:"ui_state"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Summary is the list view of a session.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateInput struct {
	Title      string        `json:"title"`
	Transcript []ChatMessage `json:"transcript"`
}

// Patch overwrites the fields that are set; nil fields are left unchanged.
type Patch struct {
	Title      *string        `json:"title"`
	Transcript *[]ChatMessage `json:"transcript"`
	Artifact   *Artifact      `json:"artifact"`
	UIState    map[string]any `json:"ui_state"`
}

func validateTranscript(msgs []ChatMessage, now time.Time) error {
	for i := range msgs {
		switch msgs[i].Role {
		case RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: transcript[%d] has role %q", ErrInvalidInput, i, msgs[i].Role)
		}
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}
	return nil
}
