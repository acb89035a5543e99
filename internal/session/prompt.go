package session

import (
	"strings"
	"time"
)

// ContextWindow is how many of the most recent transcript entries are sent with a prompt.
const ContextWindow = 5

type Intent int

const (
	// IntentRegenerate asks for the whole component.
	IntentRegenerate Intent = iota
	// IntentOverride targets one element of the current component.
	IntentOverride
)

var overridePhrases = []string{"modify the element", "element with id"}

func ClassifyIntent(request string) Intent {
	lower := strings.ToLower(request)
	for _, p := range overridePhrases {
		if strings.Contains(lower, p) {
			return IntentOverride
		}
	}
	return IntentRegenerate
}

const regenerateInstructions = "\n\nIMPORTANT:\n" +
	"- Only output a single valid React functional component in a ```jsx code block.\n" +
	"- Do NOT include any import or export statements.\n" +
	"- Use React hooks like React.useState() directly (do NOT import useState).\n" +
	"- Do NOT include any explanations, comments, or extra text.\n" +
	"- If CSS is needed, output it in a separate ```css code block, and use matching className attributes in the JSX.\n" +
	"- Do NOT output any code or explanation for other languages or frameworks.\n" +
	"- The code must be ready to run in a React sandbox like react-live."

const overrideInstructions = "\n\nIMPORTANT:\n" +
	"- Change only the targeted element. Keep every other element, prop and class name as it is.\n" +
	"- Output the complete updated component in a single ```jsx code block.\n" +
	"- Output the complete updated stylesheet in a single ```css code block.\n" +
	"- Do NOT include any import or export statements.\n" +
	"- Do NOT include any explanations, comments, or extra text."

func instructionsFor(intent Intent) string {
	if intent == IntentOverride {
		return overrideInstructions
	}
	return regenerateInstructions
}

func roleLabel(r Role) string {
	if r == RoleAssistant {
		return "AI"
	}
	return "User"
}

// RecentMessages returns at most n trailing entries, oldest first.
func RecentMessages(transcript []ChatMessage, n int) []ChatMessage {
	if len(transcript) <= n {
		return transcript
	}
	return transcript[len(transcript)-n:]
}

func RenderTranscript(msgs []ChatMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, roleLabel(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt assembles the outbound prompt from the transcript as it was before this turn,
// the current artifact and the new request.
func BuildPrompt(transcript []ChatMessage, artifact Artifact, request string) string {
	var b strings.Builder

	if history := RenderTranscript(RecentMessages(transcript, ContextWindow)); history != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}

	if !artifact.IsEmpty() {
		b.WriteString("Current component code:\n```jsx\n")
		b.WriteString(artifact.Markup)
		b.WriteString("\n```\n```css\n")
		b.WriteString(artifact.Style)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("User request: ")
	b.WriteString(request)
	b.WriteString(instructionsFor(ClassifyIntent(request)))
	return b.String()
}

// appendUserMessage appends request as a user entry unless the last entry already carries the
// same content (a resend).
func appendUserMessage(transcript []ChatMessage, request string, now time.Time) []ChatMessage {
	if n := len(transcript); n > 0 && transcript[n-1].Content == request {
		return transcript
	}
	return append(transcript, ChatMessage{Role: RoleUser, Content: request, Timestamp: now})
}
