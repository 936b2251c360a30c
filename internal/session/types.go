package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/cmd2ai/internal/llm"
)

// Session is one persisted conversation.
type Session struct {
	ID        string        `json:"id"`
	Model     string        `json:"model"`
	Summary   string        `json:"summary,omitempty"` // first user message
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Summary is a lightweight view of a session for listing.
type Summary struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Summary      string    `json:"summary,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// New starts an empty session.
func New(model string) *Session {
	now := time.Now()
	return &Session{
		ID:        NewID(),
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Expired reports whether the session has been idle for expiry or longer.
// A zero expiry never expires.
func (s *Session) Expired(now time.Time, expiry time.Duration) bool {
	return expiry > 0 && now.Sub(s.UpdatedAt) >= expiry
}

// summarize picks the listing summary: the first user message.
func summarize(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			return TruncateSummary(m.Content)
		}
	}
	return ""
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if r := []rune(content); len(r) > 100 {
		content = string(r[:97]) + "..."
	}
	return content
}

func marshalMessage(m llm.Message) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMessage(data string) (llm.Message, error) {
	var m llm.Message
	err := json.Unmarshal([]byte(data), &m)
	return m, err
}
