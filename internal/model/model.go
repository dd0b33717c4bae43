package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// DefaultTitle is used when a conversation has no text to derive a title from.
	DefaultTitle = "New Chat"

	titleRunes   = 30
	previewRunes = 50
)

// Message stores a single finalized turn. Messages are never edited after
// they have been appended to a Conversation.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a titled, ordered sequence of messages persisted as one unit.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	LastModified time.Time `json:"last_modified"`
	Preview      string    `json:"last_message_preview"`
}

// Draft is the in-flight assistant reply assembled from stream fragments.
type Draft struct {
	StreamID uuid.UUID `json:"stream_id"`
	Text     string    `json:"text"`
}

// ServerStatus describes the last observation of the inference server.
type ServerStatus struct {
	Reachable  bool      `json:"reachable"`
	Models     []string  `json:"models"`
	Version    string    `json:"version,omitempty"`
	StatusText string    `json:"status_text"`
	CheckedAt  time.Time `json:"checked_at"`
}

// HasModel reports whether name is among the installed models.
func (s ServerStatus) HasModel(name string) bool {
	for _, m := range s.Models {
		if m == name {
			return true
		}
	}
	return false
}

// Now returns the current time in UTC with the monotonic reading stripped, so
// timestamps survive a JSON round trip unchanged.
func Now() time.Time {
	return time.Now().UTC()
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(role Role, content string) Message {
	return Message{ID: uuid.New(), Role: role, Content: content, CreatedAt: Now()}
}

// NewConversation creates an empty conversation, seeded with an assistant
// greeting when greeting is non-empty.
func NewConversation(greeting string) *Conversation {
	c := &Conversation{ID: uuid.New(), Messages: []Message{}, LastModified: Now()}
	if greeting != "" {
		c.Messages = append(c.Messages, NewMessage(RoleAssistant, greeting))
	}
	c.Title = c.DeriveTitle()
	return c
}

// Append adds a finalized message to the end of the conversation.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
	c.LastModified = Now()
}

// Clone returns a deep copy whose message slice can be handed out safely.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// DeriveTitle builds the title from the first user message, falling back to
// the first message of any role. The result is never empty.
func (c *Conversation) DeriveTitle() string {
	source := ""
	for _, m := range c.Messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			source = m.Content
			break
		}
	}
	if source == "" && len(c.Messages) > 0 {
		source = c.Messages[0].Content
	}
	title := truncate(collapse(source), titleRunes)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// DerivePreview returns the truncated text of the last message.
func (c *Conversation) DerivePreview() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return truncate(collapse(c.Messages[len(c.Messages)-1].Content), previewRunes)
}

// Touch refreshes the derived fields before the conversation is persisted.
func (c *Conversation) Touch() {
	c.Title = c.DeriveTitle()
	c.Preview = c.DerivePreview()
	c.LastModified = Now()
}

// collapse folds runs of whitespace (including newlines) into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
