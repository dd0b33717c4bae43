package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_DeriveTitle(t *testing.T) {
	testCases := []struct {
		name     string
		messages []Message
		expected string
	}{
		{name: "Empty conversation", messages: nil, expected: DefaultTitle},
		{name: "Greeting only", messages: []Message{NewMessage(RoleAssistant, "Hello there")}, expected: "Hello there"},
		{
			name: "First user message wins over greeting",
			messages: []Message{
				NewMessage(RoleAssistant, "Hello! How can I help?"),
				NewMessage(RoleUser, "What is Go?"),
			},
			expected: "What is Go?",
		},
		{
			name:     "Long text is truncated by runes",
			messages: []Message{NewMessage(RoleUser, strings.Repeat("é", 40))},
			expected: strings.Repeat("é", 30) + "...",
		},
		{
			name:     "Whitespace collapses",
			messages: []Message{NewMessage(RoleUser, "  line one\n\nline two ")},
			expected: "line one line two",
		},
		{name: "Blank content falls back", messages: []Message{NewMessage(RoleUser, "   ")}, expected: DefaultTitle},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Conversation{Messages: tc.messages}
			assert.Equal(t, tc.expected, c.DeriveTitle())
		})
	}
}

func TestConversation_DerivePreview(t *testing.T) {
	c := &Conversation{}
	assert.Empty(t, c.DerivePreview())

	c.Append(NewMessage(RoleUser, "hi"))
	c.Append(NewMessage(RoleAssistant, strings.Repeat("a", 60)))
	assert.Equal(t, strings.Repeat("a", 50)+"...", c.DerivePreview())
}

func TestNewConversation(t *testing.T) {
	c := NewConversation("Welcome")
	require.Len(t, c.Messages, 1)
	assert.Equal(t, RoleAssistant, c.Messages[0].Role)
	assert.Equal(t, "Welcome", c.Title)

	empty := NewConversation("")
	assert.Empty(t, empty.Messages)
	assert.Equal(t, DefaultTitle, empty.Title)
}

func TestConversation_CloneIsIndependent(t *testing.T) {
	c := NewConversation("Welcome")
	clone := c.Clone()
	c.Append(NewMessage(RoleUser, "later"))

	assert.Len(t, clone.Messages, 1)
	assert.Len(t, c.Messages, 2)
}

func TestConversation_JSONRoundTrip(t *testing.T) {
	c := NewConversation("Welcome")
	c.Append(NewMessage(RoleUser, "Hello"))
	c.Append(NewMessage(RoleAssistant, "Hi there"))
	c.Touch()

	data, err := json.Marshal([]Conversation{*c})
	require.NoError(t, err)

	var decoded []Conversation
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, *c, decoded[0])
}

func TestServerStatus_HasModel(t *testing.T) {
	s := ServerStatus{Models: []string{"llama3.2", "mistral"}}
	assert.True(t, s.HasModel("mistral"))
	assert.False(t, s.HasModel("phi3"))
}
