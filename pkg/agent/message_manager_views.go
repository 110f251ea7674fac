package agent

import (
	"slices"

	"github.com/cloudwego/eino/schema"
)

const messageTypeInit = "init"

type MessageMetadata struct {
	Tokens int `json:"tokens"`
	// InMemory is false for one-shot messages that only inform the next call.
	InMemory    bool   `json:"in_memory"`
	MessageType string `json:"message_type,omitempty"`
}

type ManagedMessage struct {
	Message  *schema.Message  `json:"message"`
	Metadata *MessageMetadata `json:"metadata"`
}

type MessageHistory struct {
	Messages      []ManagedMessage `json:"messages"`
	CurrentTokens int              `json:"current_tokens"`
}

func (m *MessageHistory) AddMessage(message *schema.Message, metadata *MessageMetadata) {
	m.Messages = append(m.Messages, ManagedMessage{Message: message, Metadata: metadata})
	m.CurrentTokens += metadata.Tokens
}

func (m *MessageHistory) RemoveMessage(index int) {
	if index < 0 || index >= len(m.Messages) {
		return
	}
	m.CurrentTokens -= m.Messages[index].Metadata.Tokens
	m.Messages = slices.Delete(m.Messages, index, index+1)
}

// Truncate keeps the first n messages.
func (m *MessageHistory) Truncate(n int) {
	for len(m.Messages) > n {
		m.RemoveMessage(len(m.Messages) - 1)
	}
}

func (m *MessageHistory) GetMessages() []*schema.Message {
	messages := make([]*schema.Message, 0, len(m.Messages))
	for _, msg := range m.Messages {
		messages = append(messages, msg.Message)
	}
	return messages
}

func (m *MessageHistory) GetTotalTokens() int {
	return m.CurrentTokens
}

type MessageManagerState struct {
	History *MessageHistory
	// tokens of the last prepared model input
	LastInputTokens int
}

func NewMessageManagerState() *MessageManagerState {
	return &MessageManagerState{
		History: &MessageHistory{
			Messages:      make([]ManagedMessage, 0),
			CurrentTokens: 0,
		},
	}
}
