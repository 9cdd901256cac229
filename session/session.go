// Package session persists what outlives a process: the user's provider and
// model preferences and chat transcripts.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/m4xw311/mars/llm"
)

type From string

const (
	FromUser      From = "user"
	FromAssistant From = "assistant"
	FromSystem    From = "system"
)

// State drives how a front end styles a message.
type State string

const (
	StateSuccess State = "success"
	StateWarning State = "warning"
	StateError   State = "error"
	StateNeutral State = "neutral"
)

// Message is one entry of the visible transcript.
type Message struct {
	ID        string    `json:"id"`
	From      From      `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
}

func NewMessage(from From, content string, state State) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		Content:   content,
		Timestamp: time.Now(),
		State:     state,
	}
}

// Chat is a saved conversation. Messages is what the user saw, History is
// what the model saw and is restored into the agent on resume.
type Chat struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	ProviderID string        `json:"providerId"`
	ModelID    string        `json:"modelId"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Messages   []Message     `json:"messages"`
	History    []llm.Message `json:"history"`
}

func NewChat(title string) *Chat {
	now := time.Now()
	return &Chat{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
}

// AddMessage appends a message to the visible transcript.
func (c *Chat) AddMessage(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// ModelRef names a model inside preferences.
type ModelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Preferences struct {
	CurrentProviderID string   `json:"currentProviderId"`
	CurrentModel      ModelRef `json:"currentModel"`
	DefaultProviderID string   `json:"defaultProviderId"`
	DefaultModel      ModelRef `json:"defaultModel"`
	LastUsedChat      *string  `json:"lastUsedChat"`
}

// DefaultPreferences is written on first run and returned whenever the
// stored file is missing or unreadable.
func DefaultPreferences() Preferences {
	m := ModelRef{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4"}
	return Preferences{
		CurrentProviderID: "anthropic",
		CurrentModel:      m,
		DefaultProviderID: "anthropic",
		DefaultModel:      m,
	}
}
