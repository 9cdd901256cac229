package llm

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// ContentBlock is one element of a message. Which fields are set depends on
// Type.
type ContentBlock struct {
	Type ContentType `json:"type"`

	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{TextBlock(text)}}
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: ContentTypeToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: ContentTypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == ContentTypeText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == ContentTypeToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// ToolDefinition is what a tool publishes to the model for function calling.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage is the token accounting reported with a response. Cache counts are
// zero when a provider does not report them.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_input_tokens"`
	CacheWriteTokens int64 `json:"cache_creation_input_tokens"`
}

type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

type Request struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system,omitempty"`
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
}

type Response struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Message returns the response as an assistant history entry.
func (r *Response) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content}
}

// HasToolUse reports whether the model asked for at least one tool.
func (r *Response) HasToolUse() bool {
	for _, b := range r.Content {
		if b.Type == ContentTypeToolUse {
			return true
		}
	}
	return false
}

type StreamEventType string

const (
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventMessageDelta      StreamEventType = "message_delta"
)

// StreamEvent is one element of a streamed response: zero or more text
// deltas followed by exactly one message_delta carrying the usage.
type StreamEvent struct {
	Type  StreamEventType
	Text  string
	Usage Usage
}

// inputJSON marshals tool input for wire formats that want raw JSON.
func inputJSON(input map[string]any) json.RawMessage {
	if input == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(input)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
