package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/m4xw311/mars/errors"
)

// MockClient replays scripted responses in order and records every request.
// With no script it echoes the last user text, which backs the offline
// "mock" provider.
type MockClient struct {
	mu        sync.Mutex
	Responses []*Response
	Errors    []error
	Requests  []Request
	calls     int
}

// NewMockClient returns a client that replays responses in order.
func NewMockClient(responses ...*Response) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) Send(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	i := m.calls
	m.calls++

	if i < len(m.Errors) && m.Errors[i] != nil {
		return nil, m.Errors[i]
	}
	if len(m.Responses) == 0 && len(m.Errors) == 0 {
		return echo(req), nil
	}
	if i >= len(m.Responses) {
		return nil, errors.New("mock client: no scripted response for call %d", i+1)
	}
	return m.Responses[i], nil
}

// Stream replays the next scripted response as word deltas followed by one
// message_delta carrying its usage.
func (m *MockClient) Stream(ctx context.Context, req Request, handle func(StreamEvent) error) error {
	resp, err := m.Send(ctx, req)
	if err != nil {
		return err
	}
	text := resp.Message().Text()
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handle(StreamEvent{Type: EventContentBlockDelta, Text: word}); err != nil {
			return err
		}
	}
	return handle(StreamEvent{Type: EventMessageDelta, Usage: resp.Usage})
}

// Calls returns how many requests were made.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func echo(req Request) *Response {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			if last = req.Messages[i].Text(); last != "" {
				break
			}
		}
	}
	words := int64(len(strings.Fields(last)))
	return &Response{
		Content:    []ContentBlock{TextBlock(fmt.Sprintf("I am a mock LLM. You said: '%s'.", last))},
		StopReason: StopReasonEndTurn,
		Usage:      Usage{InputTokens: words, OutputTokens: words + 7},
	}
}
