package llm

import (
	"context"
)

// Client sends a full conversation to a model and returns its reply.
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// StreamingClient is implemented by clients that can stream text deltas.
// The handler receives events in order; a handler error aborts the stream.
type StreamingClient interface {
	Client
	Stream(ctx context.Context, req Request, handle func(StreamEvent) error) error
}

// AsStreaming returns the streaming capability of c if it has one.
func AsStreaming(c Client) (StreamingClient, bool) {
	s, ok := c.(StreamingClient)
	return s, ok
}
