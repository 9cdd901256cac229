package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/mars/errors"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a new AnthropicClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicClient(logger *slog.Logger) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled by RetryingClient.
		option.WithMaxRetries(0),
	}
	if base := os.Getenv("ANTHROPIC_BASE_URL"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(opts...)

	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{client: &client, logger: logger.With("provider", "anthropic")}, nil
}

func (a *AnthropicClient) Send(ctx context.Context, req Request) (*Response, error) {
	params := buildAnthropicParams(req)
	a.logger.Debug("sending request", "model", req.Model, "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return parseAnthropicMessage(resp)
}

// Stream sends the request without tools and reports text deltas as they
// arrive. Input and cache usage come from message_start, output usage from
// message_delta; the merged total is delivered with the final event.
func (a *AnthropicClient) Stream(ctx context.Context, req Request, handle func(StreamEvent) error) error {
	req.Tools = nil
	params := buildAnthropicParams(req)
	a.logger.Debug("streaming request", "model", req.Model, "messages", len(req.Messages))

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var usage Usage
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = ev.Message.Usage.InputTokens
			usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens
			usage.CacheWriteTokens = ev.Message.Usage.CacheCreationInputTokens
		case anthropic.ContentBlockDeltaEvent:
			if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				if err := handle(StreamEvent{Type: EventContentBlockDelta, Text: d.Text}); err != nil {
					return err
				}
			}
		case anthropic.MessageDeltaEvent:
			usage.OutputTokens = ev.Usage.OutputTokens
			if ev.Usage.InputTokens > 0 {
				usage.InputTokens = ev.Usage.InputTokens
			}
			if err := handle(StreamEvent{Type: EventMessageDelta, Usage: usage}); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return errors.Wrapf(err, "Anthropic stream failed")
	}
	return nil
}

func buildAnthropicParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  convertMessagesToAnthropic(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, t := range req.Tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropicInputSchema(t.InputSchema),
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params
}

func anthropicInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{Properties: map[string]any{}}
	if props, ok := schema["properties"]; ok {
		out.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func convertMessagesToAnthropic(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Type {
			case ContentTypeText:
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case ContentTypeToolUse:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ID,
						Name:  b.Name,
						Input: inputJSON(b.Input),
					},
				})
			case ContentTypeToolResult:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolUseID,
						IsError:   anthropic.Bool(b.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: b.Content},
						}},
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func parseAnthropicMessage(resp *anthropic.Message) (*Response, error) {
	out := &Response{
		StopReason: StopReason(resp.StopReason),
		Usage: Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		},
	}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content = append(out.Content, TextBlock(c.Text))
		case anthropic.ToolUseBlock:
			var args map[string]any
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &args); err != nil {
					return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
				}
			}
			out.Content = append(out.Content, ToolUseBlock(c.ID, c.Name, args))
		}
	}
	return out, nil
}
