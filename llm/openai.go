package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/m4xw311/mars/errors"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient is a client for the OpenAI Chat Completion API.
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a new OpenAIClient. It requires the OPENAI_API_KEY
// environment variable to be set and honors OPENAI_BASE_URL.
func NewOpenAIClient(logger *slog.Logger) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The &c is required, do not replace and just use c
	c := openai.NewClient(options...)
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{client: &c, logger: logger.With("provider", "openai")}, nil
}

func (o *OpenAIClient) Send(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: convertMessagesToOpenAI(req.System, req.Messages),
		Tools:    convertToolsToOpenAI(req.Tools),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	o.logger.Debug("sending request", "model", req.Model, "messages", len(params.Messages), "tools", len(params.Tools))

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}
	return parseOpenAIResponse(resp)
}

func parseOpenAIResponse(resp *openai.ChatCompletion) (*Response, error) {
	cached := resp.Usage.PromptTokensDetails.CachedTokens
	out := &Response{
		StopReason: StopReasonEndTurn,
		Usage: Usage{
			// prompt_tokens includes the cached prefix.
			InputTokens:     resp.Usage.PromptTokens - cached,
			OutputTokens:    resp.Usage.CompletionTokens,
			CacheReadTokens: cached,
		},
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		out.StopReason = StopReasonMaxTokens
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
			}
		}
		out.Content = append(out.Content, ToolUseBlock(tc.ID, tc.Function.Name, args))
		out.StopReason = StopReasonToolUse
	}
	return out, nil
}

// convertMessagesToOpenAI flattens block messages into OpenAI chat messages.
// Each tool_result becomes its own "tool" role message.
func convertMessagesToOpenAI(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, tu := range msg.ToolUses() {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tu.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tu.Name,
						Arguments: string(inputJSON(tu.Input)),
					},
				})
			}
			out = append(out, assistant.ToParam())
		default:
			for _, b := range msg.Content {
				switch b.Type {
				case ContentTypeToolResult:
					out = append(out, openai.ToolMessage(b.Content, b.ToolUseID))
				case ContentTypeText:
					out = append(out, openai.UserMessage(b.Text))
				}
			}
		}
	}
	return out
}

func convertToolsToOpenAI(defs []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		params := openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		for k, v := range d.InputSchema {
			params[k] = v
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  params,
		}))
	}
	return out
}
