package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/mars/errors"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockClient is a client for the Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client *bedrockruntime.Client
	region string
	logger *slog.Logger
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, logger *slog.Logger) (*BedrockClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	// BEDROCK_ENDPOINT_URL points at a local stub in tests.
	endpoint := os.Getenv("BEDROCK_ENDPOINT_URL")
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		o.Region = region
		o.RetryMaxAttempts = 1
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockClient{
		client: client,
		region: region,
		logger: logger.With("provider", "bedrock", "region", region),
	}, nil
}

func (b *BedrockClient) Send(ctx context.Context, req Request) (*Response, error) {
	body, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}
	b.logger.Debug("invoking model", "model", req.Model, "bytes", len(body))

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts history into the Anthropic
// messages JSON accepted by Bedrock.
func convertMessagesToAnthropicFormat(messages []Message) []map[string]any {
	var out []map[string]any
	for _, msg := range messages {
		var content []map[string]any
		for _, b := range msg.Content {
			switch b.Type {
			case ContentTypeText:
				if b.Text == "" {
					continue
				}
				content = append(content, map[string]any{"type": "text", "text": b.Text})
			case ContentTypeToolUse:
				input := b.Input
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    b.ID,
					"name":  b.Name,
					"input": input,
				})
			case ContentTypeToolResult:
				content = append(content, map[string]any{
					"type":        "tool_result",
					"tool_use_id": b.ToolUseID,
					"content":     b.Content,
					"is_error":    b.IsError,
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, map[string]any{"role": string(msg.Role), "content": content})
	}
	return out
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"anthropic_version": bedrockAnthropicVersion,
		"max_tokens":        maxTokens,
		"messages":          convertMessagesToAnthropicFormat(req.Messages),
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			schema := t.InputSchema
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schema,
			})
		}
		body["tools"] = tools
	}
	return json.Marshal(body)
}

type bedrockResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
	Error      any            `json:"error"`
}

// processBedrockResponse converts a Bedrock response body into a Response.
func processBedrockResponse(body []byte) (*Response, error) {
	var raw bedrockResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if raw.Error != nil {
		return nil, errors.New("Bedrock API error: %v", raw.Error)
	}

	out := &Response{StopReason: StopReason(raw.StopReason), Usage: raw.Usage}
	for i, b := range raw.Content {
		switch b.Type {
		case ContentTypeText:
			out.Content = append(out.Content, TextBlock(b.Text))
		case ContentTypeToolUse:
			id := b.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, b.Name)
			}
			out.Content = append(out.Content, ToolUseBlock(id, b.Name, b.Input))
		}
	}
	return out, nil
}
