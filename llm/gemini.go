package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/m4xw311/mars/errors"
	"google.golang.org/api/option"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a new GeminiClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiClient(ctx context.Context, logger *slog.Logger) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClient{client: client, logger: logger.With("provider", "gemini")}, nil
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) Send(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini request has no messages")
	}

	model := g.client.GenerativeModel(req.Model)
	model.Tools = convertToolsToGemini(req.Tools)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	history := convertMessagesToGemini(req.Messages)
	last := history[len(history)-1]

	chat := model.StartChat()
	chat.History = history[:len(history)-1]
	g.logger.Debug("sending request", "model", req.Model, "messages", len(history), "tools", len(req.Tools))

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return parseGeminiResponse(resp)
}

// convertMessagesToGemini maps history onto Gemini contents. Gemini keys
// function responses by name, so tool_use ids are resolved back to names.
func convertMessagesToGemini(messages []Message) []*genai.Content {
	names := map[string]string{}
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		c := &genai.Content{Role: role}
		for _, b := range msg.Content {
			switch b.Type {
			case ContentTypeText:
				if b.Text != "" {
					c.Parts = append(c.Parts, genai.Text(b.Text))
				}
			case ContentTypeToolUse:
				names[b.ID] = b.Name
				c.Parts = append(c.Parts, genai.FunctionCall{Name: b.Name, Args: b.Input})
			case ContentTypeToolResult:
				key := "output"
				if b.IsError {
					key = "error"
				}
				c.Parts = append(c.Parts, genai.FunctionResponse{
					Name:     names[b.ToolUseID],
					Response: map[string]any{key: b.Content},
				})
			}
		}
		if len(c.Parts) > 0 {
			contents = append(contents, c)
		}
	}
	return contents
}

func convertToolsToGemini(defs []ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  geminiSchema(d.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema converts a JSON schema map into genai's typed schema.
func geminiSchema(s map[string]any) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject}
	if s == nil {
		return out
	}
	switch s["type"] {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if d, ok := s["description"].(string); ok {
		out.Description = d
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				out.Properties[name] = geminiSchema(pm)
			}
		}
	}
	out.Enum = stringList(s["enum"])
	out.Required = stringList(s["required"])
	return out
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	out := &Response{StopReason: StopReasonEndTurn}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			InputTokens:     int64(u.PromptTokenCount - u.CachedContentTokenCount),
			OutputTokens:    int64(u.CandidatesTokenCount),
			CacheReadTokens: int64(u.CachedContentTokenCount),
		}
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content = append(out.Content, TextBlock(string(v)))
		case genai.FunctionCall:
			// Gemini does not issue call ids.
			id := fmt.Sprintf("call_%s_%s", uuid.NewString()[:8], v.Name)
			out.Content = append(out.Content, ToolUseBlock(id, v.Name, v.Args))
			out.StopReason = StopReasonToolUse
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return out, nil
}
