package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
	"github.com/m4xw311/mars/models"
	"github.com/m4xw311/mars/session"
	"github.com/m4xw311/mars/tools"
)

var testModel = models.Model{
	ID:            "test-model",
	Name:          "Test Model",
	ContextWindow: 200000,
	Pricing:       models.Pricing{InputCost: 300, OutputCost: 1500},
}

// echoTool returns its "text" argument, or fails when it is "fail".
type echoTool struct {
	calls []map[string]any
}

func (e *echoTool) Name() string                { return "echo" }
func (e *echoTool) Description() string         { return "echoes text" }
func (e *echoTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (e *echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	e.calls = append(e.calls, args)
	text, _ := args["text"].(string)
	if text == "fail" {
		return "", errors.New("echo refused")
	}
	if text == "panic" {
		panic("boom")
	}
	return "echo: " + text, nil
}

type recorder struct {
	messages []session.Message
	events   []string
	percent  float64
	cost     float64
	streamed []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		AddMessage: func(m session.Message) {
			r.messages = append(r.messages, m)
			r.events = append(r.events, "message")
		},
		SetLoading:                  func(v bool) { r.events = append(r.events, map[bool]string{true: "loading", false: "loaded"}[v]) },
		SetContextWindowUsage:       func(p float64) { r.percent = p },
		SetUsageCost:                func(c float64) { r.cost = c },
		SetCurrentlyStreamedMessage: func(s string) { r.streamed = append(r.streamed, s) },
		OnToolCall: func(c ToolCall, notice string) {
			r.events = append(r.events, "call:"+c.ID+":"+notice)
		},
		OnToolResult: func(c ToolCall, result string, err error) {
			r.events = append(r.events, "result:"+c.ID)
		},
	}
}

func textResponse(text string, usage llm.Usage) *llm.Response {
	return &llm.Response{
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
		StopReason: llm.StopReasonEndTurn,
		Usage:      usage,
	}
}

func toolResponse(uses ...llm.ContentBlock) *llm.Response {
	return &llm.Response{Content: uses, StopReason: llm.StopReasonToolUse, Usage: llm.Usage{InputTokens: 1, OutputTokens: 1}}
}

func newTestAgent(client llm.Client, opts Options, ts ...tools.Tool) *Agent {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.Register(t)
	}
	return New("test", testModel, client, reg, opts)
}

func TestRespondTextOnly(t *testing.T) {
	client := llm.NewMockClient(textResponse("Hi there", llm.Usage{InputTokens: 50000}))
	a := newTestAgent(client, Options{SystemPrompt: "be brief"})
	rec := &recorder{}

	if err := a.Respond(context.Background(), "hello", rec.callbacks()); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if client.Calls() != 1 {
		t.Errorf("expected 1 provider call, got %d", client.Calls())
	}
	if len(rec.messages) != 1 || rec.messages[0].Content != "Hi there" || rec.messages[0].From != session.FromAssistant {
		t.Errorf("unexpected messages: %+v", rec.messages)
	}
	if rec.percent != 25 {
		t.Errorf("expected 25%% context usage, got %v", rec.percent)
	}
	if rec.cost != 15 {
		t.Errorf("expected cost 15, got %v", rec.cost)
	}
	if h := a.History(); len(h) != 2 || h[0].Text() != "hello" || h[1].Role != llm.RoleAssistant {
		t.Errorf("unexpected history: %+v", h)
	}
	req := client.Requests[0]
	if req.Model != "test-model" || req.System != "be brief" || req.MaxTokens == 0 {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestRespondToolRoundTrip(t *testing.T) {
	client := llm.NewMockClient(
		&llm.Response{
			Content: []llm.ContentBlock{
				llm.TextBlock("Let me check."),
				llm.ToolUseBlock("t1", "echo", map[string]any{"text": "a"}),
				llm.ToolUseBlock("t2", "echo", map[string]any{"text": "b"}),
			},
			StopReason: llm.StopReasonToolUse,
			Usage:      llm.Usage{InputTokens: 100000},
		},
		textResponse("Done.", llm.Usage{InputTokens: 20000}),
	)
	echo := &echoTool{}
	a := newTestAgent(client, Options{}, echo)
	rec := &recorder{}

	if err := a.Respond(context.Background(), "go", rec.callbacks()); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if client.Calls() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", client.Calls())
	}
	want := []string{"message", "call:t1:Running echo...", "result:t1", "call:t2:Running echo...", "result:t2", "message"}
	if strings.Join(rec.events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", rec.events, want)
	}

	second := client.Requests[1]
	if len(second.Tools) != 1 || second.Tools[0].Name != "echo" {
		t.Errorf("tool schemas not sent: %+v", second.Tools)
	}
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleUser || len(last.Content) != 2 {
		t.Fatalf("expected one user message with two results, got %+v", last)
	}
	for i, id := range []string{"t1", "t2"} {
		b := last.Content[i]
		if b.Type != llm.ContentTypeToolResult || b.ToolUseID != id || b.IsError {
			t.Errorf("result %d = %+v", i, b)
		}
	}
	if last.Content[1].Content != "echo: b" {
		t.Errorf("unexpected tool output %q", last.Content[1].Content)
	}

	// Usage comes from the final response only.
	if rec.percent != 10 {
		t.Errorf("expected 10%% context usage, got %v", rec.percent)
	}
	if len(a.History()) != 4 {
		t.Errorf("expected 4 history entries, got %d", len(a.History()))
	}
	if want := Cost(llm.Usage{InputTokens: 120000}, testModel.Pricing); a.TotalCost() != want {
		t.Errorf("total cost = %v, want %v", a.TotalCost(), want)
	}
}

func TestRespondToolLoopGuard(t *testing.T) {
	var responses []*llm.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolResponse(llm.ToolUseBlock("t", "echo", map[string]any{"text": "again"})))
	}
	client := llm.NewMockClient(responses...)
	a := newTestAgent(client, Options{MaxToolIterations: 3}, &echoTool{})

	err := a.Respond(context.Background(), "loop", Callbacks{})
	if !errors.Is(err, errors.ErrToolLoopExceeded) {
		t.Fatalf("expected ErrToolLoopExceeded, got %v", err)
	}
	if client.Calls() != 4 {
		t.Errorf("expected 4 provider calls, got %d", client.Calls())
	}
	if len(a.History()) != 0 {
		t.Errorf("failed turn must not be committed, history = %+v", a.History())
	}
}

func TestRespondToolNotFound(t *testing.T) {
	client := llm.NewMockClient(toolResponse(llm.ToolUseBlock("t1", "missing", nil)))
	a := newTestAgent(client, Options{})

	err := a.Respond(context.Background(), "x", Callbacks{})
	if !errors.Is(err, errors.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if len(a.History()) != 0 {
		t.Errorf("history must stay empty after a failed turn")
	}

	// The next turn starts clean: no unmatched tool_use is sent.
	client.Responses = append(client.Responses, textResponse("ok", llm.Usage{}))
	if err := a.Respond(context.Background(), "y", Callbacks{}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	msgs := client.Requests[1].Messages
	if len(msgs) != 1 || msgs[0].Text() != "y" {
		t.Errorf("unexpected second request messages: %+v", msgs)
	}
}

func TestRespondToolErrorIsReportedToModel(t *testing.T) {
	client := llm.NewMockClient(
		toolResponse(llm.ToolUseBlock("t1", "echo", map[string]any{"text": "fail"})),
		textResponse("Sorry.", llm.Usage{}),
	)
	a := newTestAgent(client, Options{}, &echoTool{})

	var gotErr error
	cb := Callbacks{OnToolResult: func(_ ToolCall, _ string, err error) { gotErr = err }}
	if err := a.Respond(context.Background(), "x", cb); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if gotErr == nil {
		t.Error("expected OnToolResult to receive the tool error")
	}
	result := client.Requests[1].Messages[2].Content[0]
	if !result.IsError || !strings.Contains(result.Content, "echo refused") {
		t.Errorf("unexpected tool result %+v", result)
	}
}

func TestRespondToolPanicAbortsTurn(t *testing.T) {
	client := llm.NewMockClient(toolResponse(llm.ToolUseBlock("t1", "echo", map[string]any{"text": "panic"})))
	a := newTestAgent(client, Options{}, &echoTool{})

	err := a.Respond(context.Background(), "x", Callbacks{})
	if !errors.Is(err, errors.ErrToolExecution) {
		t.Fatalf("expected ErrToolExecution, got %v", err)
	}
	if len(a.History()) != 0 {
		t.Error("history must stay empty after a failed turn")
	}
}

func TestRespondPromptModeDecline(t *testing.T) {
	client := llm.NewMockClient(
		toolResponse(llm.ToolUseBlock("t1", "echo", map[string]any{"text": "a"})),
		textResponse("Okay.", llm.Usage{}),
	)
	echo := &echoTool{}
	a := newTestAgent(client, Options{Mode: ModePrompt}, echo)

	asked := 0
	cb := Callbacks{ShouldExecuteTool: func(ToolCall) bool { asked++; return false }}
	if err := a.Respond(context.Background(), "x", cb); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if asked != 1 || len(echo.calls) != 0 {
		t.Errorf("asked %d times, tool ran %d times", asked, len(echo.calls))
	}
	if r := client.Requests[1].Messages[2].Content[0]; !r.IsError || r.ToolUseID != "t1" {
		t.Errorf("unexpected result for declined tool: %+v", r)
	}
}

func TestRespondProviderError(t *testing.T) {
	client := &llm.MockClient{Errors: []error{errors.New("overloaded")}}
	a := newTestAgent(client, Options{})

	if err := a.Respond(context.Background(), "x", Callbacks{}); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(a.History()) != 0 {
		t.Error("history must stay empty after a failed turn")
	}
}

func TestRespondCanceled(t *testing.T) {
	client := llm.NewMockClient(textResponse("never", llm.Usage{}))
	a := newTestAgent(client, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Respond(ctx, "x", Callbacks{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.Calls() != 0 {
		t.Errorf("expected no provider calls, got %d", client.Calls())
	}
}

func TestRespondStream(t *testing.T) {
	client := llm.NewMockClient(textResponse("hello streaming world", llm.Usage{InputTokens: 50000}))
	a := newTestAgent(client, Options{})
	rec := &recorder{}

	if err := a.RespondStream(context.Background(), "hi", rec.callbacks()); err != nil {
		t.Fatalf("RespondStream: %v", err)
	}
	want := []string{"hello ", "hello streaming ", "hello streaming world", ""}
	if strings.Join(rec.streamed, "|") != strings.Join(want, "|") {
		t.Errorf("streamed = %q, want %q", rec.streamed, want)
	}
	if len(rec.messages) != 1 || rec.messages[0].Content != "hello streaming world" {
		t.Errorf("unexpected messages: %+v", rec.messages)
	}
	if rec.percent != 25 {
		t.Errorf("expected 25%%, got %v", rec.percent)
	}
	if len(client.Requests[0].Tools) != 0 {
		t.Error("streaming turns must not offer tools")
	}
	if len(a.History()) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(a.History()))
	}
}

// sendOnly hides the streaming capability of the mock.
type sendOnly struct{ llm.Client }

func TestRespondStreamFallsBackToSend(t *testing.T) {
	mock := llm.NewMockClient(textResponse("whole reply", llm.Usage{}))
	a := newTestAgent(sendOnly{mock}, Options{})
	rec := &recorder{}

	if err := a.RespondStream(context.Background(), "hi", rec.callbacks()); err != nil {
		t.Fatalf("RespondStream: %v", err)
	}
	if strings.Join(rec.streamed, "|") != "whole reply|" {
		t.Errorf("unexpected streamed updates %q", rec.streamed)
	}
	if len(rec.messages) != 1 || rec.messages[0].Content != "whole reply" {
		t.Errorf("unexpected messages: %+v", rec.messages)
	}
}

func TestRestoreHistory(t *testing.T) {
	client := llm.NewMockClient(textResponse("again", llm.Usage{}))
	a := newTestAgent(client, Options{})
	a.Restore([]llm.Message{
		llm.NewTextMessage(llm.RoleUser, "earlier"),
		llm.NewTextMessage(llm.RoleAssistant, "reply"),
	})
	if err := a.Respond(context.Background(), "now", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	if n := len(client.Requests[0].Messages); n != 3 {
		t.Errorf("expected restored history to be sent, got %d messages", n)
	}
}
