package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/m4xw311/mars/agent"
	"github.com/m4xw311/mars/llm"
	"github.com/m4xw311/mars/models"
	"github.com/m4xw311/mars/session"
	"github.com/m4xw311/mars/tools"
)

type stubTool struct{ ran int }

func (s *stubTool) Name() string                { return "stub" }
func (s *stubTool) Description() string         { return "stub tool" }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(context.Context, map[string]any) (string, error) {
	s.ran++
	return "stub output", nil
}

func newManager(client llm.Client, mode agent.Mode, ts ...tools.Tool) *agent.Manager {
	reg := models.NewRegistry()
	reg.Register(models.Provider{
		ID:     "mock",
		Name:   "Mock",
		Models: []models.Model{{ID: "m1", Name: "Mock One", ContextWindow: 100, Pricing: models.Pricing{InputCost: 1e6}}},
		NewClient: func(context.Context) (llm.Client, error) {
			return client, nil
		},
	})
	tr := tools.NewRegistry()
	for _, t := range ts {
		tr.Register(t)
	}
	return agent.NewManager(reg, tr, agent.ManagerOptions{Options: agent.Options{Mode: mode}})
}

func run(t *testing.T, m *agent.Manager, opts Options, input, initial string) string {
	t.Helper()
	var out bytes.Buffer
	opts.ProviderID, opts.ModelID = "mock", "m1"
	opts.In = strings.NewReader(input)
	opts.Out = &out
	if err := New(m, opts).Run(context.Background(), initial); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestRunEchoConversation(t *testing.T) {
	out := run(t, newManager(llm.NewMockClient(), agent.ModeAuto), Options{}, "hello\n\n/quit\nignored\n", "")
	if !strings.Contains(out, "Mars: I am a mock LLM. You said: 'hello'.") {
		t.Errorf("missing assistant reply in %q", out)
	}
	if strings.Contains(out, "ignored") {
		t.Errorf("input after /quit was processed: %q", out)
	}
	if !strings.Contains(out, "context ") {
		t.Errorf("missing status line in %q", out)
	}
}

func TestRunInitialPromptAndEOF(t *testing.T) {
	out := run(t, newManager(llm.NewMockClient(), agent.ModeAuto), Options{}, "", "initial prompt")
	if !strings.Contains(out, "You said: 'initial prompt'") {
		t.Errorf("initial prompt not processed: %q", out)
	}
}

func TestRunCostCommand(t *testing.T) {
	client := llm.NewMockClient(&llm.Response{
		Content: []llm.ContentBlock{llm.TextBlock("ok")},
		Usage:   llm.Usage{InputTokens: 50},
	})
	out := run(t, newManager(client, agent.ModeAuto), Options{}, "hi\n/cost\n", "")
	// 50 tokens at 1e6 cents per million is 50 cents.
	if !strings.Contains(out, "Last response: $0.5000, session: $0.5000") {
		t.Errorf("unexpected cost output %q", out)
	}
	if !strings.Contains(out, "context 50.0% | $0.5000") {
		t.Errorf("unexpected status line %q", out)
	}
}

func TestRunShowsErrors(t *testing.T) {
	client := &llm.MockClient{Errors: []error{context.DeadlineExceeded}}
	out := run(t, newManager(client, agent.ModeAuto), Options{}, "hi\n", "")
	if !strings.Contains(out, "Error: ") || !strings.Contains(out, "deadline exceeded") {
		t.Errorf("expected error message in %q", out)
	}
}

func TestRunModelCommand(t *testing.T) {
	out := run(t, newManager(llm.NewMockClient(), agent.ModeAuto), Options{}, "/model mock nope\n/model\n/bogus\n", "")
	if !strings.Contains(out, "The model you are searching for cannot be found: nope") {
		t.Errorf("expected not-found message in %q", out)
	}
	if !strings.Contains(out, "usage: /model") || !strings.Contains(out, "unknown command /bogus") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestPromptModeConfirmation(t *testing.T) {
	tests := []struct {
		answer string
		ran    int
	}{
		{"y", 1},
		{"n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			client := llm.NewMockClient(
				&llm.Response{Content: []llm.ContentBlock{llm.ToolUseBlock("t1", "stub", nil)}, StopReason: llm.StopReasonToolUse},
				&llm.Response{Content: []llm.ContentBlock{llm.TextBlock("finished")}},
			)
			tool := &stubTool{}
			out := run(t, newManager(client, agent.ModePrompt, tool), Options{Verbosity: agent.ToolVerbosityAll}, "do it\n"+tt.answer+"\n", "")
			if tool.ran != tt.ran {
				t.Errorf("tool ran %d times, want %d", tool.ran, tt.ran)
			}
			if !strings.Contains(out, "Allow? (y/n)") || !strings.Contains(out, "Running stub...") {
				t.Errorf("unexpected output %q", out)
			}
			if tt.ran == 1 && !strings.Contains(out, "stub output") {
				t.Errorf("expected tool output at verbosity all: %q", out)
			}
		})
	}
}

func TestChatIsSaved(t *testing.T) {
	store := session.NewStoreAt(t.TempDir())
	if err := store.Initialize(); err != nil {
		t.Fatal(err)
	}
	chat := session.NewChat("")
	run(t, newManager(llm.NewMockClient(), agent.ModeAuto), Options{Store: store, Chat: chat}, "save this please\n", "")

	loaded, err := store.LoadChat(chat.ID)
	if err != nil {
		t.Fatalf("LoadChat: %v", err)
	}
	if loaded.Title != "save this please" || len(loaded.Messages) != 2 || len(loaded.History) != 2 {
		t.Errorf("unexpected saved chat %+v", loaded)
	}
	prefs := store.LoadPreferences()
	if prefs.LastUsedChat == nil || *prefs.LastUsedChat != chat.ID {
		t.Errorf("lastUsedChat not updated: %+v", prefs)
	}
}
