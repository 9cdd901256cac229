package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
)

func TestInitializeCreatesLayoutAndDefaults(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for _, d := range []string{"chats", "backups"} {
		if info, err := os.Stat(filepath.Join(s.Dir(), d)); err != nil || !info.IsDir() {
			t.Errorf("expected %s directory: %v", d, err)
		}
	}
	if got := s.LoadPreferences(); got != DefaultPreferences() {
		t.Errorf("expected default preferences, got %+v", got)
	}
}

func TestInitializeKeepsExistingPreferences(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	if s.HasPreferences() {
		t.Fatal("fresh store reports preferences")
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	if !s.HasPreferences() {
		t.Fatal("Initialize did not write preferences")
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	p := DefaultPreferences()
	p.CurrentProviderID = "openai"
	p.CurrentModel = ModelRef{ID: "gpt-4o", Name: "GPT-4o"}
	if err := s.SavePreferences(p); err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	if got := s.LoadPreferences(); got.CurrentProviderID != "openai" || got.CurrentModel.ID != "gpt-4o" {
		t.Errorf("preferences were overwritten: %+v", got)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	chat := "abc"
	p := Preferences{
		CurrentProviderID: "gemini",
		CurrentModel:      ModelRef{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
		DefaultProviderID: "anthropic",
		DefaultModel:      ModelRef{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4"},
		LastUsedChat:      &chat,
	}
	if err := s.SavePreferences(p); err != nil {
		t.Fatal(err)
	}
	got := s.LoadPreferences()
	if got.CurrentModel != p.CurrentModel || got.DefaultProviderID != p.DefaultProviderID {
		t.Errorf("got %+v, want %+v", got, p)
	}
	if got.LastUsedChat == nil || *got.LastUsedChat != "abc" {
		t.Errorf("lastUsedChat not preserved: %v", got.LastUsedChat)
	}

	data, _ := os.ReadFile(filepath.Join(s.Dir(), "config.json"))
	for _, key := range []string{`"currentProviderId"`, `"currentModel"`, `"defaultModel"`, `"lastUsedChat"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected key %s in %s", key, data)
		}
	}
}

func TestCorruptPreferencesYieldDefaults(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	if err := os.MkdirAll(s.Dir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "config.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := s.LoadPreferences(); got != DefaultPreferences() {
		t.Errorf("expected defaults, got %+v", got)
	}
}

func TestChatSaveLoadList(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}

	first := NewChat("first")
	first.AddMessage(NewMessage(FromUser, "hi", StateNeutral))
	first.History = []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "hi"),
		{Role: llm.RoleAssistant, Content: []llm.ContentBlock{llm.ToolUseBlock("t1", "search_cwd", map[string]any{"query": "*.go"})}},
		{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.ToolResultBlock("t1", "main.go", false)}},
	}
	if err := s.SaveChat(first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	second := NewChat("second")
	if err := s.SaveChat(second); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadChat(first.ID)
	if err != nil {
		t.Fatalf("LoadChat: %v", err)
	}
	if loaded.Title != "first" || len(loaded.Messages) != 1 || len(loaded.History) != 3 {
		t.Fatalf("unexpected chat: %+v", loaded)
	}
	if tu := loaded.History[1].ToolUses(); len(tu) != 1 || tu[0].Input["query"] != "*.go" {
		t.Errorf("tool_use not preserved: %+v", loaded.History[1])
	}
	if loaded.History[2].Content[0].ToolUseID != "t1" {
		t.Errorf("tool_result not preserved: %+v", loaded.History[2])
	}

	list, err := s.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("unexpected list order: %+v", list)
	}

	if _, err := s.LoadChat("../config"); err == nil {
		t.Error("expected invalid chat id to be rejected")
	}
}

func TestBackupChat(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	c := NewChat("backup me")
	if err := s.SaveChat(c); err != nil {
		t.Fatal(err)
	}
	path, err := s.BackupChat(c.ID)
	if err != nil {
		t.Fatalf("BackupChat: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(s.Dir(), "backups") {
		t.Errorf("backup written to %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestCleanupRequiresTestMode(t *testing.T) {
	t.Setenv("APP_MODE", "")
	s := NewStoreAt(t.TempDir())
	if err := s.Cleanup(); !errors.Is(err, errors.ErrNotTestMode) {
		t.Fatalf("expected ErrNotTestMode, got %v", err)
	}
	if err := s.Cleanup(); err.Error() != "Cannot run cleanup method if not in test mode" {
		t.Errorf("unexpected message %q", err)
	}
}

func TestTestModeStorage(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)
	t.Setenv("APP_MODE", "test")

	s, err := NewStore()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(wd, "tests", "storage", ".mars"))
	got, _ := filepath.EvalSymlinks(s.Dir())
	if got != want {
		t.Errorf("store dir = %s, want %s", got, want)
	}
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Errorf("expected store to be removed, stat err = %v", err)
	}
}
