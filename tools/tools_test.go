package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/tools/search"
)

type stubTool struct {
	name string
	out  string
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub " + s.name }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(context.Context, map[string]any) (string, error) {
	return s.out, nil
}

func TestRegistryRegisterReplacesInPlace(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a", out: "1"})
	r.Register(&stubTool{name: "b"})
	r.Register(&stubTool{name: "a", out: "2"})

	tools := r.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name() != "a" || tools[1].Name() != "b" {
		t.Errorf("unexpected order: %s, %s", tools[0].Name(), tools[1].Name())
	}
	out, _ := tools[0].Execute(context.Background(), nil)
	if out != "2" {
		t.Errorf("expected replaced tool, got output %q", out)
	}

	schemas := r.Schemas()
	if len(schemas) != 2 || schemas[1].Description != "stub b" {
		t.Errorf("unexpected schemas: %+v", schemas)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a"})

	if _, err := r.Resolve("a"); err != nil {
		t.Fatalf("Resolve(a): %v", err)
	}
	_, err := r.Resolve("missing")
	if !errors.Is(err, errors.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if err.Error() != "The tool you are requesting cannot be found: missing" {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})
	r.Register(&stubTool{name: "c"})

	all, err := r.Select(nil)
	if err != nil || len(all.Tools()) != 3 {
		t.Fatalf("nil toolset should select everything, got %v, %v", all, err)
	}

	sub, err := r.Select(&config.Toolset{Name: "t", Tools: []string{"c", "a"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	tools := sub.Tools()
	if len(tools) != 2 || tools[0].Name() != "c" || tools[1].Name() != "a" {
		t.Errorf("unexpected selection: %v", tools)
	}

	_, err = r.Select(&config.Toolset{Name: "t", Tools: []string{"nope"}})
	if !errors.Is(err, errors.ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}

	_, err = r.Select(&config.Toolset{Name: "t", Tools: []string{"gopls.*"}})
	if err == nil || !strings.Contains(err.Error(), "gopls") {
		t.Errorf("expected error for a server that is not running, got %v", err)
	}
}

func TestNewToolRegistryBuiltins(t *testing.T) {
	cfg := &config.Config{}
	r := NewToolRegistry(context.Background(), cfg, t.TempDir(), nil)
	defer r.Close()

	var names []string
	for _, tool := range r.Tools() {
		names = append(names, tool.Name())
	}
	want := []string{search.Name, "read_file", "write_file", "execute_command"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestNotice(t *testing.T) {
	if got := Notice(&stubTool{name: "x"}, nil); got != "Running x..." {
		t.Errorf("unexpected default notice %q", got)
	}
	rf := &ReadFileTool{}
	if got := Notice(rf, map[string]any{"path": "a.go"}); got != "Reading a.go..." {
		t.Errorf("unexpected notice %q", got)
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		path    string
		rel     string
		wantErr bool
	}{
		{"a.txt", "a.txt", false},
		{"sub/../b.txt", "b.txt", false},
		{filepath.Join(root, "c", "d.txt"), "c/d.txt", false},
		{"../escape.txt", "", true},
		{"/etc/passwd", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		_, rel, err := resolvePath(root, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("resolvePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if rel != tt.rel {
			t.Errorf("resolvePath(%q) rel = %q, want %q", tt.path, rel, tt.rel)
		}
	}
}

func TestIsCommandAllowed(t *testing.T) {
	allowed := []string{"^go test", "^ls$", "git status ["}
	tests := []struct {
		command string
		want    bool
	}{
		{"go test ./...", true},
		{"ls", true},
		{"ls -la", false},
		{"rm -rf /", false},
		{"git status [", true},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := isCommandAllowed(tt.command, allowed); got != tt.want {
			t.Errorf("isCommandAllowed(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestFilesystemAccessRules(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "secret.env"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "go.sum"), []byte("sum"), 0644); err != nil {
		t.Fatal(err)
	}
	access := &config.FilesystemAccess{Hidden: []string{"*.env"}, ReadOnly: []string{"go.sum"}}
	read := &ReadFileTool{root: root, fsAccess: access}
	write := &WriteFileTool{root: root, fsAccess: access}
	ctx := context.Background()

	if _, err := read.Execute(ctx, map[string]any{"path": "secret.env"}); err == nil {
		t.Error("expected hidden file read to be denied")
	}
	out, err := read.Execute(ctx, map[string]any{"path": "go.sum"})
	if err != nil || out != "sum" {
		t.Errorf("read-only file should be readable: %q, %v", out, err)
	}
	if _, err := write.Execute(ctx, map[string]any{"path": "go.sum", "content": "y"}); err == nil {
		t.Error("expected read-only write to be denied")
	}
	if _, err := write.Execute(ctx, map[string]any{"path": "../x", "content": "y"}); err == nil {
		t.Error("expected write outside root to be denied")
	}

	if _, err := write.Execute(ctx, map[string]any{"path": "new/dir/f.txt", "content": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "new", "dir", "f.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("unexpected file content %q, %v", data, err)
	}
}

func TestExecuteCommandTool(t *testing.T) {
	root := t.TempDir()
	tool := &ExecuteCommandTool{root: root, allowedCommands: []string{"^pwd$"}}
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]any{"command": "whoami"}); err == nil {
		t.Error("expected disallowed command to fail")
	}
	out, err := tool.Execute(ctx, map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(root)
	if !strings.Contains(out, root) && !strings.Contains(out, resolved) {
		t.Errorf("expected command to run in %s, got %q", root, out)
	}
}
