package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	root     string
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file relative to the working directory."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "File path relative to the working directory"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Notice(args map[string]any) string {
	path, _ := stringArg(args, "path")
	return fmt.Sprintf("Reading %s...", path)
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}
	abs, rel, err := resolvePath(t.root, path)
	if err != nil {
		return "", err
	}

	hidden, err := isPathRestricted(rel, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	root     string
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Parent directories are created."
}

func (t *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path relative to the working directory"},
			"content": map[string]any{"type": "string", "description": "Full new file content"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Notice(args map[string]any) string {
	path, _ := stringArg(args, "path")
	return fmt.Sprintf("Writing %s...", path)
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, pathOk := stringArg(args, "path")
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}
	abs, rel, err := resolvePath(t.root, path)
	if err != nil {
		return "", err
	}

	for _, rule := range []struct {
		patterns []string
		reason   string
	}{
		{t.fsAccess.Hidden, "hidden"},
		{t.fsAccess.ReadOnly, "read-only"},
	} {
		restricted, err := isPathRestricted(rel, rule.patterns)
		if err != nil {
			return "", err
		}
		if restricted {
			return "", errors.New("access denied: path '%s' is %s", path, rule.reason)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create parent directory for '%s'", path)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}
