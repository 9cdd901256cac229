package tools

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
	"github.com/m4xw311/mars/tools/mcp"
	"github.com/m4xw311/mars/tools/search"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Announcer is implemented by tools that describe a running invocation
// better than the generic notice.
type Announcer interface {
	Notice(args map[string]any) string
}

// Notice returns the transient "tool is running" text for an invocation.
func Notice(t Tool, args map[string]any) string {
	if a, ok := t.(Announcer); ok {
		if n := a.Notice(args); n != "" {
			return n
		}
	}
	return "Running " + t.Name() + "..."
}

// Registry maps tool names to tools. Registering a name twice replaces the
// earlier tool and keeps its position, so repeated registration is harmless.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
}

func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
	}
}

// NewToolRegistry registers the builtin tools rooted at root plus the tools
// of every configured MCP server. A server that fails to start is logged
// and skipped.
func NewToolRegistry(ctx context.Context, cfg *config.Config, root string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	r := NewRegistry()

	r.Register(search.New(root, search.Options{
		TierTimeout:    cfg.Search.TierTimeout,
		BatchSize:      cfg.Search.GrepBatchSize,
		MaxDepth:       cfg.Search.MaxDepth,
		TreeLineBudget: cfg.Search.TreeLineBudget,
		MaxResults:     cfg.Search.MaxResults,
		Hidden:         cfg.FilesystemAccess.Hidden,
		Logger:         logger,
	}))
	r.Register(&ReadFileTool{root: root, fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{root: root, fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{root: root, allowedCommands: cfg.AllowedCommands})

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(ctx, server.Name, server.Command, server.Args, logger)
		if err != nil {
			logger.Warn("skipping MCP server", "server", server.Name, "error", err)
			continue
		}
		r.mcpClients[server.Name] = client
		for _, t := range client.Tools() {
			r.Register(t)
		}
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, errors.ToolNotFound(name)
	}
	return t, nil
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Schemas returns the definitions sent to the model on every call.
func (r *Registry) Schemas() []llm.ToolDefinition {
	ts := r.Tools()
	out := make([]llm.ToolDefinition, 0, len(ts))
	for _, t := range ts {
		out = append(out, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// Select returns a registry holding only the tools a toolset names. An
// entry "<server>.*" selects every tool of that MCP server. A nil toolset
// selects everything.
func (r *Registry) Select(ts *config.Toolset) (*Registry, error) {
	if ts == nil {
		return r, nil
	}
	out := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for server, c := range r.mcpClients {
		out.mcpClients[server] = c
	}
	for _, name := range ts.Tools {
		if server, ok := strings.CutSuffix(name, ".*"); ok {
			client, found := r.mcpClients[server]
			if !found {
				return nil, errors.New("MCP server '%s' from toolset '%s' is not running", server, ts.Name)
			}
			for _, t := range client.Tools() {
				out.Register(t)
			}
			continue
		}
		t, ok := r.tools[name]
		if !ok {
			return nil, errors.Wrapf(errors.ToolNotFound(name), "toolset '%s'", ts.Name)
		}
		out.Register(t)
	}
	return out, nil
}

// Close stops every MCP server started by this registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, c := range r.mcpClients {
		if err := c.Stop(); err != nil {
			errs = append(errs, errors.Wrapf(err, "stop MCP server %s", name))
		}
		delete(r.mcpClients, name)
	}
	return errors.Join(errs...)
}

// resolvePath makes p absolute under root and returns it along with the
// root-relative form used for access rules. Paths escaping root are denied.
func resolvePath(root, p string) (abs, rel string, err error) {
	if p == "" {
		return "", "", errors.New("empty path")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	abs = filepath.Clean(p)
	rel, err = filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errors.New("access denied: path '%s' is outside the working directory", p)
	}
	return abs, filepath.ToSlash(rel), nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Invalid regexes only match literally.
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}
