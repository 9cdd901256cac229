// Package mcp exposes tools served by Model Context Protocol servers.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/mars/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  []*MCPTool
	logger *slog.Logger
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, name, command string, args []string, logger *slog.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("server", name)

	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mars", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	c := &MCPClient{Name: name, cmd: cmd, conn: conn, logger: logger}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			_ = c.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			c.tools = append(c.tools, &MCPTool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				schema:      schemaMap(t.InputSchema),
				client:      c,
			})
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	logger.Info("initialized MCP client", "tools", len(c.tools))
	return c, nil
}

// Tools returns the tools discovered at startup.
func (c *MCPClient) Tools() []*MCPTool {
	return c.tools
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating MCP server")
		return c.cmd.Process.Kill()
	}
	return nil
}

// schemaMap converts the server's JSON schema into the generic map form.
func schemaMap(schema any) map[string]any {
	out := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return out
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return out
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

// MCPTool represents a tool available from an external MCP server.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	schema      map[string]any
	client      *MCPClient
}

// Name returns the tool's own name. Qualified forms like "server:tool" are
// rejected by some providers.
func (t *MCPTool) Name() string { return t.toolName }

// Server returns the name of the MCP server providing the tool.
func (t *MCPTool) Server() string { return t.serverName }

func (t *MCPTool) Description() string { return t.description }

func (t *MCPTool) InputSchema() map[string]any { return t.schema }

// Execute forwards the call to the MCP server and joins its text content.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var b strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", t.Name(), b.String())
	}
	return b.String(), nil
}
