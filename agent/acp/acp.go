// Package acp serves the Agent Client Protocol over stdio so editors can
// drive the agent.
//
// Messages are newline-delimited JSON-RPC 2.0 objects. Supported methods:
// initialize, session/new, session/load and session/prompt. A prompt
// streams session/update notifications (agent_message_chunk, tool_call,
// tool_result) and answers with a stop reason. Nothing but protocol
// messages is written to the output; diagnostics go to the logger.
package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/m4xw311/mars/agent"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
	"github.com/m4xw311/mars/session"
)

const protocolVersion = 1

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type Options struct {
	ProviderID string
	ModelID    string
	// Store persists sessions so session/load works across processes.
	// Without it sessions live in memory only.
	Store  *session.Store
	Logger *slog.Logger
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type server struct {
	ctx     context.Context
	manager *agent.Manager
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Chat

	in      *bufio.Reader
	out     *bufio.Writer
	writeMu sync.Mutex
}

// Run serves requests from in until EOF or ctx is done.
func Run(ctx context.Context, m *agent.Manager, opts Options, in io.Reader, out io.Writer) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &server{
		ctx:      ctx,
		manager:  m,
		opts:     opts,
		logger:   opts.Logger.With("component", "acp"),
		sessions: make(map[string]*session.Chat),
		in:       bufio.NewReader(in),
		out:      bufio.NewWriter(out),
	}
	s.logger.Info("ACP server started", "provider", opts.ProviderID, "model", opts.ModelID)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		payload, err := s.in.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "ACP read failed")
		}
		if len(payload) > 0 {
			s.dispatch(payload)
		}
		if err == io.EOF {
			s.logger.Info("ACP client closed the connection")
			return nil
		}
	}
}

func (s *server) dispatch(payload []byte) {
	var req jsonrpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		if len(bytes.TrimSpace(payload)) == 0 {
			return
		}
		s.logger.Warn("unparseable request", "error", err)
		s.writeError(nil, codeParseError, "Parse error", nil)
		return
	}
	s.logger.Debug("request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case "initialize":
		s.handleInitialize(&req)
	case "session/new":
		s.handleSessionNew(&req)
	case "session/load":
		s.handleSessionLoad(&req)
	case "session/prompt":
		s.handleSessionPrompt(&req)
	default:
		if req.ID != nil {
			s.writeError(req.ID, codeMethodNotFound, "Method not found", req.Method)
		}
	}
}

func (s *server) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *server) writeResult(id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		s.writeError(id, codeInternal, "Internal error", err.Error())
		return
	}
	if err := s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: data}); err != nil {
		s.logger.Error("write failed", "error", err)
	}
}

func (s *server) writeError(id any, code int, msg string, data any) {
	resp := jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: msg, Data: data}}
	if err := s.write(resp); err != nil {
		s.logger.Error("write failed", "error", err)
	}
}

func (s *server) notify(sessionID string, update map[string]any) {
	msg := jsonrpcNotification{
		JSONRPC: "2.0",
		Method:  "session/update",
		Params:  map[string]any{"sessionId": sessionID, "update": update},
	}
	if err := s.write(msg); err != nil {
		s.logger.Error("notification failed", "error", err)
	}
}

func textUpdate(kind, text string) map[string]any {
	return map[string]any{
		"sessionUpdate": kind,
		"content":       map[string]any{"type": "text", "text": text},
	}
}

func (s *server) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
			return
		}
	}
	s.logger.Info("client initialized", "protocol_version", p.ProtocolVersion)
	s.writeResult(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"agentCapabilities": map[string]any{
			"loadSession": s.opts.Store != nil,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *server) handleSessionNew(req *jsonrpcRequest) {
	chat := session.NewChat("")
	chat.ProviderID, chat.ModelID = s.opts.ProviderID, s.opts.ModelID
	s.mu.Lock()
	s.sessions[chat.ID] = chat
	s.mu.Unlock()
	s.save(chat)
	s.logger.Info("session created", "session", chat.ID)
	s.writeResult(req.ID, map[string]any{"sessionId": chat.ID})
}

// handleSessionLoad replays a saved chat as session/update notifications
// and answers null once the replay is done.
func (s *server) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "sessionId is required")
		return
	}
	if s.opts.Store == nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "sessions are not persisted")
		return
	}
	chat, err := s.opts.Store.LoadChat(p.SessionID)
	if err != nil {
		s.logger.Warn("session load failed", "session", p.SessionID, "error", err)
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "session not found: "+p.SessionID)
		return
	}
	s.mu.Lock()
	s.sessions[chat.ID] = chat
	s.mu.Unlock()

	for _, m := range chat.Messages {
		kind := "agent_message_chunk"
		if m.From == session.FromUser {
			kind = "user_message_chunk"
		}
		s.notify(chat.ID, textUpdate(kind, m.Content))
	}
	s.writeResult(req.ID, nil)
}

func (s *server) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	s.mu.Lock()
	chat, ok := s.sessions[p.SessionID]
	s.mu.Unlock()
	if !ok {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	text := extractUserText(p.Prompt)
	chat.AddMessage(session.NewMessage(session.FromUser, text, session.StateNeutral))

	// Agents are shared per provider, so each session brings its own
	// conversation along.
	a, err := s.manager.Agent(s.ctx, s.opts.ProviderID, s.opts.ModelID)
	if err == nil {
		a.Restore(chat.History)
	}

	cb := agent.Callbacks{
		AddMessage: func(m session.Message) {
			chat.AddMessage(m)
			s.notify(chat.ID, textUpdate("agent_message_chunk", m.Content))
		},
		OnToolCall: func(call agent.ToolCall, notice string) {
			s.notify(chat.ID, map[string]any{
				"sessionUpdate": "tool_call",
				"toolCall": map[string]any{
					"id":    call.ID,
					"name":  call.Name,
					"title": notice,
					"args":  call.Args,
				},
			})
		},
		OnToolResult: func(call agent.ToolCall, result string, err error) {
			status := "completed"
			if err != nil {
				status, result = "failed", errors.Message(err)
			}
			s.notify(chat.ID, map[string]any{
				"sessionUpdate": "tool_result",
				"toolResult": map[string]any{
					"toolCallId": call.ID,
					"status":     status,
					"result":     result,
				},
			})
		},
		OnWarning: func(w string) {
			s.logger.Warn("agent warning", "session", chat.ID, "warning", w)
		},
	}

	turnErr := s.manager.HandleUserMessage(s.ctx, s.opts.ProviderID, s.opts.ModelID, text, cb)
	if a != nil {
		chat.History = a.History()
	}
	s.save(chat)

	if turnErr != nil {
		if errors.Is(turnErr, context.Canceled) {
			s.writeResult(req.ID, map[string]any{"stopReason": "cancelled"})
			return
		}
		s.writeError(req.ID, codeInternal, "Internal error", errors.Message(turnErr))
		return
	}
	s.writeResult(req.ID, map[string]any{"stopReason": string(llm.StopReasonEndTurn)})
}

func (s *server) save(chat *session.Chat) {
	if s.opts.Store == nil {
		return
	}
	if chat.Title == "" && len(chat.Messages) > 0 {
		chat.Title = chat.Messages[0].Content
		if r := []rune(chat.Title); len(r) > 50 {
			chat.Title = string(r[:50]) + "..."
		}
	}
	if err := s.opts.Store.SaveChat(chat); err != nil {
		s.logger.Warn("could not save session", "session", chat.ID, "error", err)
	}
}
