package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
	"github.com/m4xw311/mars/models"
	"github.com/m4xw311/mars/session"
	"github.com/m4xw311/mars/tools"
)

type Options struct {
	Mode              Mode
	MaxToolIterations int
	MaxTokens         int
	SystemPrompt      string
	Logger            *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.MaxToolIterations <= 0 {
		o.MaxToolIterations = config.DefaultMaxToolIterations
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = config.DefaultMaxTokens
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Agent is a conversation with one model. History only ever holds
// completed turns: messages of a turn are staged and committed when the
// turn ends without error.
type Agent struct {
	mu sync.Mutex

	providerID string
	model      models.Model
	client     llm.Client
	tools      *tools.Registry
	opts       Options
	logger     *slog.Logger

	history   []llm.Message
	totalCost float64
}

func New(providerID string, model models.Model, client llm.Client, registry *tools.Registry, opts Options) *Agent {
	opts.applyDefaults()
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Agent{
		providerID: providerID,
		model:      model,
		client:     client,
		tools:      registry,
		opts:       opts,
		logger:     opts.Logger.With("provider", providerID, "model", model.ID),
	}
}

func (a *Agent) ProviderID() string { return a.providerID }

func (a *Agent) Model() models.Model { return a.model }

func (a *Agent) Mode() Mode { return a.opts.Mode }

// History returns a copy of the committed conversation.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// Restore replaces the conversation, e.g. when resuming a saved chat.
func (a *Agent) Restore(history []llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append([]llm.Message(nil), history...)
}

// TotalCost is the cost in cents of every call this agent has made.
func (a *Agent) TotalCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalCost
}

func (a *Agent) request(staged []llm.Message, withTools bool) llm.Request {
	msgs := make([]llm.Message, 0, len(a.history)+len(staged))
	msgs = append(msgs, a.history...)
	msgs = append(msgs, staged...)
	req := llm.Request{
		Model:     a.model.ID,
		MaxTokens: a.opts.MaxTokens,
		System:    a.opts.SystemPrompt,
		Messages:  msgs,
	}
	if withTools {
		req.Tools = a.tools.Schemas()
	}
	return req
}

// Respond runs one user turn: the model is called, any tools it asks for
// are run and their results sent back, until a response without tool use
// ends the turn. Usage of that final response is reported through cb.
func (a *Agent) Respond(ctx context.Context, content string, cb Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	staged := []llm.Message{llm.NewTextMessage(llm.RoleUser, content)}
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.logger.Debug("calling model", "iteration", iteration, "messages", len(a.history)+len(staged))
		resp, err := a.client.Send(ctx, a.request(staged, true))
		if err != nil {
			return errors.Wrapf(err, "model call failed")
		}
		a.totalCost += Cost(resp.Usage, a.model.Pricing)

		msg := resp.Message()
		staged = append(staged, msg)
		for _, b := range msg.Content {
			if b.Type == llm.ContentTypeText && strings.TrimSpace(b.Text) != "" {
				cb.addMessage(session.FromAssistant, b.Text, session.StateSuccess)
			}
		}

		uses := msg.ToolUses()
		if len(uses) == 0 {
			if resp.StopReason == llm.StopReasonMaxTokens {
				cb.warn(fmt.Sprintf("The response was cut off at %d output tokens.", a.opts.MaxTokens))
			}
			a.account(resp.Usage, cb)
			a.history = append(a.history, staged...)
			a.logger.Info("turn complete", "iterations", iteration+1, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
			return nil
		}
		if iteration >= a.opts.MaxToolIterations {
			a.logger.Warn("tool loop exceeded", "limit", a.opts.MaxToolIterations)
			return &errors.ToolLoopError{Limit: a.opts.MaxToolIterations}
		}

		results, err := a.runTools(ctx, uses, cb)
		if err != nil {
			return err
		}
		staged = append(staged, llm.Message{Role: llm.RoleUser, Content: results})
	}
}

// runTools executes the tool_use blocks of one response in order and
// returns one tool_result per block. Resolution failures and panics abort
// the turn; an error returned by a tool is handed back to the model.
func (a *Agent) runTools(ctx context.Context, uses []llm.ContentBlock, cb Callbacks) ([]llm.ContentBlock, error) {
	results := make([]llm.ContentBlock, 0, len(uses))
	for _, use := range uses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tool, err := a.tools.Resolve(use.Name)
		if err != nil {
			return nil, err
		}
		call := ToolCall{ID: use.ID, Name: use.Name, Args: use.Input}
		if call.Args == nil {
			call.Args = map[string]any{}
		}
		cb.onToolCall(call, tools.Notice(tool, call.Args))

		if a.opts.Mode == ModePrompt && !cb.shouldExecute(call) {
			a.logger.Info("tool declined", "tool", call.Name)
			results = append(results, llm.ToolResultBlock(call.ID, "The user declined to run this tool.", true))
			continue
		}

		out, err := a.execute(ctx, tool, call)
		if err != nil {
			if errors.Is(err, errors.ErrToolExecution) || ctx.Err() != nil {
				return nil, err
			}
			a.logger.Warn("tool failed", "tool", call.Name, "error", err)
			cb.onToolResult(call, "", err)
			results = append(results, llm.ToolResultBlock(call.ID, "Error: "+errors.Message(err), true))
			continue
		}
		a.logger.Debug("tool finished", "tool", call.Name, "bytes", len(out))
		cb.onToolResult(call, out, nil)
		results = append(results, llm.ToolResultBlock(call.ID, out, false))
	}
	return results, nil
}

func (a *Agent) execute(ctx context.Context, tool tools.Tool, call ToolCall) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errors.ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return tool.Execute(ctx, call.Args)
}

// RespondStream runs a turn without tools, showing text as it arrives.
// Clients that cannot stream are called once and replayed as one delta.
func (a *Agent) RespondStream(ctx context.Context, content string, cb Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	staged := []llm.Message{llm.NewTextMessage(llm.RoleUser, content)}
	req := a.request(staged, false)

	var (
		buf  strings.Builder
		done bool
	)
	handle := func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.EventContentBlockDelta:
			buf.WriteString(ev.Text)
			cb.setStreamed(buf.String())
		case llm.EventMessageDelta:
			text := buf.String()
			buf.Reset()
			cb.setStreamed("")
			if strings.TrimSpace(text) != "" {
				cb.addMessage(session.FromAssistant, text, session.StateSuccess)
			}
			a.totalCost += Cost(ev.Usage, a.model.Pricing)
			a.account(ev.Usage, cb)
			staged = append(staged, llm.NewTextMessage(llm.RoleAssistant, text))
			done = true
		}
		return nil
	}

	if sc, ok := llm.AsStreaming(a.client); ok {
		if err := sc.Stream(ctx, req, handle); err != nil {
			cb.setStreamed("")
			return errors.Wrapf(err, "model stream failed")
		}
	} else {
		resp, err := a.client.Send(ctx, req)
		if err != nil {
			return errors.Wrapf(err, "model call failed")
		}
		_ = handle(llm.StreamEvent{Type: llm.EventContentBlockDelta, Text: resp.Message().Text()})
		_ = handle(llm.StreamEvent{Type: llm.EventMessageDelta, Usage: resp.Usage})
	}
	if !done {
		return errors.New("stream ended without a final usage event")
	}
	a.history = append(a.history, staged...)
	return nil
}

// account reports usage of the latest response.
func (a *Agent) account(u llm.Usage, cb Callbacks) {
	cb.setContextWindowUsage(ContextWindowPercentage(u, a.model))
	cb.setUsageCost(Cost(u, a.model.Pricing))
}
