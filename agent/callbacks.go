package agent

import (
	"github.com/m4xw311/mars/session"
)

type Mode string

const (
	// ModeAuto runs every tool the model asks for.
	ModeAuto Mode = "auto"
	// ModePrompt asks ShouldExecuteTool first.
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Callbacks is how a front end observes a turn. Any nil field is skipped.
type Callbacks struct {
	AddMessage                  func(msg session.Message)
	SetLoading                  func(loading bool)
	SetContextWindowUsage       func(percent float64)
	SetUsageCost                func(cents float64)
	SetCurrentlyStreamedMessage func(text string)

	// OnToolCall fires before the tool runs with a short notice such as
	// "Searching for files matching *.go...".
	OnToolCall   func(call ToolCall, notice string)
	OnToolResult func(call ToolCall, result string, err error)
	// ShouldExecuteTool is consulted in prompt mode. A nil func allows.
	ShouldExecuteTool func(call ToolCall) bool
	OnWarning         func(warning string)
}

func (c Callbacks) addMessage(from session.From, content string, state session.State) {
	if c.AddMessage != nil {
		c.AddMessage(session.NewMessage(from, content, state))
	}
}

func (c Callbacks) setLoading(v bool) {
	if c.SetLoading != nil {
		c.SetLoading(v)
	}
}

func (c Callbacks) setContextWindowUsage(v float64) {
	if c.SetContextWindowUsage != nil {
		c.SetContextWindowUsage(v)
	}
}

func (c Callbacks) setUsageCost(v float64) {
	if c.SetUsageCost != nil {
		c.SetUsageCost(v)
	}
}

func (c Callbacks) setStreamed(text string) {
	if c.SetCurrentlyStreamedMessage != nil {
		c.SetCurrentlyStreamedMessage(text)
	}
}

func (c Callbacks) onToolCall(call ToolCall, notice string) {
	if c.OnToolCall != nil {
		c.OnToolCall(call, notice)
	}
}

func (c Callbacks) onToolResult(call ToolCall, result string, err error) {
	if c.OnToolResult != nil {
		c.OnToolResult(call, result, err)
	}
}

func (c Callbacks) shouldExecute(call ToolCall) bool {
	if c.ShouldExecuteTool == nil {
		return true
	}
	return c.ShouldExecuteTool(call)
}

func (c Callbacks) warn(w string) {
	if c.OnWarning != nil {
		c.OnWarning(w)
	}
}
