package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/m4xw311/mars/agent"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/session"
)

const helpText = `Commands:
  /cost                       show the cost of the last response and of the session
  /model <provider> <model>   switch model
  /help                       show this help
  /quit, /exit                leave`

type Options struct {
	ProviderID string
	ModelID    string
	Verbosity  agent.ToolVerbosity
	// Store and Chat are optional; when both are set the chat is saved
	// after every turn.
	Store  *session.Store
	Chat   *session.Chat
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
}

type styles struct {
	prompt, assistant, warning, failure, tool, status lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		prompt:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistant: r.NewStyle().Foreground(lipgloss.Color("10")),
		warning:   r.NewStyle().Foreground(lipgloss.Color("11")),
		failure:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		tool:      r.NewStyle().Faint(true),
		status:    r.NewStyle().Faint(true).Italic(true),
	}
}

// Terminal handles the terminal/CLI interaction mode.
type Terminal struct {
	manager *agent.Manager
	opts    Options
	in      *bufio.Scanner
	out     io.Writer
	styles  styles
	logger  *slog.Logger

	percent float64
	cost    float64
}

func New(m *agent.Manager, opts Options) *Terminal {
	if opts.Verbosity == "" {
		opts.Verbosity = agent.ToolVerbosityInfo
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Terminal{
		manager: m,
		opts:    opts,
		in:      bufio.NewScanner(opts.In),
		out:     opts.Out,
		styles:  newStyles(opts.Out),
		logger:  opts.Logger,
	}
}

// Run processes initialPrompt, if any, then reads prompts until EOF or an
// exit command.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if t.opts.Chat != nil {
		for _, m := range t.opts.Chat.Messages {
			t.print(m)
		}
	}
	if initialPrompt != "" {
		t.processTurn(ctx, initialPrompt)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(t.out, t.styles.prompt.Render("You: "))
		if !t.in.Scan() {
			break
		}
		input := strings.TrimSpace(t.in.Text())
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := t.command(ctx, input); quit {
				break
			}
			continue
		}
		t.processTurn(ctx, input)
	}
	fmt.Fprintln(t.out)
	return t.in.Err()
}

// command handles a slash command and reports whether to quit.
func (t *Terminal) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/cost":
		total := 0.0
		if a, err := t.manager.Agent(ctx, t.opts.ProviderID, t.opts.ModelID); err == nil {
			total = a.TotalCost()
		}
		fmt.Fprintf(t.out, "Last response: %s, session: %s\n", dollars(t.cost), dollars(total))
	case "/model":
		if len(fields) != 3 {
			fmt.Fprintln(t.out, t.styles.warning.Render("usage: /model <provider> <model>"))
			return false
		}
		if _, err := t.manager.Agent(ctx, fields[1], fields[2]); err != nil {
			fmt.Fprintln(t.out, t.styles.failure.Render(errors.Message(err)))
			return false
		}
		t.opts.ProviderID, t.opts.ModelID = fields[1], fields[2]
		t.savePreferences()
		fmt.Fprintf(t.out, "Switched to %s/%s\n", fields[1], fields[2])
	case "/help":
		fmt.Fprintln(t.out, helpText)
	default:
		fmt.Fprintln(t.out, t.styles.warning.Render("unknown command "+fields[0]+", try /help"))
	}
	return false
}

// processTurn runs one user turn. Failures are already shown to the user
// through AddMessage.
func (t *Terminal) processTurn(ctx context.Context, input string) {
	t.record(session.NewMessage(session.FromUser, input, session.StateNeutral))
	err := t.manager.HandleUserMessage(ctx, t.opts.ProviderID, t.opts.ModelID, input, t.callbacks())
	if err == nil {
		fmt.Fprintln(t.out, t.styles.status.Render(fmt.Sprintf("context %.1f%% | %s", t.percent, dollars(t.cost))))
	}
	t.saveChat(ctx)
}

func (t *Terminal) callbacks() agent.Callbacks {
	return agent.Callbacks{
		AddMessage: func(m session.Message) {
			t.record(m)
			t.print(m)
		},
		SetContextWindowUsage: func(p float64) { t.percent = p },
		SetUsageCost:          func(c float64) { t.cost = c },
		SetCurrentlyStreamedMessage: func(s string) {
			// Redraw the line in place; an empty string ends the stream.
			if s == "" {
				fmt.Fprint(t.out, "\r\033[K")
				return
			}
			fmt.Fprint(t.out, "\r\033[K"+lastLine(s))
		},
		OnToolCall: func(call agent.ToolCall, notice string) {
			switch t.opts.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintln(t.out, t.styles.tool.Render(fmt.Sprintf("%s (%s %v)", notice, call.Name, call.Args)))
			case agent.ToolVerbosityInfo:
				fmt.Fprintln(t.out, t.styles.tool.Render(notice))
			}
		},
		OnToolResult: func(call agent.ToolCall, result string, err error) {
			if err != nil && t.opts.Verbosity != agent.ToolVerbosityNone {
				fmt.Fprintln(t.out, t.styles.warning.Render(fmt.Sprintf("Tool `%s` failed: %s", call.Name, errors.Message(err))))
				return
			}
			if t.opts.Verbosity == agent.ToolVerbosityAll {
				fmt.Fprintln(t.out, t.styles.tool.Render(fmt.Sprintf("Tool `%s` output:\n%s", call.Name, result)))
			}
		},
		ShouldExecuteTool: func(call agent.ToolCall) bool {
			fmt.Fprintf(t.out, "Mars wants to run `%s` with %v. Allow? (y/n): ", call.Name, call.Args)
			if !t.in.Scan() {
				return false
			}
			answer := strings.ToLower(strings.TrimSpace(t.in.Text()))
			return answer == "y" || answer == "yes"
		},
		OnWarning: func(w string) {
			fmt.Fprintln(t.out, t.styles.warning.Render("Warning: "+w))
		},
	}
}

func (t *Terminal) print(m session.Message) {
	switch {
	case m.From == session.FromUser:
		fmt.Fprintln(t.out, t.styles.prompt.Render("You: ")+m.Content)
	case m.State == session.StateError:
		fmt.Fprintln(t.out, t.styles.failure.Render("Error: "+m.Content))
	case m.State == session.StateWarning:
		fmt.Fprintln(t.out, t.styles.warning.Render(m.Content))
	default:
		fmt.Fprintln(t.out, t.styles.assistant.Render("Mars: ")+m.Content)
	}
}

func (t *Terminal) record(m session.Message) {
	if t.opts.Chat != nil {
		t.opts.Chat.AddMessage(m)
	}
}

func (t *Terminal) saveChat(ctx context.Context) {
	if t.opts.Store == nil || t.opts.Chat == nil {
		return
	}
	if a, err := t.manager.Agent(ctx, t.opts.ProviderID, t.opts.ModelID); err == nil {
		t.opts.Chat.History = a.History()
	}
	t.opts.Chat.ProviderID, t.opts.Chat.ModelID = t.opts.ProviderID, t.opts.ModelID
	if t.opts.Chat.Title == "" && len(t.opts.Chat.Messages) > 0 {
		t.opts.Chat.Title = title(t.opts.Chat.Messages[0].Content)
	}
	if err := t.opts.Store.SaveChat(t.opts.Chat); err != nil {
		t.logger.Warn("could not save chat", "chat", t.opts.Chat.ID, "error", err)
		return
	}
	prefs := t.opts.Store.LoadPreferences()
	id := t.opts.Chat.ID
	prefs.LastUsedChat = &id
	if err := t.opts.Store.SavePreferences(prefs); err != nil {
		t.logger.Warn("could not save preferences", "error", err)
	}
}

func (t *Terminal) savePreferences() {
	if t.opts.Store == nil {
		return
	}
	prefs := t.opts.Store.LoadPreferences()
	prefs.CurrentProviderID = t.opts.ProviderID
	prefs.CurrentModel = session.ModelRef{ID: t.opts.ModelID, Name: t.opts.ModelID}
	if a, err := t.manager.Agent(context.Background(), t.opts.ProviderID, t.opts.ModelID); err == nil {
		prefs.CurrentModel.Name = a.Model().Name
	}
	if err := t.opts.Store.SavePreferences(prefs); err != nil {
		t.logger.Warn("could not save preferences", "error", err)
	}
}

// dollars formats cents.
func dollars(cents float64) string {
	return fmt.Sprintf("$%.4f", cents/100)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func title(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}
