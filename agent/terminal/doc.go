// Package terminal implements the interactive command-line mode.
//
// Prompts are read line by line; each one becomes a turn of the agent
// Manager. Assistant messages, tool notices and a status line with the
// context window usage and cost of the last response are written to the
// output, styled with lipgloss when it is a terminal.
//
//	term := terminal.New(manager, terminal.Options{
//	    ProviderID: "anthropic",
//	    ModelID:    "claude-sonnet-4-20250514",
//	    In:         os.Stdin,
//	    Out:        os.Stdout,
//	})
//	err := term.Run(ctx, initialPrompt)
//
// # Commands
//
//   - /cost: cost of the last response and of the session
//   - /model <provider> <model>: switch model, keeping the conversation
//   - /help
//   - /quit, /exit
//
// # Verbosity
//
//   - none: tool use is not shown
//   - info: one notice per tool call
//   - all: notices, arguments and tool output
//
// In prompt mode each tool call must be confirmed with "y".
package terminal
