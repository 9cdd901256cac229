// Package agent drives conversations between the user, a model and the
// local tools.
//
// The package is shared by the two front ends:
//
//   - agent/terminal: interactive command-line mode
//   - agent/acp: Agent Client Protocol server over stdio for editors
//
// # Turns
//
// An Agent is bound to one model. Respond sends the conversation plus the
// tool schemas to the model, runs every tool the model asks for, sends the
// results back and repeats until the model answers without tool use:
//
//	a := agent.New(providerID, model, client, registry, agent.Options{})
//	err := a.Respond(ctx, "where is the config loaded?", agent.Callbacks{
//	    AddMessage: func(m session.Message) { fmt.Println(m.Content) },
//	    OnToolCall: func(call agent.ToolCall, notice string) { fmt.Println(notice) },
//	})
//
// The loop stops with errors.ErrToolLoopExceeded after
// Options.MaxToolIterations rounds of tool use. A turn that fails leaves
// the history exactly as it was before the turn.
//
// RespondStream is the tool-less variant that shows text while it arrives
// through Callbacks.SetCurrentlyStreamedMessage.
//
// # Usage
//
// After the final response of a turn the agent reports the share of the
// context window that response used and its cost in cents. Both describe
// the latest response only. TotalCost sums every call.
//
// # Modes
//
//   - ModeAuto: tools run without confirmation
//   - ModePrompt: Callbacks.ShouldExecuteTool decides; a declined call is
//     reported to the model as such
//
// # Manager
//
// Manager keeps one Agent per provider, creates it on first use and turns
// failures into a single error message for the user. Front ends only talk
// to the Manager.
package agent
