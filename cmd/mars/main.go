package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/m4xw311/mars/agent"
	"github.com/m4xw311/mars/agent/acp"
	"github.com/m4xw311/mars/agent/terminal"
	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
	"github.com/m4xw311/mars/logging"
	"github.com/m4xw311/mars/models"
	"github.com/m4xw311/mars/session"
	"github.com/m4xw311/mars/tools"
)

type cliFlags struct {
	headless      bool
	stream        bool
	provider      string
	model         string
	mode          string
	toolset       string
	resume        string
	toolVerbosity string
	listChats     bool
	listModels    bool
	prompt        string
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	fs := flag.NewFlagSet("mars", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &cliFlags{}
	fs.BoolVar(&f.headless, "headless", false, "Serve the Agent Client Protocol on stdio instead of the terminal UI")
	fs.BoolVar(&f.stream, "stream", false, "Stream responses token by token (tools are disabled while streaming)")
	fs.StringVar(&f.provider, "provider", "", "Provider id, e.g. 'anthropic' or 'openai'")
	fs.StringVar(&f.model, "model", "", "Model id of the provider")
	fs.StringVar(&f.mode, "m", "prompt", "Execution mode: 'auto' or 'prompt'")
	fs.StringVar(&f.toolset, "t", "", "Toolset to use (defaults to 'default')")
	fs.StringVar(&f.resume, "r", "", "Resume a chat by id")
	fs.StringVar(&f.toolVerbosity, "tool-verbosity", "info", "Tool verbosity level: 'none', 'info', or 'all'")
	fs.BoolVar(&f.listChats, "list-chats", false, "List saved chats and exit")
	fs.BoolVar(&f.listModels, "list-models", false, "List known models and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.prompt = strings.Join(fs.Args(), " ")

	switch agent.Mode(f.mode) {
	case agent.ModeAuto, agent.ModePrompt:
	default:
		return nil, errors.New("invalid mode '%s'. Must be 'auto' or 'prompt'", f.mode)
	}
	switch agent.ToolVerbosity(f.toolVerbosity) {
	case agent.ToolVerbosityNone, agent.ToolVerbosityInfo, agent.ToolVerbosityAll:
	default:
		return nil, errors.New("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", f.toolVerbosity)
	}
	return f, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errors.Message(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "error loading configuration")
	}
	logger, closer, err := logging.Open(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)
	ctx = logging.WithContext(ctx, logger)

	registry := models.Default(models.Options{
		Retry: llm.RetryPolicy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			BaseDelay:         cfg.Retry.BaseDelay,
			RequestsPerMinute: cfg.Retry.RequestsPerMinute,
		},
		Logger: logger,
	})
	if err := models.ApplyConfig(registry, cfg.Models); err != nil {
		return err
	}
	if f.listModels {
		printModels(stdout, registry)
		return nil
	}

	store, err := session.NewStore()
	if err != nil {
		return err
	}
	firstRun := !store.HasPreferences()
	if err := store.Initialize(); err != nil {
		return err
	}
	if f.listChats {
		return printChats(stdout, store)
	}

	var chat *session.Chat
	if f.resume != "" {
		if chat, err = store.LoadChat(f.resume); err != nil {
			return errors.Wrapf(err, "error resuming chat '%s'", f.resume)
		}
	}
	providerID, modelID := selectModel(f, cfg, store.LoadPreferences(), chat, firstRun, registry)
	if _, err := registry.Model(providerID, modelID); err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrapf(err, "could not get working directory")
	}
	all := tools.NewToolRegistry(ctx, cfg, wd, logger)
	defer all.Close()
	toolRegistry, err := all.Select(cfg.GetToolset(f.toolset))
	if err != nil {
		return err
	}

	manager := agent.NewManager(registry, toolRegistry, agent.ManagerOptions{
		Options: agent.Options{
			Mode:              agent.Mode(f.mode),
			MaxToolIterations: cfg.MaxToolIterations,
			MaxTokens:         cfg.MaxTokens,
			SystemPrompt:      cfg.SystemPrompt,
			Logger:            logger,
		},
		Stream: f.stream && !f.headless,
	})
	logger.Info("starting", "provider", providerID, "model", modelID, "mode", f.mode, "headless", f.headless)

	if err := rememberModel(store, registry, providerID, modelID); err != nil {
		logger.Warn("could not save preferences", "error", err)
	}

	if f.headless {
		return acp.Run(ctx, manager, acp.Options{
			ProviderID: providerID,
			ModelID:    modelID,
			Store:      store,
			Logger:     logger,
		}, stdin, stdout)
	}

	if chat == nil {
		chat = session.NewChat("")
		chat.ProviderID, chat.ModelID = providerID, modelID
	} else {
		a, err := manager.Agent(ctx, providerID, modelID)
		if err != nil {
			return err
		}
		a.Restore(chat.History)
		fmt.Fprintf(stdout, "Resuming chat: %s\n", chat.ID)
	}
	fmt.Fprintf(stdout, "Mars is ready (%s/%s). Type your prompt or /help.\n", providerID, modelID)

	term := terminal.New(manager, terminal.Options{
		ProviderID: providerID,
		ModelID:    modelID,
		Verbosity:  agent.ToolVerbosity(f.toolVerbosity),
		Store:      store,
		Chat:       chat,
		In:         stdin,
		Out:        stdout,
		Logger:     logger,
	})
	return term.Run(ctx, f.prompt)
}

// selectModel picks the provider and model. Flags win, then the resumed
// chat, then saved preferences. The config file only seeds the choice on
// the first run; afterwards the preferences it was saved into take over.
// A provider given without a model starts on that provider's first model.
func selectModel(f *cliFlags, cfg *config.Config, prefs session.Preferences, chat *session.Chat, firstRun bool, registry *models.Registry) (string, string) {
	providerID, modelID := prefs.CurrentProviderID, prefs.CurrentModel.ID
	if firstRun && cfg.LLMClient != "" {
		providerID, modelID = cfg.LLMClient, cfg.Model
		if modelID == "" {
			modelID = firstModel(registry, providerID)
		}
	}
	if chat != nil && chat.ProviderID != "" {
		providerID, modelID = chat.ProviderID, chat.ModelID
	}
	if f.provider != "" && f.provider != providerID {
		providerID, modelID = f.provider, firstModel(registry, f.provider)
	}
	if f.model != "" {
		modelID = f.model
	}
	return providerID, modelID
}

func firstModel(registry *models.Registry, providerID string) string {
	for _, p := range registry.Providers() {
		if p.ID == providerID && len(p.Models) > 0 {
			return p.Models[0].ID
		}
	}
	return ""
}

func rememberModel(store *session.Store, registry *models.Registry, providerID, modelID string) error {
	m, err := registry.Model(providerID, modelID)
	if err != nil {
		return err
	}
	prefs := store.LoadPreferences()
	prefs.CurrentProviderID = providerID
	prefs.CurrentModel = session.ModelRef{ID: m.ID, Name: m.Name}
	return store.SavePreferences(prefs)
}

func printModels(w io.Writer, registry *models.Registry) {
	for _, p := range registry.Providers() {
		fmt.Fprintf(w, "%s (%s)\n", p.Name, p.ID)
		for _, m := range p.Models {
			fmt.Fprintf(w, "  %-45s %s context\n", m.ID, humanize.Comma(int64(m.ContextWindow)))
		}
	}
}

func printChats(w io.Writer, store *session.Store) error {
	chats, err := store.ListChats()
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Fprintln(w, "No saved chats.")
		return nil
	}
	for _, c := range chats {
		fmt.Fprintf(w, "%s  %-14s  %s\n", c.ID, humanize.Time(c.UpdatedAt), c.Title)
	}
	return nil
}
