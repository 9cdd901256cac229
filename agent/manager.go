package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/models"
	"github.com/m4xw311/mars/session"
	"github.com/m4xw311/mars/tools"
)

type ManagerOptions struct {
	Options
	// Stream routes turns through RespondStream.
	Stream bool
}

// Manager owns at most one Agent per provider and is what the front ends
// talk to.
type Manager struct {
	models *models.Registry
	tools  *tools.Registry
	opts   ManagerOptions
	logger *slog.Logger

	mu     sync.Mutex
	agents map[string]*Agent
}

func NewManager(registry *models.Registry, toolRegistry *tools.Registry, opts ManagerOptions) *Manager {
	opts.applyDefaults()
	return &Manager{
		models: registry,
		tools:  toolRegistry,
		opts:   opts,
		logger: opts.Logger,
		agents: make(map[string]*Agent),
	}
}

// Agent returns the provider's agent, creating it on first use. Asking for
// another model of the same provider replaces the agent; the conversation
// carries over.
func (m *Manager) Agent(ctx context.Context, providerID, modelID string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.agents[providerID]
	if ok && existing.model.ID == modelID {
		return existing, nil
	}

	model, err := m.models.Model(providerID, modelID)
	if err != nil {
		return nil, err
	}
	factory, err := m.models.ClientFactory(providerID)
	if err != nil {
		return nil, err
	}
	client, err := factory(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %s client", providerID)
	}

	a := New(providerID, model, client, m.tools, m.opts.Options)
	if ok {
		a.Restore(existing.History())
		a.totalCost = existing.TotalCost()
		m.logger.Info("switched model", "provider", providerID, "from", existing.model.ID, "to", modelID)
	} else {
		m.logger.Info("created agent", "provider", providerID, "model", modelID)
	}
	m.agents[providerID] = a
	return a, nil
}

// HandleUserMessage runs one turn for text. The loading flag brackets the
// turn and any failure is shown to the user as a single error message. The
// error is also returned for callers that need the outcome.
func (m *Manager) HandleUserMessage(ctx context.Context, providerID, modelID, text string, cb Callbacks) (err error) {
	cb.setLoading(true)
	defer cb.setLoading(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
		if err != nil {
			m.logger.Error("turn failed", "provider", providerID, "model", modelID, "error", err)
			cb.addMessage(session.FromAssistant, errors.Message(err), session.StateError)
		}
	}()

	a, err := m.Agent(ctx, providerID, modelID)
	if err != nil {
		return err
	}
	if m.opts.Stream {
		return a.RespondStream(ctx, text, cb)
	}
	return a.Respond(ctx, text, cb)
}

// Reset drops every agent.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = make(map[string]*Agent)
}
