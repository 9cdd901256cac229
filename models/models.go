// Package models is the catalog of LLM providers and their models.
package models

import (
	"context"
	"sync"

	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
)

// Pricing is in cents per million tokens. Nil cache prices fall back to
// InputCost.
type Pricing struct {
	InputCost      float64  `json:"inputCost"`
	OutputCost     float64  `json:"outputCost"`
	CacheReadCost  *float64 `json:"cacheReadCost,omitempty"`
	CacheWriteCost *float64 `json:"cacheWriteCost,omitempty"`
}

func (p Pricing) CacheRead() float64 {
	if p.CacheReadCost != nil {
		return *p.CacheReadCost
	}
	return p.InputCost
}

func (p Pricing) CacheWrite() float64 {
	if p.CacheWriteCost != nil {
		return *p.CacheWriteCost
	}
	return p.InputCost
}

type Model struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ContextWindow int     `json:"contextWindow"`
	Pricing       Pricing `json:"pricing"`
}

// ClientFactory builds a client able to serve any model of its provider.
type ClientFactory func(ctx context.Context) (llm.Client, error)

type Provider struct {
	ID        string
	Name      string
	Models    []Model
	NewClient ClientFactory
}

// ProviderInfo is the public view of a Provider.
type ProviderInfo struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Models []Model `json:"models"`
}

// Registry holds providers in registration order. It is filled at startup
// and read afterwards; the lock only guards against misuse.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]*Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

// Register adds p, replacing any provider with the same id in place.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	p.Models = append([]Model(nil), p.Models...)
	r.providers[p.ID] = &p
}

// AddModel appends m to a provider's catalog, replacing a model with the
// same id.
func (r *Registry) AddModel(providerID string, m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[providerID]
	if !ok {
		return errors.ProviderNotFound(providerID)
	}
	for i := range p.Models {
		if p.Models[i].ID == m.ID {
			p.Models[i] = m
			return nil
		}
	}
	p.Models = append(p.Models, m)
	return nil
}

// Providers returns every provider with its client factory stripped.
func (r *Registry) Providers() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(r.order))
	for _, id := range r.order {
		p := r.providers[id]
		out = append(out, ProviderInfo{
			ID:     p.ID,
			Name:   p.Name,
			Models: append([]Model(nil), p.Models...),
		})
	}
	return out
}

// ClientFactory returns the factory used to build agents for providerID.
func (r *Registry) ClientFactory(providerID string) (ClientFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return nil, errors.ProviderNotFound(providerID)
	}
	if p.NewClient == nil {
		return nil, errors.New("provider %s has no client factory", providerID)
	}
	return p.NewClient, nil
}

// Model looks up a model of a provider.
func (r *Registry) Model(providerID, modelID string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return Model{}, errors.ProviderNotFound(providerID)
	}
	for _, m := range p.Models {
		if m.ID == modelID {
			return m, nil
		}
	}
	return Model{}, errors.ModelNotFound(modelID)
}
