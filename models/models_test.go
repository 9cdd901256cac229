package models

import (
	"context"
	"testing"

	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
	"github.com/stretchr/testify/require"
)

func TestEveryCatalogPairResolves(t *testing.T) {
	r := Default(Options{})
	for _, p := range r.Providers() {
		_, err := r.ClientFactory(p.ID)
		require.NoError(t, err, p.ID)
		for _, m := range p.Models {
			got, err := r.Model(p.ID, m.ID)
			require.NoError(t, err)
			require.Equal(t, m, got)
			require.Positive(t, got.ContextWindow)
		}
	}
}

func TestLookupFailuresCarryID(t *testing.T) {
	r := Default(Options{})

	_, err := r.ClientFactory("nope")
	require.True(t, errors.Is(err, errors.ErrProviderNotFound))
	require.Contains(t, err.Error(), "nope")

	_, err = r.Model("nope", "claude-sonnet-4-20250514")
	require.True(t, errors.Is(err, errors.ErrProviderNotFound))

	_, err = r.Model(ProviderAnthropic, "claude-99")
	require.True(t, errors.Is(err, errors.ErrModelNotFound))
	require.EqualError(t, err, "The model you are searching for cannot be found: claude-99")
}

func TestRegisterReplacesInPlace(t *testing.T) {
	r := NewRegistry()
	r.Register(Provider{ID: "a", Name: "A"})
	r.Register(Provider{ID: "b", Name: "B"})
	r.Register(Provider{ID: "a", Name: "A2", Models: []Model{{ID: "x", ContextWindow: 10}}})

	ps := r.Providers()
	require.Len(t, ps, 2)
	require.Equal(t, "A2", ps[0].Name)
	require.Equal(t, "b", ps[1].ID)

	_, err := r.Model("a", "x")
	require.NoError(t, err)
}

func TestProvidersViewIsCopy(t *testing.T) {
	r := Default(Options{})
	ps := r.Providers()
	ps[0].Models[0].Name = "mutated"

	m, err := r.Model(ps[0].ID, ps[0].Models[0].ID)
	require.NoError(t, err)
	require.NotEqual(t, "mutated", m.Name)
}

func TestPricingFallback(t *testing.T) {
	p := Pricing{InputCost: 300}
	require.Equal(t, 300.0, p.CacheRead())
	require.Equal(t, 300.0, p.CacheWrite())

	m, err := Default(Options{}).Model(ProviderAnthropic, "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	require.Equal(t, 8.0, m.Pricing.CacheRead())
	require.Equal(t, 100.0, m.Pricing.CacheWrite())
}

func TestMockFactory(t *testing.T) {
	f, err := Default(Options{}).ClientFactory(ProviderMock)
	require.NoError(t, err)
	c, err := f(context.Background())
	require.NoError(t, err)
	resp, err := c.Send(context.Background(), llm.Request{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}})
	require.NoError(t, err)
	require.Contains(t, resp.Message().Text(), "hi")
}

func TestApplyConfig(t *testing.T) {
	r := Default(Options{})
	err := ApplyConfig(r, []config.CustomModel{{
		Provider: ProviderOpenAI, ID: "gpt-local", ContextWindow: 8000,
		Pricing: config.ModelPricing{Input: 1, Output: 2},
	}})
	require.NoError(t, err)
	m, err := r.Model(ProviderOpenAI, "gpt-local")
	require.NoError(t, err)
	require.Equal(t, "gpt-local", m.Name)

	err = ApplyConfig(r, []config.CustomModel{{Provider: "nowhere", ID: "x"}})
	require.True(t, errors.Is(err, errors.ErrProviderNotFound))
}
