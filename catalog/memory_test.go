package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/ineyio/aidirector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ProvidersDropCredential(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertProvider(ctx, aidirector.ProviderConfig{Name: "groq", APIKey: "gsk_secret", Enabled: true}))
	require.NoError(t, s.UpsertProvider(ctx, aidirector.ProviderConfig{Name: "claude", APIKey: "sk-ant"}))

	got, err := s.Providers(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "claude", got[0].Name)
	assert.Equal(t, "groq", got[1].Name)
	for _, p := range got {
		assert.Empty(t, p.APIKey)
	}
}

func TestMemoryStore_Models(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	caps := aidirector.InferCapabilities("llama-70b")

	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{Provider: "groq", ModelID: "b", Name: "Beta", Active: true, LastChecked: now, Capabilities: &caps}))
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{Provider: "groq", ModelID: "a", Name: "Alpha", Active: true, LastChecked: now.Add(-time.Hour)}))
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{Provider: "gemini", ModelID: "g", Name: "Gamma", Active: true, LastChecked: now}))

	models, err := s.Models(ctx, "groq")
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "Alpha", models[0].Name)
	assert.Equal(t, "Beta", models[1].Name)

	// Returned records are copies.
	models[1].Capabilities.Vision = true
	again, err := s.Models(ctx, "groq")
	require.NoError(t, err)
	assert.False(t, again[1].Capabilities.Vision)

	all, err := s.Models(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Re-upserting without capabilities keeps the stored profile.
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{Provider: "groq", ModelID: "b", Name: "Beta 2", Active: true, LastChecked: now}))
	models, err = s.Models(ctx, "groq")
	require.NoError(t, err)
	require.NotNil(t, models[1].Capabilities)
	assert.Equal(t, "Beta 2", models[1].Name)

	n, err := s.DeactivateModels(ctx, "groq", now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	models, err = s.Models(ctx, "groq")
	require.NoError(t, err)
	assert.False(t, models[0].Active)
	assert.True(t, models[1].Active)

	n, err = s.DeactivateModels(ctx, "groq", now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_PricingAndFreeTiers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertPricing(ctx, aidirector.PricingRecord{Provider: "groq", ModelID: "m", InputPrice: 1, OutputPrice: 2, Active: true}))
	require.NoError(t, s.UpsertPricing(ctx, aidirector.PricingRecord{Provider: "groq", ModelID: "m", InputPrice: 3, OutputPrice: 4, Active: true}))
	require.NoError(t, s.UpsertPricing(ctx, aidirector.PricingRecord{Provider: "claude", ModelID: "c", InputPrice: 5}))

	pricing, err := s.Pricing(ctx, "groq")
	require.NoError(t, err)
	require.Len(t, pricing, 1)
	assert.InDelta(t, 7.0, pricing[0].CombinedPrice(), 1e-9)

	all, err := s.Pricing(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, found, err := s.FreeTier(ctx, "groq", "m")
	require.NoError(t, err)
	assert.False(t, found)

	limits := aidirector.Limits{RequestsPerMinute: 30, RequestsPerDay: 14400}
	require.NoError(t, s.UpsertFreeTier(ctx, aidirector.FreeTierRecord{Provider: "groq", ModelID: "m", IsFree: true, Limits: limits}))

	ft, found, err := s.FreeTier(ctx, "groq", "m")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, limits, ft.Limits)

	tiers, err := s.FreeTiers(ctx, "claude")
	require.NoError(t, err)
	assert.Empty(t, tiers)
}
