package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/aidirector"
	"github.com/ineyio/aidirector/catalog/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "catalog.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Path())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestProviders_RoundTripWithoutCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProvider(ctx, aidirector.ProviderConfig{
		Name:            "groq",
		DisplayName:     "Groq",
		APIKey:          "gsk_secret",
		Enabled:         true,
		DefaultModel:    "llama-3.1-8b-instant",
		MaxTokens:       1000,
		Temperature:     0.7,
		CostPer1kTokens: 0.00027,
		Models:          []string{"llama-3.1-8b-instant"},
	}))
	require.NoError(t, s.UpsertProvider(ctx, aidirector.ProviderConfig{Name: "groq", DefaultModel: "gemma2-9b-it"}))

	got, err := s.Providers(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gemma2-9b-it", got[0].DefaultModel)
	assert.False(t, got[0].Enabled)
	assert.Empty(t, got[0].APIKey)
}

func TestModels_UpsertListAndDeactivate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	caps := aidirector.InferCapabilities("llama-3.1-405b-reasoning")
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{
		Provider: "groq", ModelID: "b-model", Name: "B", Active: true, LastChecked: now, Capabilities: &caps,
	}))
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{
		Provider: "groq", ModelID: "a-model", Name: "A", Active: true, LastChecked: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{
		Provider: "gemini", ModelID: "gemini-pro", Name: "Gemini Pro", Active: true, LastChecked: now,
	}))

	models, err := s.Models(ctx, "groq")
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "a-model", models[0].ModelID)
	assert.Nil(t, models[0].Capabilities)
	require.NotNil(t, models[1].Capabilities)
	assert.Equal(t, aidirector.ClassStateOfTheArt, models[1].Capabilities.Performance.Quality)
	assert.True(t, models[1].LastChecked.Equal(now))

	n, err := s.DeactivateModels(ctx, "groq", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	models, err = s.Models(ctx, "groq")
	require.NoError(t, err)
	assert.False(t, models[0].Active)
	assert.True(t, models[1].Active)

	all, err := s.Models(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpsertModel_KeepsCapabilitiesWhenOmitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	caps := aidirector.DefaultCapabilities()
	caps.Vision = true
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{Provider: "p", ModelID: "m", Name: "m", Active: true, LastChecked: now, Capabilities: &caps}))
	require.NoError(t, s.UpsertModel(ctx, aidirector.ModelRecord{Provider: "p", ModelID: "m", Name: "m", Active: true, LastChecked: now}))

	models, err := s.Models(ctx, "p")
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.NotNil(t, models[0].Capabilities)
	assert.True(t, models[0].Capabilities.Vision)
}

func TestPricingAndFreeTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPricing(ctx, aidirector.PricingRecord{
		Provider: "gemini", ModelID: "gemini-1.5-flash", InputPrice: 0.00035, OutputPrice: 0.00105,
		Currency: "USD", Unit: aidirector.PriceUnitPer1kTokens, Active: true, LastUpdated: time.Now(),
	}))
	pricing, err := s.Pricing(ctx, "gemini")
	require.NoError(t, err)
	require.Len(t, pricing, 1)
	assert.InDelta(t, 0.0014, pricing[0].CombinedPrice(), 1e-9)

	limits := aidirector.Limits{RequestsPerMinute: 60, RequestsPerDay: 1500}
	require.NoError(t, s.UpsertFreeTier(ctx, aidirector.FreeTierRecord{
		Provider: "gemini", ModelID: "gemini-1.5-flash", IsFree: true, Limits: limits, Notes: "free",
	}))

	ft, found, err := s.FreeTier(ctx, "gemini", "gemini-1.5-flash")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, ft.IsFree)
	assert.Equal(t, limits, ft.Limits)

	_, found, err = s.FreeTier(ctx, "gemini", "gemini-1.5-pro")
	require.NoError(t, err)
	assert.False(t, found)

	tiers, err := s.FreeTiers(ctx, "")
	require.NoError(t, err)
	assert.Len(t, tiers, 1)
}
