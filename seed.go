package aidirector

import (
	"context"
	"fmt"
)

type seedPrice struct {
	provider string
	model    string
	input    float64
	output   float64
}

// initialPricing is in USD per 1k tokens, the unit every record is labelled with.
var initialPricing = []seedPrice{
	{"claude", "claude-opus-4-1-20250805", 0.015, 0.075},
	{"claude", "claude-opus-4-20250514", 0.015, 0.075},
	{"claude", "claude-sonnet-4-20250514", 0.003, 0.015},
	{"claude", "claude-3-7-sonnet-20250219", 0.003, 0.015},
	{"claude", "claude-3-5-sonnet-20241022", 0.003, 0.015},
	{"claude", "claude-3-5-haiku-20241022", 0.0008, 0.004},
	{"claude", "claude-3-haiku-20240307", 0.00025, 0.00125},

	{"groq", "llama-3.1-8b-instant", 0.00027, 0.00027},
	{"groq", "llama-3.1-70b-versatile", 0.0007, 0.0007},
	{"groq", "llama-3.1-405b-reasoning", 0.002, 0.002},
	{"groq", "mixtral-8x7b-instant", 0.00027, 0.00027},
	{"groq", "gemma-2-9b-it", 0.00027, 0.00027},
	{"groq", "llama-3.3-70b-versatile", 0.0007, 0.0007},
	{"groq", "llama3-8b-8192", 0.00027, 0.00027},
	{"groq", "llama3-70b-8192", 0.0007, 0.0007},
	{"groq", "gemma2-9b-it", 0.00027, 0.00027},
	{"groq", "compound-beta", 0.00027, 0.00027},
	{"groq", "compound-beta-mini", 0.00027, 0.00027},
	{"groq", "meta-llama/llama-4-scout-17b-16e-instruct", 0.0007, 0.0007},
	{"groq", "meta-llama/llama-4-maverick-17b-128e-instruct", 0.0007, 0.0007},
	{"groq", "meta-llama/llama-guard-4-12b", 0.0007, 0.0007},
	{"groq", "meta-llama/llama-prompt-guard-2-22m", 0.00027, 0.00027},
	{"groq", "meta-llama/llama-prompt-guard-2-86m", 0.00027, 0.00027},
	{"groq", "qwen/qwen3-32b", 0.0007, 0.0007},
	{"groq", "moonshotai/kimi-k2-instruct", 0.0007, 0.0007},
	{"groq", "openai/gpt-oss-20b", 0.0007, 0.0007},
	{"groq", "openai/gpt-oss-120b", 0.002, 0.002},
	{"groq", "allam-2-7b", 0.00027, 0.00027},
	{"groq", "deepseek-r1-distill-llama-70b", 0.0007, 0.0007},
	{"groq", "whisper-large-v3", 0.00027, 0.00027},
	{"groq", "whisper-large-v3-turbo", 0.00027, 0.00027},
	{"groq", "distil-whisper-large-v3-en", 0.00027, 0.00027},
	{"groq", "playai-tts", 0.00027, 0.00027},
	{"groq", "playai-tts-arabic", 0.00027, 0.00027},

	{"gemini", "gemini-1.5-flash", 0.00035, 0.00105},
	{"gemini", "gemini-1.5-pro", 0.0035, 0.0105},
	{"gemini", "gemini-pro", 0.0005, 0.0015},

	{"together", "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free", 0.0002, 0.0002},
	{"together", "meta-llama/Llama-3.1-8B-Instruct", 0.0002, 0.0002},
	{"together", "togethercomputer/llama-3.1-8b-instruct", 0.0002, 0.0002},
}

var (
	groqLimits = Limits{
		RequestsPerMinute: 50,
		RequestsPerDay:    14400,
		TokensPerMinute:   18000,
		TokensPerDay:      5184000,
	}
	groqAudioLimits = Limits{
		RequestsPerMinute:   50,
		RequestsPerDay:      14400,
		TokensPerMinute:     18000,
		TokensPerDay:        5184000,
		AudioSecondsPerHour: 7200,
		AudioSecondsPerDay:  28800,
	}
	geminiLimits = Limits{
		RequestsPerMinute: 60,
		RequestsPerDay:    1500,
		TokensPerMinute:   60000,
		TokensPerDay:      1500000,
	}
	togetherLimits = Limits{
		RequestsPerMinute: 60,
		RequestsPerDay:    86400,
		TokensPerMinute:   60000,
		TokensPerDay:      86400000,
	}
)

func initialFreeTiers() []FreeTierRecord {
	var tiers []FreeTierRecord
	add := func(provider string, limits Limits, notes string, models ...string) {
		for _, m := range models {
			tiers = append(tiers, FreeTierRecord{Provider: provider, ModelID: m, IsFree: true, Limits: limits, Notes: notes})
		}
	}

	add("groq", groqLimits, "Free tier - all Groq models available",
		"allam-2-7b",
		"compound-beta",
		"compound-beta-mini",
		"deepseek-r1-distill-llama-70b",
		"gemma2-9b-it",
		"llama-3.1-8b-instant",
		"llama-3.3-70b-versatile",
		"llama3-70b-8192",
		"llama3-8b-8192",
		"meta-llama/llama-4-maverick-17b-128e-instruct",
		"meta-llama/llama-4-scout-17b-16e-instruct",
		"meta-llama/llama-guard-4-12b",
		"meta-llama/llama-prompt-guard-2-22m",
		"meta-llama/llama-prompt-guard-2-86m",
		"moonshotai/kimi-k2-instruct",
		"openai/gpt-oss-120b",
		"openai/gpt-oss-20b",
		"qwen/qwen3-32b",
	)
	add("groq", groqAudioLimits, "Free tier - all Groq models available",
		"distil-whisper-large-v3-en",
		"playai-tts",
		"playai-tts-arabic",
		"whisper-large-v3",
		"whisper-large-v3-turbo",
	)
	add("gemini", geminiLimits, "Free tier with good limits", "gemini-1.5-flash")
	add("together", togetherLimits, "Free tier - 60 RPM",
		"meta-llama/Llama-Vision-Free",
		"deepseek-ai/DeepSeek-R1-Distill-Llama-70B-free",
		"lgai/exaone-deep-32b",
		"lgai/exaone-3-5-32b-instruct",
		"meta-llama/Llama-3.3-70B-Instruct-Turbo-Free",
	)
	return tiers
}

// staticCatalog is used for providers that cannot list their models and
// have no models configured.
var staticCatalog = map[string][]CatalogModel{
	"claude": {
		{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet"},
		{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku"},
		{ID: "claude-3-7-sonnet-20250219", DisplayName: "Claude 3.7 Sonnet"},
		{ID: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4"},
		{ID: "claude-opus-4-20250514", DisplayName: "Claude Opus 4"},
		{ID: "claude-opus-4-1-20250805", DisplayName: "Claude Opus 4.1"},
		{ID: "claude-3-haiku-20240307", DisplayName: "Claude 3 Haiku"},
	},
	"groq": {
		{ID: "llama-3.1-8b-instant", DisplayName: "Llama 3.1 8B Instant"},
		{ID: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B Versatile"},
		{ID: "gemma2-9b-it", DisplayName: "Gemma 2 9B"},
		{ID: "deepseek-r1-distill-llama-70b", DisplayName: "DeepSeek R1 Distill Llama 70B"},
		{ID: "whisper-large-v3", DisplayName: "Whisper Large v3"},
	},
	"gemini": {
		{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash"},
		{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro"},
		{ID: "gemini-pro", DisplayName: "Gemini Pro"},
	},
	"together": {
		{ID: "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free", DisplayName: "Llama 3.3 70B Instruct Turbo Free"},
		{ID: "meta-llama/Llama-Vision-Free", DisplayName: "Llama Vision Free"},
		{ID: "deepseek-ai/DeepSeek-R1-Distill-Llama-70B-free", DisplayName: "DeepSeek R1 Distill Llama 70B Free"},
	},
}

// SeedInitialPricing upserts the built-in pricing table and returns the
// number of records written.
func (d *Director) SeedInitialPricing(ctx context.Context) (int, error) {
	now := d.now()
	for i, p := range initialPricing {
		rec := PricingRecord{
			Provider:    p.provider,
			ModelID:     p.model,
			InputPrice:  p.input,
			OutputPrice: p.output,
			Currency:    "USD",
			Unit:        PriceUnitPer1kTokens,
			Active:      true,
			LastUpdated: now,
		}
		if err := d.store.UpsertPricing(ctx, rec); err != nil {
			return i, fmt.Errorf("aidirector: seed pricing %s/%s: %w", p.provider, p.model, err)
		}
	}
	d.logger.Info("seeded pricing", "records", len(initialPricing))
	return len(initialPricing), nil
}

// SeedFreeTierInformation upserts the built-in free-tier table and returns
// the number of records written.
func (d *Director) SeedFreeTierInformation(ctx context.Context) (int, error) {
	tiers := initialFreeTiers()
	for i, f := range tiers {
		if err := d.store.UpsertFreeTier(ctx, f); err != nil {
			return i, fmt.Errorf("aidirector: seed free tier %s/%s: %w", f.Provider, f.ModelID, err)
		}
	}
	d.logger.Info("seeded free tiers", "records", len(tiers))
	return len(tiers), nil
}

// seedIfEmpty seeds pricing and free tiers when the store has none.
func (d *Director) seedIfEmpty(ctx context.Context) error {
	pricing, err := d.store.Pricing(ctx, "")
	if err != nil {
		return fmt.Errorf("aidirector: load pricing: %w", err)
	}
	if len(pricing) == 0 {
		if _, err := d.SeedInitialPricing(ctx); err != nil {
			return err
		}
	}

	tiers, err := d.store.FreeTiers(ctx, "")
	if err != nil {
		return fmt.Errorf("aidirector: load free tiers: %w", err)
	}
	if len(tiers) == 0 {
		if _, err := d.SeedFreeTierInformation(ctx); err != nil {
			return err
		}
	}
	return nil
}

// staticModels returns the fallback catalog for a provider.
func staticModels(cfg ProviderConfig) []CatalogModel {
	if len(cfg.Models) > 0 {
		out := make([]CatalogModel, len(cfg.Models))
		for i, m := range cfg.Models {
			out[i] = CatalogModel{ID: m, DisplayName: m}
		}
		return out
	}
	if models, ok := staticCatalog[cfg.Name]; ok {
		return models
	}
	if cfg.DefaultModel != "" {
		return []CatalogModel{{ID: cfg.DefaultModel, DisplayName: cfg.DefaultModel}}
	}
	return nil
}
