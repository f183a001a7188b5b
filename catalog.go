package aidirector

import (
	"context"
	"time"
)

// CatalogStore persists provider configuration and per-model catalog data.
// Provider names are unique; models, pricing and free tiers are keyed by
// (provider, model id).
type CatalogStore interface {
	Providers(ctx context.Context) ([]ProviderConfig, error)
	UpsertProvider(ctx context.Context, p ProviderConfig) error

	// Models returns every record of provider, active or not, ordered by name.
	// An empty provider returns the records of all providers.
	Models(ctx context.Context, provider string) ([]ModelRecord, error)
	UpsertModel(ctx context.Context, m ModelRecord) error

	// DeactivateModels marks active records of provider last checked before
	// cutoff as inactive and returns how many changed.
	DeactivateModels(ctx context.Context, provider string, cutoff time.Time) (int, error)

	Pricing(ctx context.Context, provider string) ([]PricingRecord, error)
	UpsertPricing(ctx context.Context, p PricingRecord) error

	FreeTier(ctx context.Context, provider, model string) (FreeTierRecord, bool, error)
	FreeTiers(ctx context.Context, provider string) ([]FreeTierRecord, error)
	UpsertFreeTier(ctx context.Context, f FreeTierRecord) error
}

// ModelRecord is one model in a provider's catalog.
type ModelRecord struct {
	Provider     string             `json:"provider"`
	ModelID      string             `json:"model_id"`
	Name         string             `json:"name"`
	Active       bool               `json:"active"`
	LastChecked  time.Time          `json:"last_checked"`
	Capabilities *CapabilityProfile `json:"capabilities,omitempty"`
}

// PricingRecord is the metered price of a model.
type PricingRecord struct {
	Provider    string    `json:"provider"`
	ModelID     string    `json:"model_id"`
	InputPrice  float64   `json:"input_price"`
	OutputPrice float64   `json:"output_price"`
	Currency    string    `json:"currency"`
	Unit        string    `json:"unit"`
	Active      bool      `json:"active"`
	LastUpdated time.Time `json:"last_updated"`
}

// PriceUnitPer1kTokens is the only pricing unit the director understands.
const PriceUnitPer1kTokens = "per_1k_tokens"

// CombinedPrice returns input plus output price.
func (p PricingRecord) CombinedPrice() float64 {
	return p.InputPrice + p.OutputPrice
}

// FreeTierRecord describes a model's free allowance. A model without one
// is always metered.
type FreeTierRecord struct {
	Provider string `json:"provider"`
	ModelID  string `json:"model_id"`
	IsFree   bool   `json:"is_free"`
	Limits   Limits `json:"limits"`
	Notes    string `json:"notes,omitempty"`
}
