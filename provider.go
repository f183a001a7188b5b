package aidirector

import "context"

// Provider is the interface that upstream adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "claude", "groq", "gemini").
	Name() string

	// Send runs a single prompt and returns the completion.
	Send(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// CatalogLister is implemented by providers that can list their models.
// Providers without it fall back to a static catalog.
type CatalogLister interface {
	ListModels(ctx context.Context, endpoint string, auth Auth) ([]CatalogModel, error)
}

// Auth holds authentication credentials for a provider.
type Auth struct {
	APIKey string `yaml:"api_key" json:"-"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth        Auth
	Endpoint    string
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ProviderResponse is the normalized response from a provider adapter.
type ProviderResponse struct {
	ID      string
	Content string
	Model   string
	Usage   Usage
}

// CatalogModel is one entry returned by a catalog listing.
type CatalogModel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
