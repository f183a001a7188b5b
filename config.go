package aidirector

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultRefreshInterval = 24 * time.Hour
	defaultStaleAfter      = 24 * time.Hour
	defaultSessionCaller   = "session"
	defaultMaxTokens       = 1000
	defaultTemperature     = 0.7
)

// Config is the top-level director configuration.
type Config struct {
	DefaultProvider string   `yaml:"default_provider"`
	FallbackOrder   []string `yaml:"fallback_order"`

	// FallbackOnQuota lets a call whose primary provider is rejected by the
	// admission check continue down the fallback order.
	FallbackOnQuota bool `yaml:"fallback_on_quota"`

	// SessionCaller is the caller id under which every call is also recorded.
	// Billing reads its at-limit flags.
	SessionCaller string `yaml:"session_caller"`

	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	Thresholds      Thresholds    `yaml:"thresholds"`

	// CriticalLimits maps a provider to the dimensions that gate admission.
	// Providers not listed are checked on every dimension.
	CriticalLimits map[string][]Dimension `yaml:"critical_limits"`

	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures a single upstream provider.
type ProviderConfig struct {
	Name            string   `yaml:"name" json:"name"`
	DisplayName     string   `yaml:"display_name" json:"display_name"`
	APIKey          string   `yaml:"api_key" json:"-"`
	BaseURL         string   `yaml:"base_url" json:"base_url"`
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	DefaultModel    string   `yaml:"default_model" json:"default_model"`
	MaxTokens       int      `yaml:"max_tokens" json:"max_tokens"`
	Temperature     float64  `yaml:"temperature" json:"temperature"`
	CostPer1kTokens float64  `yaml:"cost_per_1k_tokens" json:"cost_per_1k_tokens"`
	Models          []string `yaml:"models" json:"models,omitempty"`
}

// UnmarshalYAML applies provider defaults before decoding, so omitted
// fields keep enabled=true, max_tokens=1000 and temperature=0.7.
func (p *ProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ProviderConfig
	raw := plain{
		Enabled:     true,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = ProviderConfig(raw)
	return nil
}

// HasCredential reports whether an API key is configured.
func (p ProviderConfig) HasCredential() bool {
	return p.APIKey != ""
}

// Usable reports whether the provider may be called.
func (p ProviderConfig) Usable() bool {
	return p.Enabled && p.HasCredential()
}

// Auth returns the provider credential.
func (p ProviderConfig) Auth() Auth {
	return Auth{APIKey: p.APIKey}
}

// MaskedKey returns the credential with its middle elided, or "" if unset.
func (p ProviderConfig) MaskedKey() string {
	k := p.APIKey
	if len(k) <= 10 {
		return ""
	}
	head, tail := min(12, len(k)/2), min(8, len(k)/4)
	return k[:head] + "..." + k[len(k)-tail:]
}

var defaultCriticalLimits = map[string][]Dimension{
	"groq":     {RequestsPerMinute, TokensPerMinute},
	"together": {RequestsPerMinute, TokensPerMinute},
	"gemini":   {RequestsPerDay, TokensPerDay},
}

// DefaultConfig returns the built-in provider set. Credentials are read from
// ANTHROPIC_API_KEY, GROQ_API_KEY, GEMINI_API_KEY and TOGETHER_API_KEY.
func DefaultConfig() Config {
	cfg := Config{
		DefaultProvider: "claude",
		FallbackOrder:   []string{"claude", "groq", "gemini"},
		Providers: []ProviderConfig{
			{
				Name:            "claude",
				DisplayName:     "Claude 3.5 Sonnet",
				APIKey:          os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL:         "https://api.anthropic.com/v1",
				Enabled:         true,
				DefaultModel:    "claude-3-5-sonnet-20241022",
				MaxTokens:       defaultMaxTokens,
				Temperature:     defaultTemperature,
				CostPer1kTokens: 0.003,
			},
			{
				Name:            "groq",
				DisplayName:     "Groq Llama 3.1",
				APIKey:          os.Getenv("GROQ_API_KEY"),
				BaseURL:         "https://api.groq.com/openai/v1",
				Enabled:         true,
				DefaultModel:    "llama-3.1-8b-instant",
				MaxTokens:       defaultMaxTokens,
				Temperature:     defaultTemperature,
				CostPer1kTokens: 0.00027,
			},
			{
				Name:            "gemini",
				DisplayName:     "Gemini 1.5 Flash",
				APIKey:          os.Getenv("GEMINI_API_KEY"),
				BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
				Enabled:         true,
				DefaultModel:    "gemini-1.5-flash",
				MaxTokens:       defaultMaxTokens,
				Temperature:     defaultTemperature,
				CostPer1kTokens: 0.00035,
			},
			{
				Name:            "together",
				DisplayName:     "Together AI",
				APIKey:          os.Getenv("TOGETHER_API_KEY"),
				BaseURL:         "https://api.together.xyz/v1",
				Enabled:         true,
				DefaultModel:    "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free",
				MaxTokens:       defaultMaxTokens,
				Temperature:     defaultTemperature,
				CostPer1kTokens: 0.00088,
			},
		},
	}
	return cfg.WithDefaults()
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("aidirector: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("aidirector: parse config: %w", err)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.SessionCaller == "" {
		c.SessionCaller = defaultSessionCaller
	}
	c.Thresholds = c.Thresholds.orDefault()
	if c.DefaultProvider == "" && len(c.Providers) > 0 {
		c.DefaultProvider = c.Providers[0].Name
	}
	if len(c.FallbackOrder) == 0 {
		for _, p := range c.Providers {
			c.FallbackOrder = append(c.FallbackOrder, p.Name)
		}
	}
	return c
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("aidirector: config: at least one provider is required")
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("aidirector: config: providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("aidirector: config: duplicate provider %q", p.Name)
		}
		names[p.Name] = true

		if p.CostPer1kTokens < 0 {
			return fmt.Errorf("aidirector: config: providers[%d] (%s): cost_per_1k_tokens must not be negative", i, p.Name)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("aidirector: config: providers[%d] (%s): max_tokens must not be negative", i, p.Name)
		}
	}

	if c.DefaultProvider != "" && !names[c.DefaultProvider] {
		return fmt.Errorf("aidirector: config: default_provider %q is not configured", c.DefaultProvider)
	}
	for i, name := range c.FallbackOrder {
		if !names[name] {
			return fmt.Errorf("aidirector: config: fallback_order[%d]: unknown provider %q", i, name)
		}
	}

	for provider, dims := range c.CriticalLimits {
		if len(dims) == 0 {
			return fmt.Errorf("aidirector: config: critical_limits[%s]: at least one dimension is required", provider)
		}
		for _, d := range dims {
			if !d.Valid() {
				return fmt.Errorf("aidirector: config: critical_limits[%s]: unknown dimension %q", provider, d)
			}
		}
	}

	if c.Thresholds.Near > c.Thresholds.At {
		return fmt.Errorf("aidirector: config: thresholds: near (%.0f) must not exceed at (%.0f)", c.Thresholds.Near, c.Thresholds.At)
	}

	return nil
}

// CriticalDimensions returns the dimensions that gate admission for provider.
func (c Config) CriticalDimensions(provider string) []Dimension {
	if dims, ok := c.CriticalLimits[provider]; ok && len(dims) > 0 {
		return dims
	}
	if dims, ok := defaultCriticalLimits[provider]; ok {
		return dims
	}
	return AllDimensions
}

// Provider returns the config of the named provider.
func (c Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
