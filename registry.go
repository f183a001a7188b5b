package aidirector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Registry holds provider configuration and keeps the model catalog fresh.
// Catalog I/O never runs under the registry lock.
type Registry struct {
	mu       sync.RWMutex
	configs  map[string]ProviderConfig
	order    []string
	adapters map[string]Provider
	known    map[UsageKey]bool // models already present in the catalog

	store           CatalogStore
	refreshInterval time.Duration
	staleAfter      time.Duration
	now             func() time.Time
	logger          *slog.Logger

	group singleflight.Group
}

// NewRegistry creates a registry for the configured providers. adapters may
// cover only a subset of them.
func NewRegistry(cfg Config, adapters []Provider, store CatalogStore, logger *slog.Logger) *Registry {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		configs:         make(map[string]ProviderConfig, len(cfg.Providers)),
		adapters:        make(map[string]Provider, len(adapters)),
		known:           make(map[UsageKey]bool),
		store:           store,
		refreshInterval: cfg.RefreshInterval,
		staleAfter:      cfg.StaleAfter,
		now:             time.Now,
		logger:          logger,
	}
	for _, p := range cfg.Providers {
		r.configs[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Config returns the configuration of the named provider.
func (r *Registry) Config(name string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.configs[name]
	return p, ok
}

// Configs returns every provider configuration in declaration order.
func (r *Registry) Configs() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.configs[name])
	}
	return out
}

// Adapter returns the adapter registered for the named provider.
func (r *Registry) Adapter(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Resolve returns the configuration and adapter of a provider that may be
// called right now.
func (r *Registry) Resolve(name string) (ProviderConfig, Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	if !ok {
		return ProviderConfig{}, nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	adapter, ok := r.adapters[name]
	if !ok {
		return cfg, nil, fmt.Errorf("%w: no adapter registered for %q", ErrUnknownProvider, name)
	}
	if !cfg.Enabled {
		return cfg, adapter, fmt.Errorf("%w: %q", ErrProviderDisabled, name)
	}
	if !cfg.HasCredential() {
		return cfg, adapter, fmt.Errorf("%w: %q", ErrProviderNotConfigured, name)
	}
	return cfg, adapter, nil
}

// Available returns the names of providers that are enabled, have a
// credential and an adapter, in declaration order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		if _, ok := r.adapters[name]; ok && r.configs[name].Usable() {
			out = append(out, name)
		}
	}
	return out
}

// Merge applies stored provider settings on top of the loaded configuration.
// Credentials from the configuration are kept; stored providers that are not
// configured are added without one.
func (r *Registry) Merge(stored []ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range stored {
		cur, ok := r.configs[s.Name]
		if !ok {
			s.APIKey = ""
			r.configs[s.Name] = s
			r.order = append(r.order, s.Name)
			continue
		}
		cur.Enabled = s.Enabled
		if s.DefaultModel != "" {
			cur.DefaultModel = s.DefaultModel
		}
		if s.DisplayName != "" {
			cur.DisplayName = s.DisplayName
		}
		r.configs[s.Name] = cur
	}
}

// SetEnabled enables or disables a provider and persists the change.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return r.update(ctx, name, func(p *ProviderConfig) { p.Enabled = enabled })
}

// SetCredential replaces a provider's API key. Credentials are held in
// memory only.
func (r *Registry) SetCredential(ctx context.Context, name, apiKey string) error {
	return r.update(ctx, name, func(p *ProviderConfig) { p.APIKey = apiKey })
}

// SetDefaultModel changes the model used when a call names none.
func (r *Registry) SetDefaultModel(ctx context.Context, name, model string) error {
	return r.update(ctx, name, func(p *ProviderConfig) { p.DefaultModel = model })
}

func (r *Registry) update(ctx context.Context, name string, fn func(*ProviderConfig)) error {
	r.mu.Lock()
	cfg, ok := r.configs[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	fn(&cfg)
	r.configs[name] = cfg
	r.mu.Unlock()

	if err := r.store.UpsertProvider(ctx, cfg); err != nil {
		return fmt.Errorf("aidirector: persist provider %s: %w", name, err)
	}
	return nil
}

// NeedsRefresh reports whether provider has no active models or its oldest
// active model was checked longer ago than the refresh interval.
func (r *Registry) NeedsRefresh(ctx context.Context, provider string) (bool, error) {
	models, err := r.store.Models(ctx, provider)
	if err != nil {
		return false, fmt.Errorf("aidirector: load models of %s: %w", provider, err)
	}

	var oldest time.Time
	active := 0
	for _, m := range models {
		if !m.Active {
			continue
		}
		active++
		if oldest.IsZero() || m.LastChecked.Before(oldest) {
			oldest = m.LastChecked
		}
	}
	if active == 0 {
		return true, nil
	}
	return r.now().Sub(oldest) > r.refreshInterval, nil
}

// RefreshCatalog lists the provider's models and upserts them into the
// catalog, then deactivates records not seen for longer than the stale
// period. Concurrent refreshes of one provider share a single listing.
// It returns the number of models seen.
func (r *Registry) RefreshCatalog(ctx context.Context, provider string, force bool) (int, error) {
	v, err, _ := r.group.Do(provider, func() (any, error) {
		return r.refresh(ctx, provider, force)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Registry) refresh(ctx context.Context, provider string, force bool) (int, error) {
	cfg, ok := r.Config(provider)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	if !force {
		needed, err := r.NeedsRefresh(ctx, provider)
		if err != nil {
			return 0, err
		}
		if !needed {
			return 0, nil
		}
	}

	models := r.listModels(ctx, cfg)

	now := r.now()
	for _, m := range models {
		caps := CapabilitiesFor(provider, m.ID)
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		rec := ModelRecord{
			Provider:     provider,
			ModelID:      m.ID,
			Name:         name,
			Active:       true,
			LastChecked:  now,
			Capabilities: &caps,
		}
		if err := r.store.UpsertModel(ctx, rec); err != nil {
			return 0, fmt.Errorf("aidirector: upsert model %s/%s: %w", provider, m.ID, err)
		}
		r.markKnown(provider, m.ID)
	}

	deactivated, err := r.store.DeactivateModels(ctx, provider, now.Add(-r.staleAfter))
	if err != nil {
		return len(models), fmt.Errorf("aidirector: deactivate models of %s: %w", provider, err)
	}

	r.logger.Info("catalog refreshed", "provider", provider, "models", len(models), "deactivated", deactivated)
	return len(models), nil
}

// listModels asks the adapter for its catalog and falls back to the static
// list when it cannot list or the listing fails.
func (r *Registry) listModels(ctx context.Context, cfg ProviderConfig) []CatalogModel {
	adapter, ok := r.Adapter(cfg.Name)
	if !ok || !cfg.HasCredential() {
		return staticModels(cfg)
	}
	lister, ok := adapter.(CatalogLister)
	if !ok {
		return staticModels(cfg)
	}

	models, err := lister.ListModels(ctx, cfg.BaseURL, cfg.Auth())
	if err != nil {
		r.logger.Warn("catalog listing failed, using static list", "provider", cfg.Name, "error", err)
		return staticModels(cfg)
	}
	if len(models) == 0 {
		return staticModels(cfg)
	}
	return models
}

// ListModels returns the active models of provider ordered by name.
func (r *Registry) ListModels(ctx context.Context, provider string) ([]ModelRecord, error) {
	models, err := r.store.Models(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("aidirector: load models of %s: %w", provider, err)
	}
	active := models[:0]
	for _, m := range models {
		if m.Active {
			active = append(active, m)
		}
	}
	return active, nil
}

// EnsureModel creates a catalog record with inferred capabilities for a
// model the catalog has never seen.
func (r *Registry) EnsureModel(ctx context.Context, provider, model string) error {
	if model == "" || r.isKnown(provider, model) {
		return nil
	}

	models, err := r.store.Models(ctx, provider)
	if err != nil {
		return fmt.Errorf("aidirector: load models of %s: %w", provider, err)
	}
	for _, m := range models {
		r.markKnown(provider, m.ModelID)
	}
	if r.isKnown(provider, model) {
		return nil
	}

	caps := CapabilitiesFor(provider, model)
	rec := ModelRecord{
		Provider:     provider,
		ModelID:      model,
		Name:         model,
		Active:       true,
		LastChecked:  r.now(),
		Capabilities: &caps,
	}
	if err := r.store.UpsertModel(ctx, rec); err != nil {
		return fmt.Errorf("aidirector: upsert model %s/%s: %w", provider, model, err)
	}
	r.markKnown(provider, model)
	return nil
}

func (r *Registry) isKnown(provider, model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.known[UsageKey{Provider: provider, Model: model}]
}

func (r *Registry) markKnown(provider, model string) {
	r.mu.Lock()
	r.known[UsageKey{Provider: provider, Model: model}] = true
	r.mu.Unlock()
}
