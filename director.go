package aidirector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Director routes prompts across AI providers under per-caller free-tier
// quotas and keeps the provider catalog and session statistics.
type Director struct {
	cfg      Config
	registry *Registry
	ledger   Ledger
	store    CatalogStore
	policy   Policy
	meter    Meter
	health   *HealthTracker
	stats    *StatsAccumulator
	logger   *slog.Logger
	now      func() time.Time

	mu              sync.RWMutex
	defaultProvider string

	ready     chan struct{}
	readyOnce sync.Once
	initErr   error
}

// Option configures a Director.
type Option func(*Director)

// WithLedger sets the quota ledger.
func WithLedger(l Ledger) Option {
	return func(d *Director) { d.ledger = l }
}

// WithStore sets the catalog store.
func WithStore(s CatalogStore) Option {
	return func(d *Director) { d.store = s }
}

// WithPolicy sets the fallback ordering policy.
func WithPolicy(p Policy) Option {
	return func(d *Director) { d.policy = p }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(d *Director) { d.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(d *Director) { d.health = h }
}

// WithLogger sets the logger used for fallback, catalog and seeding messages.
func WithLogger(l *slog.Logger) Option {
	return func(d *Director) { d.logger = l }
}

// WithClock overrides the wall clock. Ledgers carry their own clock.
func WithClock(now func() time.Time) Option {
	return func(d *Director) { d.now = now }
}

// New creates a Director for cfg. providers are the adapters that can be
// invoked; configured providers without an adapter are listed but never called.
// A Ledger and a CatalogStore are required.
func New(cfg Config, providers []Provider, opts ...Option) (*Director, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Director{
		cfg:             cfg,
		defaultProvider: cfg.DefaultProvider,
		ready:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.ledger == nil {
		return nil, fmt.Errorf("aidirector: ledger is required")
	}
	if d.store == nil {
		return nil, fmt.Errorf("aidirector: catalog store is required")
	}

	// Apply defaults after options.
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.policy == nil {
		d.policy = &fixedOrderPolicy{}
	}
	if d.meter == nil {
		d.meter = &noopMeter{}
	}
	if d.health == nil {
		d.health = NewHealthTracker()
		d.health.now = d.now
	}

	d.stats = NewStatsAccumulator()
	d.stats.now = d.now
	d.stats.Reset()

	d.registry = NewRegistry(cfg, providers, d.store, d.logger)
	d.registry.now = d.now

	return d, nil
}

// Init seeds an empty catalog, merges stored provider settings and refreshes
// stale catalogs, then marks the director ready. Catalog refresh failures are
// logged and do not fail Init.
func (d *Director) Init(ctx context.Context) error {
	err := d.init(ctx)
	d.readyOnce.Do(func() {
		d.initErr = err
		close(d.ready)
	})
	return err
}

func (d *Director) init(ctx context.Context) error {
	if err := d.seedIfEmpty(ctx); err != nil {
		return err
	}

	stored, err := d.store.Providers(ctx)
	if err != nil {
		return fmt.Errorf("aidirector: load providers: %w", err)
	}
	d.registry.Merge(stored)

	for _, p := range d.registry.Configs() {
		if _, err := d.registry.RefreshCatalog(ctx, p.Name, false); err != nil {
			d.logger.Warn("catalog refresh failed", "provider", p.Name, "error", err)
		}
	}
	return nil
}

// Ready is closed once Init has finished.
func (d *Director) Ready() <-chan struct{} {
	return d.ready
}

// WaitReady blocks until Init has finished and returns its error.
func (d *Director) WaitReady(ctx context.Context) error {
	select {
	case <-d.ready:
		return d.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry returns the provider registry.
func (d *Director) Registry() *Registry {
	return d.registry
}

// SetProvider changes the default provider. The provider must be usable.
func (d *Director) SetProvider(name string) error {
	if _, _, err := d.registry.Resolve(name); err != nil {
		return err
	}
	d.mu.Lock()
	d.defaultProvider = name
	d.mu.Unlock()
	return nil
}

// DefaultProvider returns the provider used when a call names none.
func (d *Director) DefaultProvider() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaultProvider
}

// AvailableProviders returns the providers that may be called now.
func (d *Director) AvailableProviders() []string {
	return d.registry.Available()
}

// ProviderStatus describes a configured provider.
type ProviderStatus struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	DefaultModel string `json:"default_model"`
	Enabled      bool   `json:"enabled"`
	HasAPIKey    bool   `json:"has_api_key"`
	MaskedKey    string `json:"masked_key,omitempty"`
	Available    bool   `json:"available"`
	Default      bool   `json:"default"`
	Health       string `json:"health"`
}

// Providers returns the status of every configured provider.
func (d *Director) Providers() []ProviderStatus {
	def := d.DefaultProvider()
	var out []ProviderStatus
	for _, p := range d.registry.Configs() {
		_, hasAdapter := d.registry.Adapter(p.Name)
		out = append(out, ProviderStatus{
			Name:         p.Name,
			DisplayName:  p.DisplayName,
			DefaultModel: p.DefaultModel,
			Enabled:      p.Enabled,
			HasAPIKey:    p.HasCredential(),
			MaskedKey:    p.MaskedKey(),
			Available:    hasAdapter && p.Usable(),
			Default:      p.Name == def,
			Health:       d.health.GetHealth(p.Name).String(),
		})
	}
	return out
}

// LogKeyStatus logs which providers have a credential, with keys masked.
func (d *Director) LogKeyStatus() {
	for _, s := range d.Providers() {
		if s.HasAPIKey {
			d.logger.Info("provider key", "provider", s.Name, "key", s.MaskedKey, "enabled", s.Enabled)
		} else {
			d.logger.Info("provider key missing", "provider", s.Name, "enabled", s.Enabled)
		}
	}
}

// Models returns the active catalog models of provider ordered by name.
func (d *Director) Models(ctx context.Context, provider string) ([]ModelRecord, error) {
	if _, ok := d.registry.Config(provider); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return d.registry.ListModels(ctx, provider)
}

// RefreshModels refreshes the catalog of provider, or of every provider when
// provider is empty, and returns the number of models seen per provider.
func (d *Director) RefreshModels(ctx context.Context, provider string, force bool) (map[string]int, error) {
	names := []string{provider}
	if provider == "" {
		names = names[:0]
		for _, p := range d.registry.Configs() {
			names = append(names, p.Name)
		}
	}

	out := make(map[string]int, len(names))
	var errs []error
	for _, name := range names {
		n, err := d.registry.RefreshCatalog(ctx, name, force)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = n
	}
	return out, errors.Join(errs...)
}

// limitsFor returns the free-tier limits of a model, zero when it has none.
func (d *Director) limitsFor(ctx context.Context, provider, model string) (Limits, error) {
	ft, found, err := d.store.FreeTier(ctx, provider, model)
	if err != nil {
		return Limits{}, fmt.Errorf("aidirector: load free tier %s/%s: %w", provider, model, err)
	}
	if !found || !ft.IsFree {
		return Limits{}, nil
	}
	return ft.Limits, nil
}

// UsageStatus returns today's usage of callerID on a provider model. A caller
// with no usage gets a zeroed snapshot.
func (d *Director) UsageStatus(ctx context.Context, provider, model, callerID string) (UsageSnapshot, error) {
	key := UsageKey{Provider: provider, Model: model, CallerID: callerID}
	rec, found, err := d.ledger.Status(ctx, key)
	if err != nil {
		return UsageSnapshot{}, fmt.Errorf("aidirector: usage status %s: %w", key, err)
	}
	if !found {
		limits, err := d.limitsFor(ctx, provider, model)
		if err != nil {
			return UsageSnapshot{}, err
		}
		rec = NewUsageRecord(key, limits, d.ledger.Now())
	}
	return rec.Snapshot(d.cfg.Thresholds), nil
}

// RecordUsage adds delta to today's usage of callerID on a provider model.
func (d *Director) RecordUsage(ctx context.Context, provider, model, callerID string, delta UsageDelta) (UsageSnapshot, error) {
	limits, err := d.limitsFor(ctx, provider, model)
	if err != nil {
		return UsageSnapshot{}, err
	}
	key := UsageKey{Provider: provider, Model: model, CallerID: callerID}
	rec, err := d.ledger.Record(ctx, key, limits, delta)
	if err != nil {
		return UsageSnapshot{}, fmt.Errorf("aidirector: record usage %s: %w", key, err)
	}
	return rec.Snapshot(d.cfg.Thresholds), nil
}

// Admission is the outcome of an admission check.
type Admission struct {
	Allowed   bool          `json:"allowed"`
	Dimension Dimension     `json:"dimension,omitempty"`
	Usage     UsageSnapshot `json:"usage"`
}

// IsAdmissible reports whether callerID may make one more request to a
// provider model. Only the provider's critical dimensions are checked and
// nothing is reserved.
func (d *Director) IsAdmissible(ctx context.Context, provider, model, callerID string) (Admission, error) {
	snap, err := d.UsageStatus(ctx, provider, model, callerID)
	if err != nil {
		return Admission{}, err
	}
	dim, blocked := snap.Blocking(d.cfg.CriticalDimensions(provider), d.cfg.Thresholds, Reservation{Requests: 1})
	return Admission{Allowed: !blocked, Dimension: dim, Usage: snap}, nil
}

// UsageSummary aggregates a caller's usage of one provider across models.
type UsageSummary struct {
	Provider          string          `json:"provider"`
	CallerID          string          `json:"caller_id"`
	TotalRequests     int64           `json:"total_requests"`
	TotalTokens       int64           `json:"total_tokens"`
	TotalAudioSeconds float64         `json:"total_audio_seconds"`
	Models            []UsageSnapshot `json:"models"`
	NearAnyLimit      bool            `json:"near_any_limit"`
	AtAnyLimit        bool            `json:"at_any_limit"`
}

// ProviderUsageSummary summarizes today's usage of callerID on provider.
func (d *Director) ProviderUsageSummary(ctx context.Context, provider, callerID string) (UsageSummary, error) {
	recs, err := d.ledger.Records(ctx, provider, callerID)
	if err != nil {
		return UsageSummary{}, fmt.Errorf("aidirector: usage records %s/%s: %w", provider, callerID, err)
	}

	sum := UsageSummary{Provider: provider, CallerID: callerID, Models: []UsageSnapshot{}}
	for _, rec := range recs {
		snap := rec.Snapshot(d.cfg.Thresholds)
		sum.TotalRequests += rec.Daily.Requests
		sum.TotalTokens += rec.Daily.Tokens
		sum.TotalAudioSeconds += rec.Daily.AudioSeconds
		sum.NearAnyLimit = sum.NearAnyLimit || snap.AnyNearLimit()
		sum.AtAnyLimit = sum.AtAnyLimit || snap.AnyAtLimit()
		sum.Models = append(sum.Models, snap)
	}
	return sum, nil
}

// SessionStats returns the statistics accumulated since start or the last reset.
func (d *Director) SessionStats() SessionStats {
	return d.stats.Snapshot()
}

// ResetSessionStats clears the session statistics. Persisted usage is untouched.
func (d *Director) ResetSessionStats() {
	d.stats.Reset()
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnRoute(RouteEvent)   {}
func (m *noopMeter) OnResult(ResultEvent) {}
