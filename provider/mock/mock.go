package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/aidirector"
)

// Provider is a mock AI provider for testing. It also lists a catalog.
type Provider struct {
	name         string
	models       []string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	listCount    atomic.Int64
	staticErr    error
	listErr      error
	usage        aidirector.Usage
	responseFunc func(aidirector.ProviderRequest) (aidirector.ProviderResponse, error)

	mu       sync.Mutex
	requests []aidirector.ProviderRequest
}

var (
	_ aidirector.Provider      = (*Provider)(nil)
	_ aidirector.CatalogLister = (*Provider)(nil)
)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   "mock",
		models: []string{"mock-model"},
		usage: aidirector.Usage{
			InputTokens:  10,
			OutputTokens: 20,
			TotalTokens:  30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithModels sets the catalog returned by ListModels.
func WithModels(models ...string) Option {
	return func(p *Provider) { p.models = models }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithListError makes ListModels return this error.
func WithListError(err error) Option {
	return func(p *Provider) { p.listErr = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u aidirector.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(aidirector.ProviderRequest) (aidirector.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Send(ctx context.Context, req aidirector.ProviderRequest) (aidirector.ProviderResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			p.callCount.Add(1)
			return aidirector.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return aidirector.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return aidirector.ProviderResponse{}, aidirector.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return aidirector.ProviderResponse{
		ID:      "mock-response-id",
		Content: "Hello from " + p.name,
		Usage:   p.usage,
		Model:   req.Model,
	}, nil
}

func (p *Provider) ListModels(_ context.Context, _ string, _ aidirector.Auth) ([]aidirector.CatalogModel, error) {
	p.listCount.Add(1)
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]aidirector.CatalogModel, len(p.models))
	for i, m := range p.models {
		out[i] = aidirector.CatalogModel{ID: m, DisplayName: m}
	}
	return out, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// ListCount returns the number of catalog listings made.
func (p *Provider) ListCount() int64 { return p.listCount.Load() }

// Requests returns every request received so far.
func (p *Provider) Requests() []aidirector.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]aidirector.ProviderRequest(nil), p.requests...)
}
