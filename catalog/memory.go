// Package catalog provides an in-memory CatalogStore. A SQLite-backed store
// lives in the sqlite subpackage.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ineyio/aidirector"
)

type modelKey struct {
	provider string
	model    string
}

// MemoryStore is an in-memory aidirector.CatalogStore.
type MemoryStore struct {
	mu        sync.RWMutex
	providers map[string]aidirector.ProviderConfig
	models    map[modelKey]aidirector.ModelRecord
	pricing   map[modelKey]aidirector.PricingRecord
	freeTiers map[modelKey]aidirector.FreeTierRecord
}

var _ aidirector.CatalogStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[string]aidirector.ProviderConfig),
		models:    make(map[modelKey]aidirector.ModelRecord),
		pricing:   make(map[modelKey]aidirector.PricingRecord),
		freeTiers: make(map[modelKey]aidirector.FreeTierRecord),
	}
}

func (s *MemoryStore) Providers(_ context.Context) ([]aidirector.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]aidirector.ProviderConfig, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertProvider stores p without its credential.
func (s *MemoryStore) UpsertProvider(_ context.Context, p aidirector.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.APIKey = ""
	p.Models = append([]string(nil), p.Models...)
	s.providers[p.Name] = p
	return nil
}

func (s *MemoryStore) Models(_ context.Context, provider string) ([]aidirector.ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []aidirector.ModelRecord
	for k, m := range s.models {
		if provider != "" && k.provider != provider {
			continue
		}
		out = append(out, cloneModel(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out, nil
}

// UpsertModel stores m. Capabilities already on record are kept when m
// carries none.
func (s *MemoryStore) UpsertModel(_ context.Context, m aidirector.ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := modelKey{m.Provider, m.ModelID}
	if m.Capabilities == nil {
		m.Capabilities = s.models[k].Capabilities
	}
	s.models[k] = cloneModel(m)
	return nil
}

func (s *MemoryStore) DeactivateModels(_ context.Context, provider string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, m := range s.models {
		if k.provider != provider || !m.Active || !m.LastChecked.Before(cutoff) {
			continue
		}
		m.Active = false
		s.models[k] = m
		n++
	}
	return n, nil
}

func (s *MemoryStore) Pricing(_ context.Context, provider string) ([]aidirector.PricingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []aidirector.PricingRecord
	for k, p := range s.pricing {
		if provider == "" || k.provider == provider {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out, nil
}

func (s *MemoryStore) UpsertPricing(_ context.Context, p aidirector.PricingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing[modelKey{p.Provider, p.ModelID}] = p
	return nil
}

func (s *MemoryStore) FreeTier(_ context.Context, provider, model string) (aidirector.FreeTierRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.freeTiers[modelKey{provider, model}]
	return f, ok, nil
}

func (s *MemoryStore) FreeTiers(_ context.Context, provider string) ([]aidirector.FreeTierRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []aidirector.FreeTierRecord
	for k, f := range s.freeTiers {
		if provider == "" || k.provider == provider {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out, nil
}

func (s *MemoryStore) UpsertFreeTier(_ context.Context, f aidirector.FreeTierRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeTiers[modelKey{f.Provider, f.ModelID}] = f
	return nil
}

func cloneModel(m aidirector.ModelRecord) aidirector.ModelRecord {
	if m.Capabilities != nil {
		c := *m.Capabilities
		m.Capabilities = &c
	}
	return m
}
