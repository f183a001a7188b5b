package aidirector

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// defaultApp is the application name recorded when a call names none.
const defaultApp = "default"

// StatsTotals aggregates completed calls.
type StatsTotals struct {
	Calls     int64           `json:"calls"`
	Tokens    int64           `json:"tokens"`
	Cost      decimal.Decimal `json:"cost"`
	FreeCalls int64           `json:"free_calls"`
	PaidCalls int64           `json:"paid_calls"`
}

func (t *StatsTotals) add(tokens int64, cost decimal.Decimal, free bool) {
	t.Calls++
	t.Tokens += tokens
	t.Cost = t.Cost.Add(cost)
	if free {
		t.FreeCalls++
	} else {
		t.PaidCalls++
	}
}

// AverageCost returns Cost/Calls, or zero when there were no calls.
func (t StatsTotals) AverageCost() decimal.Decimal {
	if t.Calls == 0 {
		return decimal.Zero
	}
	return t.Cost.Div(decimal.NewFromInt(t.Calls))
}

// SessionStats is a snapshot of the in-memory session aggregates.
type SessionStats struct {
	StatsTotals
	AverageCostPerCall decimal.Decimal                   `json:"average_cost_per_call"`
	Providers          map[string]StatsTotals            `json:"providers"`
	Apps               map[string]map[string]StatsTotals `json:"apps"`
	Since              time.Time                         `json:"since"`
}

// StatsAccumulator aggregates call statistics for the lifetime of a process.
// It is never persisted.
type StatsAccumulator struct {
	mu        sync.Mutex
	totals    StatsTotals
	providers map[string]*StatsTotals
	apps      map[string]map[string]*StatsTotals
	since     time.Time
	now       func() time.Time
}

// NewStatsAccumulator creates an empty accumulator.
func NewStatsAccumulator() *StatsAccumulator {
	s := &StatsAccumulator{now: time.Now}
	s.reset()
	return s
}

// Add records one completed call.
func (s *StatsAccumulator) Add(provider, app string, tokens int64, cost decimal.Decimal, free bool) {
	if app == "" {
		app = defaultApp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals.add(tokens, cost, free)

	pt, ok := s.providers[provider]
	if !ok {
		pt = &StatsTotals{}
		s.providers[provider] = pt
	}
	pt.add(tokens, cost, free)

	byApp, ok := s.apps[provider]
	if !ok {
		byApp = make(map[string]*StatsTotals)
		s.apps[provider] = byApp
	}
	at, ok := byApp[app]
	if !ok {
		at = &StatsTotals{}
		byApp[app] = at
	}
	at.add(tokens, cost, free)
}

// Snapshot returns a deep copy of the aggregates.
func (s *StatsAccumulator) Snapshot() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := SessionStats{
		StatsTotals:        s.totals,
		AverageCostPerCall: s.totals.AverageCost(),
		Providers:          make(map[string]StatsTotals, len(s.providers)),
		Apps:               make(map[string]map[string]StatsTotals, len(s.apps)),
		Since:              s.since,
	}
	for name, t := range s.providers {
		out.Providers[name] = *t
	}
	for provider, byApp := range s.apps {
		m := make(map[string]StatsTotals, len(byApp))
		for app, t := range byApp {
			m[app] = *t
		}
		out.Apps[provider] = m
	}
	return out
}

// Reset zeroes every aggregate.
func (s *StatsAccumulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// reset must be called with the lock held.
func (s *StatsAccumulator) reset() {
	s.totals = StatsTotals{}
	s.providers = make(map[string]*StatsTotals)
	s.apps = make(map[string]map[string]*StatsTotals)
	s.since = s.now()
}
