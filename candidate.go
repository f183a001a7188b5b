package aidirector

import "context"

// fallbackCandidates lists the providers of the fallback order that may be
// tried after the providers in tried, each with its own default model.
// Unknown, disabled, keyless and circuit-open providers are skipped.
func (d *Director) fallbackCandidates(ctx context.Context, tried map[string]bool) []Candidate {
	var candidates []Candidate

	for i, name := range d.cfg.FallbackOrder {
		if tried[name] {
			continue
		}
		cfg, _, err := d.registry.Resolve(name)
		if err != nil {
			continue
		}
		health := d.health.GetHealth(name)
		if health == HealthUnhealthy {
			continue
		}

		c := Candidate{
			Provider:        name,
			Model:           cfg.DefaultModel,
			CostPer1kTokens: cfg.CostPer1kTokens,
			Health:          health,
			Position:        i,
		}
		c.Free, c.Remaining = d.freeRemaining(ctx, name, cfg.DefaultModel)
		candidates = append(candidates, c)
	}

	return candidates
}

// freeRemaining reports whether the model's free tier is open for the
// session caller and how many free requests are left today.
func (d *Director) freeRemaining(ctx context.Context, provider, model string) (bool, int64) {
	ft, found, err := d.store.FreeTier(ctx, provider, model)
	if err != nil || !found || !ft.IsFree {
		return false, 0
	}
	snap, err := d.UsageStatus(ctx, provider, model, d.cfg.SessionCaller)
	if err != nil {
		return false, 0
	}
	var remaining int64
	if limit := ft.Limits.RequestsPerDay; limit > 0 {
		remaining = max(limit-snap.Daily.Requests, 0)
	}
	return !snap.AnyAtLimit(), remaining
}
